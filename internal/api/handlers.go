package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ringproxy/internal/membership"
	"ringproxy/internal/routing"
)

const (
	statusSuccessful = "successful"
	statusFailure    = "failure"
)

// Messages returned to clients, kept identical to the original service.
const (
	msgUnavailable        = "Server currently unavailable"
	msgNoServer           = "No available server found"
	msgInvalidAddCount    = "Invalid number of new instances"
	msgAddTooManyNames    = "Hostname list cannot be longer than new instances"
	msgInvalidRemoveCount = "Invalid number of replicas to remove"
	msgRemoveTooManyNames = "Hostname list cannot be longer than replicas to remove"
	msgAddFailed          = "Error adding replicas"
	msgRemoveFailed       = "Error removing replicas"
)

// Response is the envelope of every JSON response.
type Response struct {
	Message any    `json:"message"`
	Status  string `json:"status"`
}

// ReplicaInfo describes one registered replica.
type ReplicaInfo struct {
	Hostname        string `json:"hostname"`
	InternalAddress string `json:"internalAddress"`
	State           string `json:"state"`
	Slots           []int  `json:"slots,omitempty"`
}

// StatusMessage is the payload of /rep.
type StatusMessage struct {
	N        int           `json:"N"`
	Replicas []ReplicaInfo `json:"replicas"`
}

// MembershipMessage is the payload of /add and /rm.
type MembershipMessage struct {
	N        int      `json:"N"`
	Replicas []string `json:"replicas"`
	Failed   []string `json:"failed,omitempty"`
}

// MembershipRequest is the body of /add and /rm. N is a pointer so that a
// missing count is distinguishable from zero.
type MembershipRequest struct {
	N         *int     `json:"n"`
	Hostnames []string `json:"hostnames"`
}

func (s *Server) handleHome(c *gin.Context) {
	rep, err := s.router.ServerForRequest(c.Query("key"))
	if err != nil {
		c.String(http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	s.proxy.forward(c.Writer, c.Request, rep)
}

func (s *Server) handlePath(c *gin.Context) {
	rep, err := s.router.ServerForRequest(c.Param("path"))
	if err != nil {
		if errors.Is(err, routing.ErrNoServer) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": msgNoServer})
			return
		}
		abortWithFailure(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.proxy.forward(c.Writer, c.Request, rep)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) handleReplicas(c *gin.Context) {
	snap := s.members.Snapshot()
	replicas := make([]ReplicaInfo, 0, snap.Len())
	for _, rep := range snap.Replicas() {
		replicas = append(replicas, ReplicaInfo{
			Hostname:        rep.Hostname,
			InternalAddress: rep.Endpoint.HTTPAddr(),
			State:           rep.State().String(),
			Slots:           snap.Slots(rep.Hostname),
		})
	}
	c.JSON(http.StatusOK, Response{
		Message: StatusMessage{N: len(replicas), Replicas: replicas},
		Status:  statusSuccessful,
	})
}

func (s *Server) handleAdd(c *gin.Context) {
	req, ok := bindMembershipRequest(c, msgInvalidAddCount)
	if !ok {
		return
	}

	result, err := s.members.Add(c.Request.Context(), *req.N, req.Hostnames)
	if err != nil {
		s.writeMembershipError(c, err, msgInvalidAddCount, msgAddTooManyNames, msgAddFailed)
		return
	}
	c.JSON(http.StatusOK, Response{
		Message: MembershipMessage{
			N:        len(result.Replicas),
			Replicas: result.Replicas,
			Failed:   result.Failed,
		},
		Status: statusSuccessful,
	})
}

func (s *Server) handleRemove(c *gin.Context) {
	req, ok := bindMembershipRequest(c, msgInvalidRemoveCount)
	if !ok {
		return
	}

	result, err := s.members.Remove(c.Request.Context(), *req.N, req.Hostnames)
	if err != nil {
		s.writeMembershipError(c, err, msgInvalidRemoveCount, msgRemoveTooManyNames, msgRemoveFailed)
		return
	}
	replicas := append(append([]string(nil), result.Remaining...), result.Random...)
	c.JSON(http.StatusOK, Response{
		Message: MembershipMessage{
			N:        len(result.Remaining),
			Replicas: replicas,
		},
		Status: statusSuccessful,
	})
}

// bindMembershipRequest decodes the body and rejects a missing count.
func bindMembershipRequest(c *gin.Context, invalidCount string) (*MembershipRequest, bool) {
	var req MembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.N == nil {
		abortWithFailure(c, http.StatusBadRequest, invalidCount)
		return nil, false
	}
	return &req, true
}

func (s *Server) writeMembershipError(c *gin.Context, err error, invalidCount, tooManyNames, internal string) {
	switch {
	case errors.Is(err, membership.ErrInvalidCount):
		abortWithFailure(c, http.StatusBadRequest, invalidCount)
	case errors.Is(err, membership.ErrTooManyHostnames):
		abortWithFailure(c, http.StatusBadRequest, tooManyNames)
	case errors.Is(err, membership.ErrInvalidRequest):
		abortWithFailure(c, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(err, internal, "path", c.Request.URL.Path)
		abortWithFailure(c, http.StatusInternalServerError, internal)
	}
}

func contextWithReplica(ctx context.Context, rep *membership.Replica) context.Context {
	return context.WithValue(ctx, replicaKey{}, rep)
}
