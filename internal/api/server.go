// Package api exposes the balancer over HTTP: routed requests are proxied to
// the replica chosen by the router, membership is changed through /add and
// /rm.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"ringproxy/internal/membership"
	"ringproxy/internal/routing"
)

// Membership is the part of the membership manager the API drives.
type Membership interface {
	Snapshot() *membership.Snapshot
	Add(ctx context.Context, n int, hostnames []string) (*membership.AddResult, error)
	Remove(ctx context.Context, n int, hostnames []string) (*membership.RemoveResult, error)
}

// Server holds the gin engine of the balancer.
type Server struct {
	members Membership
	router  *routing.Router
	proxy   *proxy
	logger  logr.Logger
	engine  *gin.Engine
}

// NewServer builds the balancer HTTP surface.
func NewServer(members Membership, router *routing.Router, logger logr.Logger) *Server {
	s := &Server{
		members: members,
		router:  router,
		logger:  logger.WithName("api"),
	}
	s.proxy = newProxy(s.logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.logger))

	engine.GET("/home", s.handleHome)
	engine.GET("/heartbeat", s.handleHeartbeat)
	engine.GET("/rep", s.handleReplicas)
	engine.POST("/add", s.handleAdd)
	engine.DELETE("/rm", s.handleRemove)
	engine.GET("/:path", s.handlePath)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler of the balancer.
func (s *Server) Handler() http.Handler {
	return s.engine
}
