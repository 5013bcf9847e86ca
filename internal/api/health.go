package api

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"ringproxy/internal/logging"
)

const (
	LivenessCheckService  = "liveness"
	ReadinessCheckService = "readiness"
)

// HealthServer answers grpc.health.v1 checks for the balancer. Liveness only
// needs the process to answer; readiness needs at least one alive replica.
type HealthServer struct {
	members Membership
	logger  logr.Logger
}

// NewHealthServer creates the balancer health service.
func NewHealthServer(members Membership, logger logr.Logger) *HealthServer {
	return &HealthServer{members: members, logger: logger.WithName("health")}
}

func (s *HealthServer) Check(_ context.Context, in *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	var checkName string
	var isPassing bool
	alive := s.members.Snapshot().AliveCount()

	switch in.Service {
	case LivenessCheckService:
		checkName = "liveness"
		isPassing = true
	case ReadinessCheckService:
		checkName = "readiness"
		isPassing = alive > 0
	case "": // Overall health, used by load balancers that send no service name.
		checkName = "overall"
		isPassing = alive > 0
	default:
		s.logger.V(logging.DEFAULT).Info("gRPC health check requested unknown service",
			"available-services", []string{LivenessCheckService, ReadinessCheckService}, "requested-service", in.Service)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN}, nil
	}

	if !isPassing {
		s.logger.V(logging.DEFAULT).Info(fmt.Sprintf("gRPC %s check not serving", checkName), "service", in.Service, "aliveReplicas", alive)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}

	s.logger.V(logging.TRACE).Info(fmt.Sprintf("gRPC %s check serving", checkName), "service", in.Service)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (s *HealthServer) List(ctx context.Context, _ *healthpb.HealthListRequest) (*healthpb.HealthListResponse, error) {
	statuses := make(map[string]*healthpb.HealthCheckResponse)
	for _, service := range []string{LivenessCheckService, ReadinessCheckService} {
		resp, err := s.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return nil, err
		}
		statuses[service] = resp
	}
	return &healthpb.HealthListResponse{Statuses: statuses}, nil
}

func (s *HealthServer) Watch(_ *healthpb.HealthCheckRequest, _ healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch is not implemented")
}
