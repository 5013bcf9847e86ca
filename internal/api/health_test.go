package api

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ringproxy/internal/lifecycle"
)

func TestHealthServer_Check(t *testing.T) {
	env := newTestEnv(t, lifecycle.NewInProcess(logr.Discard()))
	hs := NewHealthServer(env.manager, logr.Discard())

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) error = %v", service, err)
		}
		return resp.GetStatus()
	}

	tests := []struct {
		service string
		empty   healthpb.HealthCheckResponse_ServingStatus
		ready   healthpb.HealthCheckResponse_ServingStatus
	}{
		{LivenessCheckService, healthpb.HealthCheckResponse_SERVING, healthpb.HealthCheckResponse_SERVING},
		{ReadinessCheckService, healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_SERVING},
		{"", healthpb.HealthCheckResponse_NOT_SERVING, healthpb.HealthCheckResponse_SERVING},
		{"unknown", healthpb.HealthCheckResponse_SERVICE_UNKNOWN, healthpb.HealthCheckResponse_SERVICE_UNKNOWN},
	}

	for _, tt := range tests {
		if got := check(tt.service); got != tt.empty {
			t.Errorf("Check(%q) with no replicas = %v, want %v", tt.service, got, tt.empty)
		}
	}

	if _, err := env.manager.Add(context.Background(), 1, nil); err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		if got := check(tt.service); got != tt.ready {
			t.Errorf("Check(%q) with a replica = %v, want %v", tt.service, got, tt.ready)
		}
	}

	list, err := hs.List(context.Background(), &healthpb.HealthListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.GetStatuses()) != 2 {
		t.Errorf("List() returned %d services, want 2", len(list.GetStatuses()))
	}
}
