package statusd

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service reporting calibration state.
const ServiceName = "prms.calibration"

// NewGRPCServer returns a gRPC server exposing the standard health service.
// The overall server reports SERVING; ServiceName reports SERVING while a
// calibration is running on store and NOT_SERVING otherwise.
func NewGRPCServer(store *Store, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, servingStatus(store.Running()))
	store.setOnChange(func(running bool) {
		hs.SetServingStatus(ServiceName, servingStatus(running))
	})
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

func servingStatus(running bool) healthpb.HealthCheckResponse_ServingStatus {
	if running {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
