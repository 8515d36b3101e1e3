package server

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer serves the standard health service and reflection. Health
// stays reachable without a token so probes work when auth is on.
func (s *SessionServer) NewGRPCServer(authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(s.logger),
			LoggingInterceptor(s.logger),
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(s.logger),
			StreamLoggingInterceptor(s.logger),
			StreamAuthInterceptor(authToken),
		),
	)
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
	return srv
}
