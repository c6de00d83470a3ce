package grpc

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported to grpc.health.v1 checks alongside the
// overall ("") status.
const ServiceName = "storefront.orders"

// Server exposes the standard gRPC health service so orchestrators can
// probe the order service.
type Server struct {
	gs     *grpc.Server
	health *health.Server
}

func NewServer() *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{gs: gs, health: hs}
}

// SetServing flips both the overall and the service status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func Run(log *slog.Logger, addr string, srv *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv.serve(log, lis)
	return nil
}

func (s *Server) serve(log *slog.Logger, lis net.Listener) {
	go func() {
		log.Info("grpc listening", "addr", lis.Addr().String())
		if err := s.gs.Serve(lis); err != nil {
			log.Error("grpc server error", "err", err)
		}
	}()
}

// Stop marks the service as not serving and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.gs.GracefulStop()
}
