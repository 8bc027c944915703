package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/core"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/query"
	"LyraeLedger/internal/state"
)

// Ledger is the engine surface the server exposes. *core.Engine implements it.
type Ledger interface {
	Account(id uuid.UUID) (*state.Account, bool)
	Health(id uuid.UUID) (core.AccountHealth, error)
	BookDepth(market, depth int) (bids, asks []book.Level, err error)
	Sequence() int64
	StateHash() [32]byte
	InsuranceFund() uint64
	Submit(in intent.Intent) (core.Result, error)
}

// Deps holds everything the server needs. Audit is optional; without it the
// audit routes answer 503.
type Deps struct {
	Ledger   Ledger
	Audit    *query.AuditService
	Checker  *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

// Server wraps the gRPC server (health and reflection) and the grpc-gateway
// HTTP mux serving the JSON API.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	handler    http.Handler
	log        zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	if deps.Ledger == nil {
		return nil, errors.New("server needs a ledger")
	}
	if deps.Checker == nil {
		deps.Checker = observability.NewHealthChecker()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(grpcServer)

	gw := runtime.NewServeMux()
	api := &api{deps: deps}
	if err := api.register(gw); err != nil {
		return nil, err
	}

	root := http.NewServeMux()
	root.HandleFunc("/healthz", deps.Checker.LivenessHandler)
	root.HandleFunc("/readyz", deps.Checker.ReadinessHandler)
	root.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	root.Handle("/", gw)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		handler:    root,
		log:        deps.Log,
	}, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// SetServing flips the gRPC health status once recovery is done.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// StartGRPC serves gRPC until ctx is done.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is done.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// In-flight handlers may still submit intents; StartHTTP returns only
	// after they finish.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}
