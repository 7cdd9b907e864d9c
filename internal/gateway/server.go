// Package gateway implements the ingress HTTP server: guard rails,
// platform resolution, idempotency claim, envelope construction, and
// publish to the bus. Its HTTP server lifecycle (listen, serve,
// graceful shutdown) follows the teacher's internal/gateway/
// http_server.go startHTTPServer/stopHTTPServer split.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greentic/gsm-gateway/internal/adapters"
	"github.com/greentic/gsm-gateway/internal/bus"
	"github.com/greentic/gsm-gateway/internal/dlq"
	"github.com/greentic/gsm-gateway/internal/idempotency"
	"github.com/greentic/gsm-gateway/internal/observability"
	"github.com/greentic/gsm-gateway/internal/ratelimit"
	"github.com/greentic/gsm-gateway/internal/secrets"
	"github.com/greentic/gsm-gateway/internal/subject"
)

// GuardConfig holds the shared-secret guard rail settings. Any zero
// value disables that guard rail.
type GuardConfig struct {
	Bearer     string
	HMACSecret string
	HMACHeader string
}

// Config is everything Server needs to build its routes.
type Config struct {
	Addr            string
	Env             string
	Namer           *subject.Namer
	MaxBodyBytes    int64
	Guards          GuardConfig
	IdempotencyTTL  time.Duration
}

// Server is the ingress gateway's HTTP server.
type Server struct {
	cfg       Config
	bus       bus.Client
	idemp     *idempotency.Guard
	limiter   *ratelimit.Hybrid
	resolver  secrets.Resolver
	dlqPub    *dlq.Publisher
	adapters  map[string]adapters.Adapter
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	events    *observability.EventLogger

	registrations *tenantRegistration

	httpServer   *http.Server
	httpListener net.Listener
}

// New builds a Server wired to its collaborators. adapterSet maps
// platform identifier (e.g. "slack") to the adapter implementation.
func New(
	cfg Config,
	busClient bus.Client,
	idemp *idempotency.Guard,
	limiter *ratelimit.Hybrid,
	resolver secrets.Resolver,
	dlqPub *dlq.Publisher,
	adapterSet map[string]adapters.Adapter,
	logger *slog.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	events *observability.EventLogger,
) *Server {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:           cfg,
		bus:           busClient,
		idemp:         idemp,
		limiter:       limiter,
		resolver:      resolver,
		dlqPub:        dlqPub,
		adapters:      adapterSet,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
		events:        events,
		registrations: newTenantRegistration(),
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/", s.handleIngress)
	mux.HandleFunc("/admin/", s.handleAdmin)
	return mux
}

// Start begins listening and serving in the background. It returns
// once the listener is bound, mirroring the teacher's
// startHTTPServer's synchronous-bind/async-serve split.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.cfg.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway: http server error", "error", err)
		}
	}()

	s.logger.Info("gateway: listening", "addr", s.cfg.Addr)
	return nil
}

// Stop gracefully drains in-flight requests before closing.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("gateway: shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
