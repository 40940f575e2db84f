// Package api implements the HTTP facade: multipart submission, status
// lookup with optional inline content, listing, cancellation, queue
// stats, admin maintenance triggers, health, and a supplemental
// websocket stats stream, following the teacher's gorilla/mux web UI
// server shape.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parsehaven/docforge/pkg/auth"
	"github.com/parsehaven/docforge/pkg/logging"
	"github.com/parsehaven/docforge/pkg/metrics"
	"github.com/parsehaven/docforge/pkg/queue"
	"github.com/parsehaven/docforge/pkg/resilience"
)

// Config configures the facade's request handling, independent of
// network binding (the caller's cmd/ binary owns the listener).
type Config struct {
	UploadRoot       string
	OutputRoot       string
	MaxUploadSize    int64
	RequestTimeout   time.Duration
	DefaultListLimit int
	MaxListLimit     int
}

func (c Config) withDefaults() Config {
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 500 * 1024 * 1024
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 300 * time.Second
	}
	if c.DefaultListLimit <= 0 {
		c.DefaultListLimit = 50
	}
	if c.MaxListLimit <= 0 {
		c.MaxListLimit = 500
	}
	return c
}

// Server holds every dependency the HTTP handlers call into.
type Server struct {
	cfg      Config
	queue    *queue.Service
	breakers *resilience.BreakerRegistry
	metrics  *metrics.Registry
	gatherer prometheus.Gatherer
	health   *resilience.HealthMonitor
	log      *logging.Logger

	wsUpgrader websocket.Upgrader
}

// New builds a Server. breakers may be nil to omit breaker state from
// /health. m is kept on the Server but no handler records to it.
// gatherer may be nil to omit the /metrics endpoint entirely.
func New(cfg Config, svc *queue.Service, breakers *resilience.BreakerRegistry, m *metrics.Registry, gatherer prometheus.Gatherer, log *logging.Logger) *Server {
	health := resilience.NewHealthMonitor(nil)
	health.RegisterComponent("store", func(ctx context.Context) error {
		_, err := svc.Stats(ctx, auth.ForRole("health-check", auth.RoleAdmin))
		return err
	})

	return &Server{
		cfg:      cfg.withDefaults(),
		queue:    svc,
		breakers: breakers,
		metrics:  m,
		gatherer: gatherer,
		health:   health,
		log:      log.WithComponent("api"),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Close stops the background health-check loop. The HTTP server itself
// is owned and shut down by the caller.
func (s *Server) Close() {
	s.health.Stop()
}

// Router builds the gorilla/mux router with every route wired through
// the standard middleware chain. limiter may be nil to disable rate
// limiting (e.g. in tests).
func (s *Server) Router(limiter rateLimiter) http.Handler {
	root := mux.NewRouter()
	v1 := root.PathPrefix("/api/v1").Subrouter()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return chain(h,
			withRequestID,
			withAccessLog(s.log),
			withRateLimit(limiter),
			withPrincipal,
			withTimeout(s.cfg.RequestTimeout),
		)
	}

	v1.HandleFunc("/tasks/submit", wrap(s.handleSubmit)).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}", wrap(s.handleGetTask)).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", wrap(s.handleCancelTask)).Methods(http.MethodDelete)
	v1.HandleFunc("/tasks/{id}/events", wrap(s.handleTaskEvents)).Methods(http.MethodGet)
	v1.HandleFunc("/queue/tasks", wrap(s.handleListTasks)).Methods(http.MethodGet)
	v1.HandleFunc("/queue/stats", wrap(s.handleQueueStats)).Methods(http.MethodGet)
	v1.HandleFunc("/queue/stream", s.handleQueueStream).Methods(http.MethodGet)
	v1.HandleFunc("/admin/queue/reset-stale", wrap(s.handleResetStale)).Methods(http.MethodPost)
	v1.HandleFunc("/admin/queue/cleanup", wrap(s.handleCleanup)).Methods(http.MethodPost)

	root.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		root.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return root
}
