package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
)

const shutdownTimeout = 10 * time.Second

// HealthCheck reports whether one backing dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	router   *chi.Mux
	port     int
	svc      *moderation.Service
	apiToken string
	metrics  http.Handler
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

type Option func(*Server)

// WithAPIToken requires a shared bearer token on every /api/v1 route.
func WithAPIToken(token string) Option {
	return func(s *Server) { s.apiToken = token }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func NewServer(port int, svc *moderation.Service, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		port:   port,
		svc:    svc,
		checks: map[string]HealthCheck{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := s.router
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.health)
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(s.apiToken))

		// Called by the user service, not by end users.
		r.Post("/users", s.registerUser)

		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware)

			r.Get("/users/{id}/trust", s.userTrust)

			r.Route("/flags", func(r chi.Router) {
				r.Post("/", s.submitFlag)
				r.Get("/quota", s.quota)
				r.Get("/{id}", s.getFlag)
				r.Post("/{id}/resubmit", s.resubmitFlag)
				r.With(RequireModerator).Post("/{id}/decision", s.decideFlag)
			})

			r.Route("/moderation", func(r chi.Router) {
				r.Use(RequireModerator)
				r.Get("/queue", s.queue)
				r.Post("/expire-need-info", s.expireNeedInfo)
			})
		})
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	if len(s.checks) > 0 {
		results := make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(r.Context()); err != nil {
				s.logger.Warn("health check failed", "check", name, "error", err)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				continue
			}
			results[name] = "ok"
		}
		body["checks"] = results
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
