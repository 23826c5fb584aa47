package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/config"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
	"github.com/Clark-Hu/reel-ledger/internal/store"
)

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	store    *store.Store
	svc      *reconcile.Service
	gatherer prometheus.Gatherer
	metrics  *httpMetrics
	logger   logrus.FieldLogger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes. st may be nil when
// persistence is disabled. reg receives the HTTP metrics and is served on /metrics.
func New(cfg config.Config, st *store.Store, svc *reconcile.Service, reg *prometheus.Registry, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		svc:      svc,
		gatherer: reg,
		metrics:  newHTTPMetrics(reg),
		logger:   logger.WithField("component", "http"),
	}

	if cfg.OperatorToken == "" {
		s.logger.Warn("HTTP_OPERATOR_TOKEN is unset; any caller naming a held address can sign with it")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	s.router = r
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Route("/movies", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/listings/{category}", s.handleListing)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMovie)
			r.Get("/rating", s.handleGetRating)
			r.Get("/similar", s.handleSimilar)
			r.With(s.requireOperator).Post("/ratings", s.handleSubmitRating)
			r.With(s.requireOperator).Post("/reviews", s.handleSubmitReview)
			r.With(s.requireOperator).Post("/reviews/{reviewId}/like", s.handleLike)
			r.With(s.requireOperator).Delete("/reviews/{reviewId}/like", s.handleUnlike)
		})
	})
	s.router.Route("/submissions", func(r chi.Router) {
		r.Get("/", s.handleListSubmissions)
		r.Get("/{sid}", s.handleGetSubmission)
		r.With(s.requireOperator).Post("/{sid}/ack", s.handleAcknowledge)
		r.With(s.requireOperator).Delete("/{sid}", s.handleCancel)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpSrv.Addr).Info("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.WithError(err).Warn("health check failed")
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Database unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
