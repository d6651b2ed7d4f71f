package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/camuig/volscan/internal/config"
	"github.com/camuig/volscan/internal/metrics"
	"github.com/camuig/volscan/internal/stats"
	"github.com/camuig/volscan/internal/storage"
	"github.com/camuig/volscan/internal/tracker"
)

type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	tracker    *tracker.Tracker
	stats      *stats.Aggregator
	repo       *storage.Repository
	metrics    *metrics.Recorder
	config     *config.Config
	logger     zerolog.Logger
	validate   *validator.Validate
	dashboard  *template.Template
}

func NewServer(
	tr *tracker.Tracker,
	agg *stats.Aggregator,
	repo *storage.Repository,
	rec *metrics.Recorder,
	cfg *config.Config,
	log zerolog.Logger,
) (*Server, error) {
	tmpl, err := template.New("dashboard.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		tracker:   tr,
		stats:     agg,
		repo:      repo,
		metrics:   rec,
		config:    cfg,
		logger:    log.With().Str("component", "web").Logger(),
		validate:  validator.New(),
		dashboard: tmpl,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleDashboard)
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/signals/latest", s.handleLatestSignals)
		r.Get("/scans", s.handleScans)

		r.Route("/predictions", func(r chi.Router) {
			r.Get("/", s.handleListPredictions)
			r.Post("/sweep", s.handleSweep)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPrediction)
				r.Delete("/", s.handleDeletePrediction)
				r.Post("/resolve", s.handleResolve)
				r.Post("/cancel", s.handleCancel)
			})
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info().Int("port", s.config.Web.Port).Msg("web server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down web server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(route, r.Method, status, elapsed)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
