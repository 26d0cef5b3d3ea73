package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shohag/formhook/internal/config"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/storage"
)

// Deliveries is the part of the delivery engine the API drives.
type Deliveries interface {
	TriggerSubmission(ctx context.Context, formUID, submissionID string) ([]models.HookLog, error)
	Retry(ctx context.Context, logID string) (*models.HookLog, error)
	RetryFailed(ctx context.Context, hookID string) (int, error)
	ForceFail(ctx context.Context, logID string) (*models.HookLog, error)
}

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	deliveries Deliveries
	gatherer   prometheus.Gatherer
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, deliveries Deliveries, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		deliveries: deliveries,
		gatherer:   gatherer,
		log:        log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	formHandler := NewFormHandler(s.store)
	subHandler := NewSubmissionHandler(s.store, s.deliveries)
	hookHandler := NewHookHandler(s.store, s.deliveries)
	logHandler := NewLogHandler(s.store, s.deliveries)
	statsHandler := NewStatsHandler(s.store)

	r.Get("/health", statsHandler.Health)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Forms and submissions
		r.Post("/forms", formHandler.Create)
		r.Get("/forms", formHandler.List)
		r.Get("/forms/{uid}", formHandler.Get)
		r.Post("/forms/{uid}/submissions", subHandler.Create)

		// Hooks
		r.Post("/forms/{uid}/hooks", hookHandler.Create)
		r.Get("/forms/{uid}/hooks", hookHandler.List)
		r.Get("/hooks/{id}", hookHandler.Get)
		r.Put("/hooks/{id}", hookHandler.Update)
		r.Delete("/hooks/{id}", hookHandler.Delete)
		r.Patch("/hooks/{id}/toggle", hookHandler.Toggle)
		r.Post("/hooks/{id}/retry", hookHandler.RetryFailed)
		r.Get("/hooks/{id}/stats", statsHandler.HookStats)

		// Logs
		r.Get("/hooks/{id}/logs", logHandler.List)
		r.Get("/logs/{id}", logHandler.Get)
		r.Post("/logs/{id}/retry", logHandler.Retry)
		r.Post("/logs/{id}/fail", logHandler.Fail)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
