package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/habitloop/notifier/internal/cache"
	"github.com/habitloop/notifier/internal/logstore"
	"github.com/habitloop/notifier/internal/models"
	"github.com/habitloop/notifier/internal/transport"
)

// Processor runs the notification pipeline on demand.
type Processor interface {
	Process(ctx context.Context, id string) (*models.DeliveryResult, error)
	ProcessAll(ctx context.Context, now time.Time) (*models.RunResult, error)
	SendToSegment(ctx context.Context, seg models.SegmentDescriptor, channel string, payload *transport.Payload) (*models.SegmentSendResult, error)
}

// Scanner lists due and overdue notifications without mutating them.
type Scanner interface {
	FindDue(ctx context.Context, now time.Time) ([]models.ScheduledNotification, error)
	FindOverdue(ctx context.Context, now time.Time) ([]models.ScheduledNotification, error)
}

// NotificationStore is the admin CRUD surface over scheduled notifications.
type NotificationStore interface {
	Create(n *models.ScheduledNotification) error
	GetByID(ctx context.Context, id string) (*models.ScheduledNotification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.ScheduledNotification, int, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

// SegmentService validates descriptors and computes per-segment counts.
type SegmentService interface {
	Validate(seg models.SegmentDescriptor) error
	Counts(ctx context.Context) (map[string]int, error)
}

// DeliveryLogReader reads the durable per-attempt delivery trail.
type DeliveryLogReader interface {
	ListByNotification(ctx context.Context, notificationID string, limit int) ([]*logstore.Entry, error)
	GetRollup(ctx context.Context, notificationID string) (*logstore.Rollup, error)
}

// Server is the HTTP API server
type Server struct {
	router        *chi.Mux
	httpServer    *http.Server
	processor     Processor
	scanner       Scanner
	notifications NotificationStore
	segments      SegmentService
	logs          DeliveryLogReader
	cache         cache.Cache
	validate      *validator.Validate
	listenAddr    string
	logger        *slog.Logger
	startTime     time.Time
}

// NewServer creates a new API server
func NewServer(p Processor, sc Scanner, store NotificationStore, segments SegmentService, logs DeliveryLogReader, c cache.Cache, listenAddr string, logger *slog.Logger) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		processor:     p,
		scanner:       sc,
		notifications: store,
		segments:      segments,
		logs:          logs,
		cache:         c,
		validate:      validator.New(),
		listenAddr:    listenAddr,
		logger:        logger,
		startTime:     time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/notifications/scheduled/process", s.handleProcess)

		r.Post("/notifications/send/segments", s.handleSegmentSend)
		r.Get("/notifications/send/segments", s.handleSegmentCounts)

		r.Post("/notifications/scheduled", s.handleCreate)
		r.Get("/notifications/scheduled", s.handleList)
		r.Get("/notifications/scheduled/{id}", s.handleGet)
		r.Get("/notifications/scheduled/{id}/deliveries", s.handleDeliveries)
		r.Post("/notifications/scheduled/{id}/pause", s.handlePause)
		r.Post("/notifications/scheduled/{id}/resume", s.handleResume)
		r.Post("/notifications/scheduled/{id}/cancel", s.handleCancel)
		r.Delete("/notifications/scheduled/{id}", s.handleDelete)
	})
}

// Handler returns the underlying router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // process runs can fan out to many recipients
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
