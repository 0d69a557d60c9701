package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/habitloop/notifier/internal/cache"
	"github.com/habitloop/notifier/internal/dispatch"
	"github.com/habitloop/notifier/internal/logstore"
	"github.com/habitloop/notifier/internal/models"
	"github.com/habitloop/notifier/internal/segment"
	"github.com/habitloop/notifier/internal/transport"
)

// Response is the JSON envelope shared by all endpoints.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// CreateRequest is the body for POST /notifications/scheduled.
type CreateRequest struct {
	Title       string                   `json:"title" validate:"required,max=200"`
	Message     string                   `json:"message" validate:"required,max=2000"`
	Type        string                   `json:"type" validate:"omitempty,oneof=motivation milestone reminder system"`
	Channel     string                   `json:"channel" validate:"omitempty,oneof=push email queue"`
	Segment     models.SegmentDescriptor `json:"segment"`
	ScheduledAt time.Time                `json:"scheduled_at" validate:"required"`
	Frequency   string                   `json:"frequency" validate:"omitempty,oneof=once daily weekly monthly"`
}

// SegmentSendRequest is the body for POST /notifications/send/segments.
type SegmentSendRequest struct {
	Segment  models.SegmentDescriptor `json:"segment"`
	Channel  string                   `json:"channel" validate:"omitempty,oneof=push email queue"`
	Title    string                   `json:"title" validate:"required,max=200"`
	Message  string                   `json:"message" validate:"required,max=2000"`
	Type     string                   `json:"type" validate:"omitempty,oneof=motivation milestone reminder system"`
	Metadata map[string]string        `json:"metadata"`
}

// ListResponse is the payload for GET /notifications/scheduled.
type ListResponse struct {
	Notifications []models.ScheduledNotification `json:"notifications"`
	Total         int                            `json:"total"`
}

// handleProcess handles GET /api/v1/notifications/scheduled/process.
// Without parameters it lists due notifications; ?overdue=true lists
// overdue ones; ?all=true runs a full batch; ?id=<uuid> processes one.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := time.Now()

	switch {
	case q.Get("id") != "":
		res, err := s.processor.Process(r.Context(), q.Get("id"))
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		s.sendData(w, http.StatusOK, res)

	case q.Get("all") == "true":
		run, err := s.processor.ProcessAll(r.Context(), now)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		s.sendData(w, http.StatusOK, run)

	case q.Get("overdue") == "true":
		overdue, err := s.scanner.FindOverdue(r.Context(), now)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		s.sendData(w, http.StatusOK, ListResponse{Notifications: overdue, Total: len(overdue)})

	default:
		due, err := s.scanner.FindDue(r.Context(), now)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		s.sendData(w, http.StatusOK, ListResponse{Notifications: due, Total: len(due)})
	}
}

// handleSegmentSend handles POST /api/v1/notifications/send/segments
func (s *Server) handleSegmentSend(w http.ResponseWriter, r *http.Request) {
	var req SegmentSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "validation failed", validationDetails(err))
		return
	}

	res, err := s.processor.SendToSegment(r.Context(), req.Segment, req.Channel, &transport.Payload{
		Title:    req.Title,
		Message:  req.Message,
		Type:     req.Type,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendData(w, http.StatusOK, res)
}

// handleSegmentCounts handles GET /api/v1/notifications/send/segments
func (s *Server) handleSegmentCounts(w http.ResponseWriter, r *http.Request) {
	if counts, err := s.cache.GetCounts(r.Context(), cache.SegmentCountsKey); err != nil {
		s.logger.Warn("segment counts cache read failed", "error", err)
	} else if counts != nil {
		s.sendData(w, http.StatusOK, counts)
		return
	}

	counts, err := s.segments.Counts(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	if err := s.cache.SetCounts(r.Context(), cache.SegmentCountsKey, counts); err != nil {
		s.logger.Warn("segment counts cache write failed", "error", err)
	}

	s.sendData(w, http.StatusOK, counts)
}

// handleCreate handles POST /api/v1/notifications/scheduled
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "validation failed", validationDetails(err))
		return
	}
	if err := s.segments.Validate(req.Segment); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	n := &models.ScheduledNotification{
		Title:       req.Title,
		Message:     req.Message,
		Type:        req.Type,
		Channel:     req.Channel,
		Segment:     req.Segment,
		ScheduledAt: req.ScheduledAt,
		Frequency:   req.Frequency,
	}
	if err := s.notifications.Create(n); err != nil {
		s.logger.Error("failed to create notification", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create notification", nil)
		return
	}

	s.logger.Info("notification scheduled",
		"id", n.ID, "segment", n.Segment.Type, "scheduled_at", n.ScheduledAt)
	s.sendData(w, http.StatusCreated, n)
}

// handleList handles GET /api/v1/notifications/scheduled
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.NotificationFilter{
		Status:    q.Get("status"),
		Frequency: q.Get("frequency"),
		Limit:     intParam(q.Get("limit"), 50),
		Offset:    intParam(q.Get("offset"), 0),
	}

	notifications, total, err := s.notifications.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list notifications", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list notifications", nil)
		return
	}

	s.sendData(w, http.StatusOK, ListResponse{Notifications: notifications, Total: total})
}

// handleGet handles GET /api/v1/notifications/scheduled/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := s.notifications.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get notification", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get notification", nil)
		return
	}
	if n == nil {
		s.sendError(w, http.StatusNotFound, "notification not found", nil)
		return
	}

	s.sendData(w, http.StatusOK, n)
}

// DeliveriesResponse is the payload for GET /notifications/scheduled/{id}/deliveries.
type DeliveriesResponse struct {
	Rollup  *logstore.Rollup  `json:"rollup,omitempty"`
	Entries []*logstore.Entry `json:"entries"`
}

// handleDeliveries handles GET /api/v1/notifications/scheduled/{id}/deliveries
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := s.notifications.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get notification", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get notification", nil)
		return
	}
	if n == nil {
		s.sendError(w, http.StatusNotFound, "notification not found", nil)
		return
	}

	entries, err := s.logs.ListByNotification(r.Context(), id, intParam(r.URL.Query().Get("limit"), 100))
	if err != nil {
		s.logger.Error("failed to list delivery log", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list delivery log", nil)
		return
	}

	rollup, err := s.logs.GetRollup(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get delivery rollup", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get delivery rollup", nil)
		return
	}

	if entries == nil {
		entries = []*logstore.Entry{}
	}
	s.sendData(w, http.StatusOK, DeliveriesResponse{Rollup: rollup, Entries: entries})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusPaused, map[string]bool{models.StatusActive: true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusActive, map[string]bool{models.StatusPaused: true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusCancelled, map[string]bool{
		models.StatusActive: true,
		models.StatusPaused: true,
	})
}

// transition applies an admin status change, rejecting moves from states
// the target does not accept (e.g. resuming a cancelled notification).
func (s *Server) transition(w http.ResponseWriter, r *http.Request, target string, from map[string]bool) {
	id := chi.URLParam(r, "id")

	n, err := s.notifications.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get notification", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get notification", nil)
		return
	}
	if n == nil {
		s.sendError(w, http.StatusNotFound, "notification not found", nil)
		return
	}
	if !from[n.Status] {
		s.sendError(w, http.StatusConflict, "notification is "+n.Status, nil)
		return
	}

	if err := s.notifications.UpdateStatus(r.Context(), id, target); err != nil {
		s.logger.Error("failed to update status", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to update status", nil)
		return
	}

	n.Status = target
	s.logger.Info("notification status changed", "id", id, "status", target)
	s.sendData(w, http.StatusOK, n)
}

// handleDelete handles DELETE /api/v1/notifications/scheduled/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := s.notifications.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get notification", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get notification", nil)
		return
	}
	if n == nil {
		s.sendError(w, http.StatusNotFound, "notification not found", nil)
		return
	}

	if err := s.notifications.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete notification", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to delete notification", nil)
		return
	}

	s.logger.Info("notification deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// sendDomainError maps pipeline errors onto HTTP statuses.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, segment.ErrInvalidSegment):
		s.sendError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, dispatch.ErrNotificationNotFound):
		s.sendError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, dispatch.ErrNotEligible):
		s.sendError(w, http.StatusConflict, err.Error(), nil)
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

// sendData sends a success envelope
func (s *Server) sendData(w http.ResponseWriter, status int, data any) {
	s.sendJSON(w, status, Response{Success: true, Data: data})
}

// sendError sends an error envelope
func (s *Server) sendError(w http.ResponseWriter, status int, message string, details any) {
	s.sendJSON(w, status, Response{Success: false, Error: message, Details: details})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// validationDetails flattens validator errors into field: reason pairs.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
