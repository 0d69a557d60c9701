package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/habitloop/notifier/internal/dispatch"
	"github.com/habitloop/notifier/internal/logstore"
	"github.com/habitloop/notifier/internal/models"
	"github.com/habitloop/notifier/internal/segment"
	"github.com/habitloop/notifier/internal/transport"
)

type mockProcessor struct {
	processAllCalls int
	processedID     string
	lastSegment     models.SegmentDescriptor
	lastChannel     string
	err             error
}

func (m *mockProcessor) Process(ctx context.Context, id string) (*models.DeliveryResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.processedID = id
	return &models.DeliveryResult{NotificationID: id, TotalTargeted: 2, SuccessfulDeliveries: 2}, nil
}

func (m *mockProcessor) ProcessAll(ctx context.Context, now time.Time) (*models.RunResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.processAllCalls++
	return &models.RunResult{ProcessedCount: 1}, nil
}

func (m *mockProcessor) SendToSegment(ctx context.Context, seg models.SegmentDescriptor, channel string, payload *transport.Payload) (*models.SegmentSendResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastSegment = seg
	m.lastChannel = channel
	return &models.SegmentSendResult{TotalTargeted: 3, SuccessCount: 3}, nil
}

type mockScanner struct {
	due     []models.ScheduledNotification
	overdue []models.ScheduledNotification
}

func (m *mockScanner) FindDue(ctx context.Context, now time.Time) ([]models.ScheduledNotification, error) {
	return m.due, nil
}

func (m *mockScanner) FindOverdue(ctx context.Context, now time.Time) ([]models.ScheduledNotification, error) {
	return m.overdue, nil
}

type mockStore struct {
	notifications map[string]*models.ScheduledNotification
	nextID        int
}

func newMockStore() *mockStore {
	return &mockStore{notifications: map[string]*models.ScheduledNotification{}}
}

func (m *mockStore) Create(n *models.ScheduledNotification) error {
	m.nextID++
	n.ID = fmt.Sprintf("n%d", m.nextID)
	if n.Status == "" {
		n.Status = models.StatusActive
	}
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*models.ScheduledNotification, error) {
	n, ok := m.notifications[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *mockStore) List(ctx context.Context, filter models.NotificationFilter) ([]models.ScheduledNotification, int, error) {
	var out []models.ScheduledNotification
	for _, n := range m.notifications {
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (m *mockStore) UpdateStatus(ctx context.Context, id, status string) error {
	n, ok := m.notifications[id]
	if !ok {
		return errors.New("no rows updated")
	}
	n.Status = status
	return nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	delete(m.notifications, id)
	return nil
}

type mockSegments struct {
	counts      map[string]int
	countsCalls int
	invalid     bool
}

func (m *mockSegments) Validate(seg models.SegmentDescriptor) error {
	if m.invalid {
		return fmt.Errorf("%w: %s", segment.ErrInvalidSegment, seg.Type)
	}
	return nil
}

func (m *mockSegments) Counts(ctx context.Context) (map[string]int, error) {
	m.countsCalls++
	return m.counts, nil
}

type mockLogs struct {
	entries map[string][]*logstore.Entry
	rollups map[string]*logstore.Rollup
}

func newMockLogs() *mockLogs {
	return &mockLogs{
		entries: map[string][]*logstore.Entry{},
		rollups: map[string]*logstore.Rollup{},
	}
}

func (m *mockLogs) ListByNotification(ctx context.Context, notificationID string, limit int) ([]*logstore.Entry, error) {
	return m.entries[notificationID], nil
}

func (m *mockLogs) GetRollup(ctx context.Context, notificationID string) (*logstore.Rollup, error) {
	return m.rollups[notificationID], nil
}

type memCache struct {
	counts map[string]int
}

func (c *memCache) GetCounts(ctx context.Context, key string) (map[string]int, error) {
	return c.counts, nil
}

func (c *memCache) SetCounts(ctx context.Context, key string, counts map[string]int) error {
	c.counts = counts
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, key string) error {
	c.counts = nil
	return nil
}

func (c *memCache) Close() error { return nil }

type testServer struct {
	server    *Server
	processor *mockProcessor
	store     *mockStore
	segments  *mockSegments
	scanner   *mockScanner
	logs      *mockLogs
	cache     *memCache
}

func setupTestServer() *testServer {
	ts := &testServer{
		processor: &mockProcessor{},
		store:     newMockStore(),
		segments:  &mockSegments{counts: map[string]int{"all": 100, "premium": 20}},
		scanner:   &mockScanner{},
		logs:      newMockLogs(),
		cache:     &memCache{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts.server = NewServer(ts.processor, ts.scanner, ts.store, ts.segments, ts.logs, ts.cache, ":8080", logger)
	return ts
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return w, resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer()

	w, resp := doJSON(t, ts.server, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}
}

func TestProcessListsDueByDefault(t *testing.T) {
	ts := setupTestServer()
	ts.scanner.due = []models.ScheduledNotification{{ID: "n1"}, {ID: "n2"}}

	w, resp := doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !resp.Success {
		t.Fatal("success = false")
	}
	if ts.processor.processAllCalls != 0 {
		t.Error("listing due notifications must not trigger processing")
	}
}

func TestProcessAllParam(t *testing.T) {
	ts := setupTestServer()

	w, _ := doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/process?all=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ts.processor.processAllCalls != 1 {
		t.Errorf("ProcessAll calls = %d, want 1", ts.processor.processAllCalls)
	}
}

func TestProcessSingleByID(t *testing.T) {
	ts := setupTestServer()

	w, _ := doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/process?id=abc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ts.processor.processedID != "abc" {
		t.Errorf("processed id = %q, want abc", ts.processor.processedID)
	}
}

func TestProcessUnknownIDGives404(t *testing.T) {
	ts := setupTestServer()
	ts.processor.err = fmt.Errorf("%w: abc", dispatch.ErrNotificationNotFound)

	w, resp := doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/process?id=abc", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp.Success {
		t.Error("success = true on error response")
	}
}

func TestSegmentSendInvalidSegmentGives400(t *testing.T) {
	ts := setupTestServer()
	ts.processor.err = fmt.Errorf("%w: vip", segment.ErrInvalidSegment)

	w, resp := doJSON(t, ts.server, "POST", "/api/v1/notifications/send/segments", SegmentSendRequest{
		Segment: models.SegmentDescriptor{Type: "vip"},
		Title:   "hi",
		Message: "there",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if resp.Error == "" {
		t.Error("error message missing")
	}
}

func TestSegmentSendValidationFailure(t *testing.T) {
	ts := setupTestServer()

	w, resp := doJSON(t, ts.server, "POST", "/api/v1/notifications/send/segments", SegmentSendRequest{
		Segment: models.SegmentDescriptor{Type: models.SegmentAll},
		// title and message missing
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if resp.Details == nil {
		t.Error("validation details missing")
	}
}

func TestSegmentSendSuccess(t *testing.T) {
	ts := setupTestServer()

	w, resp := doJSON(t, ts.server, "POST", "/api/v1/notifications/send/segments", SegmentSendRequest{
		Segment: models.SegmentDescriptor{Type: models.SegmentPremium},
		Channel: models.ChannelEmail,
		Title:   "hi",
		Message: "there",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", w.Code, resp.Error)
	}
	if ts.processor.lastSegment.Type != models.SegmentPremium {
		t.Errorf("segment = %q, want premium", ts.processor.lastSegment.Type)
	}
	if ts.processor.lastChannel != models.ChannelEmail {
		t.Errorf("channel = %q, want email", ts.processor.lastChannel)
	}
}

func TestSegmentCountsUsesCache(t *testing.T) {
	ts := setupTestServer()

	// first read populates the cache
	w, _ := doJSON(t, ts.server, "GET", "/api/v1/notifications/send/segments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ts.segments.countsCalls != 1 {
		t.Fatalf("counts calls = %d, want 1", ts.segments.countsCalls)
	}
	if ts.cache.counts == nil {
		t.Fatal("cache not populated")
	}

	// second read is served from cache
	doJSON(t, ts.server, "GET", "/api/v1/notifications/send/segments", nil)
	if ts.segments.countsCalls != 1 {
		t.Errorf("counts calls = %d after cached read, want 1", ts.segments.countsCalls)
	}
}

func TestCreateAndGet(t *testing.T) {
	ts := setupTestServer()

	w, resp := doJSON(t, ts.server, "POST", "/api/v1/notifications/scheduled", CreateRequest{
		Title:       "Weekly check-in",
		Message:     "How was your week?",
		Type:        "reminder",
		Segment:     models.SegmentDescriptor{Type: models.SegmentActive},
		ScheduledAt: time.Now().Add(time.Hour),
		Frequency:   models.FrequencyWeekly,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", w.Code, resp.Error)
	}

	created, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("created notification has no id")
	}

	w, _ = doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/"+id, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", w.Code)
	}
}

func TestCreateRejectsInvalidSegment(t *testing.T) {
	ts := setupTestServer()
	ts.segments.invalid = true

	w, _ := doJSON(t, ts.server, "POST", "/api/v1/notifications/scheduled", CreateRequest{
		Title:       "t",
		Message:     "m",
		Segment:     models.SegmentDescriptor{Type: "vip"},
		ScheduledAt: time.Now(),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(ts.store.notifications) != 0 {
		t.Error("invalid notification was persisted")
	}
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	ts := setupTestServer()
	n := &models.ScheduledNotification{Title: "t", Message: "m"}
	ts.store.Create(n)
	base := "/api/v1/notifications/scheduled/" + n.ID

	w, _ := doJSON(t, ts.server, "POST", base+"/pause", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", w.Code)
	}
	if got := ts.store.notifications[n.ID].Status; got != models.StatusPaused {
		t.Errorf("status = %q, want paused", got)
	}

	// pausing again conflicts
	w, _ = doJSON(t, ts.server, "POST", base+"/pause", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("double pause status = %d, want 409", w.Code)
	}

	w, _ = doJSON(t, ts.server, "POST", base+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", w.Code)
	}

	w, _ = doJSON(t, ts.server, "POST", base+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", w.Code)
	}

	// cancelled notifications cannot be resumed
	w, _ = doJSON(t, ts.server, "POST", base+"/resume", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("resume after cancel status = %d, want 409", w.Code)
	}
}

func TestDeliveriesEndpoint(t *testing.T) {
	ts := setupTestServer()
	n := &models.ScheduledNotification{Title: "t", Message: "m"}
	ts.store.Create(n)
	ts.logs.entries[n.ID] = []*logstore.Entry{
		{NotificationID: n.ID, RecipientID: "r1", Status: models.OutcomeSent},
		{NotificationID: n.ID, RecipientID: "r2", Status: models.OutcomeFailed, Error: "gateway timeout"},
	}
	ts.logs.rollups[n.ID] = &logstore.Rollup{
		NotificationID: n.ID, TotalTargeted: 2, SuccessfulDeliveries: 1, FailedDeliveries: 1,
	}

	w, resp := doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/"+n.ID+"/deliveries", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", w.Code, resp.Error)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	entries, ok := data["entries"].([]any)
	if !ok || len(entries) != 2 {
		t.Errorf("entries = %v, want 2 items", data["entries"])
	}
	if data["rollup"] == nil {
		t.Error("rollup missing")
	}

	w, _ = doJSON(t, ts.server, "GET", "/api/v1/notifications/scheduled/missing/deliveries", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}

func TestDeleteNotification(t *testing.T) {
	ts := setupTestServer()
	n := &models.ScheduledNotification{Title: "t", Message: "m"}
	ts.store.Create(n)

	req := httptest.NewRequest("DELETE", "/api/v1/notifications/scheduled/"+n.ID, nil)
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if len(ts.store.notifications) != 0 {
		t.Error("notification still present after delete")
	}

	// deleting again is a 404
	req = httptest.NewRequest("DELETE", "/api/v1/notifications/scheduled/"+n.ID, nil)
	w = httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}
