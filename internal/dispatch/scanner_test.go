package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/habitloop/notifier/internal/models"
)

type scanCapture struct {
	fakeNotifStore
	lastNow         time.Time
	lastStaleBefore time.Time
	lastGrace       time.Duration
}

func (s *scanCapture) FindDue(ctx context.Context, now, staleBefore time.Time) ([]models.ScheduledNotification, error) {
	s.lastNow = now
	s.lastStaleBefore = staleBefore
	return nil, nil
}

func (s *scanCapture) FindOverdue(ctx context.Context, now time.Time, grace time.Duration, staleBefore time.Time) ([]models.ScheduledNotification, error) {
	s.lastNow = now
	s.lastGrace = grace
	s.lastStaleBefore = staleBefore
	return nil, nil
}

func TestScannerPassesStaleWindow(t *testing.T) {
	store := &scanCapture{}
	s := NewScanner(store, time.Hour, 10*time.Minute)

	now := dispatchNow()
	if _, err := s.FindDue(context.Background(), now); err != nil {
		t.Fatalf("FindDue: %v", err)
	}

	wantStale := now.Add(-10 * time.Minute)
	if !store.lastStaleBefore.Equal(wantStale) {
		t.Errorf("staleBefore = %v, want %v", store.lastStaleBefore, wantStale)
	}
	if !store.lastNow.Equal(now) {
		t.Errorf("now = %v, want %v", store.lastNow, now)
	}
}

func TestScannerPassesOverdueGrace(t *testing.T) {
	store := &scanCapture{}
	s := NewScanner(store, time.Hour, 10*time.Minute)

	now := dispatchNow()
	if _, err := s.FindOverdue(context.Background(), now); err != nil {
		t.Fatalf("FindOverdue: %v", err)
	}

	if store.lastGrace != time.Hour {
		t.Errorf("grace = %v, want 1h", store.lastGrace)
	}
	if want := now.Add(-10 * time.Minute); !store.lastStaleBefore.Equal(want) {
		t.Errorf("staleBefore = %v, want %v", store.lastStaleBefore, want)
	}
}
