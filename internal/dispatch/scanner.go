package dispatch

import (
	"context"
	"time"

	"github.com/habitloop/notifier/internal/models"
)

// NotificationStore is the scheduled-notification persistence consumed by the
// scanner and dispatcher.
type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*models.ScheduledNotification, error)
	FindDue(ctx context.Context, now, staleBefore time.Time) ([]models.ScheduledNotification, error)
	FindOverdue(ctx context.Context, now time.Time, grace time.Duration, staleBefore time.Time) ([]models.ScheduledNotification, error)
	Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	Release(ctx context.Context, id string) error
	Advance(ctx context.Context, id, status string, nextAt *time.Time, ranAt time.Time) error
}

// Scanner finds scheduled notifications whose fire time has arrived. It never
// mutates state; claiming and schedule advancement happen in the dispatcher.
type Scanner struct {
	notifications NotificationStore
	overdueGrace  time.Duration
	staleClaim    time.Duration
}

func NewScanner(store NotificationStore, overdueGrace, staleClaim time.Duration) *Scanner {
	return &Scanner{
		notifications: store,
		overdueGrace:  overdueGrace,
		staleClaim:    staleClaim,
	}
}

// FindDue returns active notifications with scheduled_at <= now, plus
// processing entries whose claim went stale (crash recovery).
func (s *Scanner) FindDue(ctx context.Context, now time.Time) ([]models.ScheduledNotification, error) {
	return s.notifications.FindDue(ctx, now, now.Add(-s.staleClaim))
}

// FindOverdue returns due notifications whose fire time passed more than the
// grace threshold ago, for operator visibility.
func (s *Scanner) FindOverdue(ctx context.Context, now time.Time) ([]models.ScheduledNotification, error) {
	return s.notifications.FindOverdue(ctx, now, s.overdueGrace, now.Add(-s.staleClaim))
}
