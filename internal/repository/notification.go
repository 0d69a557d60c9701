package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/habitloop/notifier/internal/models"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a new scheduled notification.
func (r *NotificationRepository) Create(n *models.ScheduledNotification) error {
	n.ID = uuid.New().String()
	if n.Status == "" {
		n.Status = models.StatusActive
	}
	if n.Frequency == "" {
		n.Frequency = models.FrequencyOnce
	}
	if n.Channel == "" {
		n.Channel = models.ChannelPush
	}
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	criteria, err := json.Marshal(n.Segment.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal segment criteria: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO scheduled_notifications
			(id, title, message, type, channel, segment_type, segment_criteria, scheduled_at, frequency, status, runs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		n.ID, n.Title, n.Message, n.Type, n.Channel, n.Segment.Type, string(criteria),
		n.ScheduledAt, n.Frequency, n.Status, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled notification: %w", err)
	}
	return nil
}

const notificationColumns = `
	id, title, message, type, channel, segment_type, COALESCE(segment_criteria, '[]'),
	scheduled_at, frequency, status, claimed_at, last_run_at, runs, created_at, updated_at`

// GetByID returns a notification by ID, or nil if it does not exist.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.ScheduledNotification, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT"+notificationColumns+" FROM scheduled_notifications WHERE id = ?", id)

	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// List returns notifications with optional filtering plus the unfiltered-page
// total.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.ScheduledNotification, int, error) {
	countQuery := "SELECT COUNT(*) FROM scheduled_notifications WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Frequency != "" {
		countQuery += " AND frequency = ?"
		args = append(args, filter.Frequency)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT" + notificationColumns + " FROM scheduled_notifications WHERE 1=1"
	args = []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Frequency != "" {
		query += " AND frequency = ?"
		args = append(args, filter.Frequency)
	}
	query += " ORDER BY scheduled_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	notifications := []models.ScheduledNotification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

// UpdateStatus sets the lifecycle status for admin pause/resume/cancel. A
// resume clears any stale claim.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ?`, status, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a notification.
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM scheduled_notifications WHERE id = ?", id)
	return err
}

// dueWhere selects active notifications whose fire time has passed, plus
// processing rows whose claim has gone stale (crash recovery, at-least-once).
const dueWhere = `
	(status = 'active' AND scheduled_at <= ?)
	OR (status = 'processing' AND claimed_at IS NOT NULL AND claimed_at <= ?)`

// FindDue returns notifications eligible for processing at the given instant.
// Read-only; paused, completed and cancelled entries are never returned.
func (r *NotificationRepository) FindDue(ctx context.Context, now, staleBefore time.Time) ([]models.ScheduledNotification, error) {
	return r.findEligible(ctx, now, staleBefore)
}

// FindOverdue returns due notifications whose fire time is in the past by
// more than the grace threshold, for operator visibility.
func (r *NotificationRepository) FindOverdue(ctx context.Context, now time.Time, grace time.Duration, staleBefore time.Time) ([]models.ScheduledNotification, error) {
	return r.findEligible(ctx, now.Add(-grace), staleBefore)
}

func (r *NotificationRepository) findEligible(ctx context.Context, dueBy, staleBefore time.Time) ([]models.ScheduledNotification, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT"+notificationColumns+" FROM scheduled_notifications WHERE "+dueWhere+" ORDER BY scheduled_at",
		dueBy, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.ScheduledNotification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// Claim marks a notification as processing. Returns false when another
// invocation holds a live claim or the notification is not in an eligible
// state, which makes concurrent triggers safe against double sends.
func (r *NotificationRepository) Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = 'processing', claimed_at = ?, updated_at = ?
		WHERE id = ?
		  AND (status = 'active' OR (status = 'processing' AND claimed_at IS NOT NULL AND claimed_at <= ?))`,
		now, now, id, staleBefore)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release returns a claimed notification to the active state without
// advancing its schedule, used when processing fails before any delivery.
func (r *NotificationRepository) Release(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = 'active', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`, time.Now(), id)
	return err
}

// Advance records a completed run: clears the claim, bumps the run counter
// and either completes the notification or moves scheduled_at forward.
func (r *NotificationRepository) Advance(ctx context.Context, id, status string, nextAt *time.Time, ranAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET status = ?, scheduled_at = COALESCE(?, scheduled_at), claimed_at = NULL,
			last_run_at = ?, runs = runs + 1, updated_at = ?
		WHERE id = ?`,
		status, nextAt, ranAt, time.Now(), id)
	return err
}

func scanNotification(row rowScanner) (models.ScheduledNotification, error) {
	var n models.ScheduledNotification
	var criteria string
	var claimedAt, lastRunAt sql.NullTime

	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.Channel, &n.Segment.Type, &criteria,
		&n.ScheduledAt, &n.Frequency, &n.Status, &claimedAt, &lastRunAt, &n.Runs, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, err
	}

	if criteria != "" && criteria != "[]" && criteria != "null" {
		if err := json.Unmarshal([]byte(criteria), &n.Segment.Criteria); err != nil {
			return n, fmt.Errorf("failed to parse segment criteria for %s: %w", n.ID, err)
		}
	}
	if claimedAt.Valid {
		n.ClaimedAt = &claimedAt.Time
	}
	if lastRunAt.Valid {
		n.LastRunAt = &lastRunAt.Time
	}
	return n, nil
}
