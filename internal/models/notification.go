package models

import "time"

// ScheduledNotification statuses.
const (
	StatusActive     = "active"
	StatusPaused     = "paused"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Recurrence frequencies.
const (
	FrequencyOnce    = "once"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Delivery channels.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
	ChannelQueue = "queue"
)

// ScheduledNotification is a stored campaign definition: what to send,
// to which segment, when, and how often.
type ScheduledNotification struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Type        string            `json:"type"` // motivation, milestone, reminder, system
	Channel     string            `json:"channel"`
	Segment     SegmentDescriptor `json:"segment"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Frequency   string            `json:"frequency"`
	Status      string            `json:"status"`
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
	LastRunAt   *time.Time        `json:"last_run_at,omitempty"`
	Runs        int               `json:"runs"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NotificationFilter for listing scheduled notifications.
type NotificationFilter struct {
	Status    string
	Frequency string
	Limit     int
	Offset    int
}

// ValidFrequency reports whether f is a known recurrence frequency.
func ValidFrequency(f string) bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}
