package models

import "time"

// Recipient statuses.
const (
	RecipientActive  = "active"
	RecipientBlocked = "blocked"
	RecipientDeleted = "deleted"
)

// Recipient is a projection of an app user with the attributes segment
// predicates need. The pipeline treats these rows as read-only.
type Recipient struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DeviceToken   string     `json:"device_token,omitempty"`
	Premium       bool       `json:"premium"`
	StreakDays    int        `json:"streak_days"`
	LastActiveAt  *time.Time `json:"last_active_at,omitempty"`
	LastRelapseAt *time.Time `json:"last_relapse_at,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RecipientFilter for listing recipients.
type RecipientFilter struct {
	Status string
	Limit  int
	Offset int
}
