package models

import "time"

// Per-recipient delivery outcome statuses.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// RecipientOutcome is the result of one delivery attempt.
type RecipientOutcome struct {
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// DeliveryResult is the rollup for a single processed notification.
// Computed fresh each run; a summary is persisted alongside the attempt log.
type DeliveryResult struct {
	NotificationID       string             `json:"notification_id"`
	TotalTargeted        int                `json:"total_targeted"`
	SuccessfulDeliveries int                `json:"successful_deliveries"`
	FailedDeliveries     int                `json:"failed_deliveries"`
	Outcomes             []RecipientOutcome `json:"outcomes,omitempty"`
	ProcessedAt          time.Time          `json:"processed_at"`
}

// ProcessError records a per-notification failure inside a batch run.
type ProcessError struct {
	NotificationID string `json:"notification_id"`
	Error          string `json:"error"`
}

// RunResult is the outcome of a ProcessAll batch: one entry per processed
// notification, failures reported per-notification instead of aborting.
type RunResult struct {
	ProcessedCount int              `json:"processed_count"`
	Results        []DeliveryResult `json:"results"`
	Errors         []ProcessError   `json:"errors,omitempty"`
}

// SegmentSendResult is the rollup for an ad hoc segment send.
type SegmentSendResult struct {
	TotalTargeted int `json:"total_targeted"`
	SuccessCount  int `json:"success_count"`
	FailureCount  int `json:"failure_count"`
}
