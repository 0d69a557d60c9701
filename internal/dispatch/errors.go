package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotificationNotFound means the notification id is unknown.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrNotEligible means the notification could not be claimed: it is
	// paused, finished, or another invocation holds a live claim.
	ErrNotEligible = errors.New("notification is not eligible for processing")
)

// PersistenceError marks a failed store write or read. The triggering run is
// not fully committed, so the notification stays eligible and a retry is safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
