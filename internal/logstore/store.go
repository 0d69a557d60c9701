package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries        = []byte("entries")
	bucketByNotification = []byte("by_notification")
	bucketRollups        = []byte("rollups")
)

// Entry is one durable delivery-attempt record. Append-only; rows are never
// mutated by the pipeline.
type Entry struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"` // sent, failed
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Rollup is the per-run summary persisted next to the attempt log.
type Rollup struct {
	NotificationID       string    `json:"notification_id"`
	TotalTargeted        int       `json:"total_targeted"`
	SuccessfulDeliveries int       `json:"successful_deliveries"`
	FailedDeliveries     int       `json:"failed_deliveries"`
	ProcessedAt          time.Time `json:"processed_at"`
}

// Store is an append-only delivery log backed by BoltDB.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the log store at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntries, bucketByNotification, bucketRollups} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Append writes one delivery-attempt record.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}

		if err := tx.Bucket(bucketEntries).Put([]byte(e.ID), data); err != nil {
			return fmt.Errorf("failed to store log entry: %w", err)
		}

		indexKey := makeIndexKey(e.NotificationID, e.Timestamp, e.ID)
		if err := tx.Bucket(bucketByNotification).Put(indexKey, []byte(e.ID)); err != nil {
			return fmt.Errorf("failed to index log entry: %w", err)
		}

		return nil
	})
}

// ListByNotification returns entries for a notification in timestamp order.
func (s *Store) ListByNotification(ctx context.Context, notificationID string, limit int) ([]*Entry, error) {
	var entries []*Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		entryBucket := tx.Bucket(bucketEntries)
		c := tx.Bucket(bucketByNotification).Cursor()
		prefix := []byte(notificationID + "/")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := entryBucket.Get(v)
			if data == nil {
				continue
			}

			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				continue
			}
			entries = append(entries, &e)

			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})

	return entries, err
}

// CountByNotification returns sent/failed totals for a notification's log.
func (s *Store) CountByNotification(ctx context.Context, notificationID string) (sent, failed int, err error) {
	entries, err := s.ListByNotification(ctx, notificationID, 0)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		switch e.Status {
		case "sent":
			sent++
		case "failed":
			failed++
		}
	}
	return sent, failed, nil
}

// PutRollup stores the latest run summary for a notification.
func (s *Store) PutRollup(ctx context.Context, r *Rollup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rollup: %w", err)
		}
		if err := tx.Bucket(bucketRollups).Put([]byte(r.NotificationID), data); err != nil {
			return fmt.Errorf("failed to store rollup: %w", err)
		}
		return nil
	})
}

// GetRollup returns the latest run summary, or nil if none exists.
func (s *Store) GetRollup(ctx context.Context, notificationID string) (*Rollup, error) {
	var rollup *Rollup

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRollups).Get([]byte(notificationID))
		if data == nil {
			return nil
		}
		rollup = &Rollup{}
		return json.Unmarshal(data, rollup)
	})

	return rollup, err
}

// Cleanup removes entries older than maxAge. Rollups are kept.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		entryBucket := tx.Bucket(bucketEntries)
		indexBucket := tx.Bucket(bucketByNotification)

		var staleIndex [][]byte
		var staleIDs [][]byte

		c := indexBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ts := parseTimestampFromKey(k)
			if ts.IsZero() || ts.After(cutoff) {
				continue
			}
			staleIndex = append(staleIndex, append([]byte{}, k...))
			staleIDs = append(staleIDs, append([]byte{}, v...))
		}

		for i := range staleIndex {
			if err := indexBucket.Delete(staleIndex[i]); err != nil {
				return err
			}
			if err := entryBucket.Delete(staleIDs[i]); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// makeIndexKey creates a sortable per-notification key:
// <notification_id>/<zero-padded unix nanos>:<entry_id>
// The timestamp must be fixed-width so lexicographic key order matches
// timestamp order.
func makeIndexKey(notificationID string, t time.Time, id string) []byte {
	return []byte(notificationID + "/" + fmt.Sprintf("%020d", t.UnixNano()) + ":" + id)
}

// parseTimestampFromKey extracts the timestamp portion of an index key.
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	slash := bytes.IndexByte(key, '/')
	if slash < 0 {
		return time.Time{}
	}
	s = s[slash+1:]
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(s[:colon], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
