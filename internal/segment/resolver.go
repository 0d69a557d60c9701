package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitloop/notifier/internal/models"
)

// ErrInvalidSegment is returned for descriptors that fail validation.
// Validation always runs before any store access.
var ErrInvalidSegment = errors.New("invalid segment")

// Windows holds the recency windows and the streak cutoff backing the fixed
// segment predicates.
type Windows struct {
	ActiveWindow   time.Duration
	InactiveWindow time.Duration
	RelapseWindow  time.Duration
	StreakCutoff   int
}

// DefaultWindows match the documented config defaults.
func DefaultWindows() Windows {
	return Windows{
		ActiveWindow:   7 * 24 * time.Hour,
		InactiveWindow: 30 * 24 * time.Hour,
		RelapseWindow:  3 * 24 * time.Hour,
		StreakCutoff:   30,
	}
}

// Predicate is a structured recipient filter. The store translates it into a
// query; the resolver never hands the store raw criteria input without
// validating fields and operators first.
type Predicate struct {
	Premium        *bool
	ActiveSince    *time.Time // last activity at or after this instant
	InactiveBefore *time.Time // no activity since this instant (or never)
	StreakAtLeast  *int
	StreakBelow    *int
	RelapseSince   *time.Time
	Clauses        []models.CriteriaClause
	Now            time.Time
}

// Store is the recipient store queried by the resolver.
type Store interface {
	SelectIDs(ctx context.Context, pred Predicate) ([]string, error)
	Count(ctx context.Context, pred Predicate) (int, error)
}

// Resolver turns segment descriptors into concrete recipient ID sets.
type Resolver struct {
	store   Store
	windows Windows
	nowFn   func() time.Time
}

func NewResolver(store Store, windows Windows) *Resolver {
	return &Resolver{
		store:   store,
		windows: windows,
		nowFn:   time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (r *Resolver) SetNow(fn func() time.Time) {
	r.nowFn = fn
}

// criteriaFields whitelists custom-criteria fields and the operators allowed
// on each. Values are type-checked against the field before any query runs.
var criteriaFields = map[string]map[string]bool{
	"premium":            {models.OpEq: true, models.OpNe: true},
	"status":             {models.OpEq: true, models.OpNe: true},
	"streak_days":        {models.OpEq: true, models.OpNe: true, models.OpGt: true, models.OpGte: true, models.OpLt: true, models.OpLte: true},
	"days_since_active":  {models.OpGt: true, models.OpGte: true, models.OpLt: true, models.OpLte: true},
	"days_since_relapse": {models.OpGt: true, models.OpGte: true, models.OpLt: true, models.OpLte: true},
}

// Validate checks a descriptor without touching the store.
func (r *Resolver) Validate(seg models.SegmentDescriptor) error {
	valid := false
	for _, t := range models.SegmentTypes {
		if seg.Type == t {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSegment, seg.Type)
	}

	if seg.Type != models.SegmentCustom {
		return nil
	}

	if len(seg.Criteria) == 0 {
		return fmt.Errorf("%w: custom segment requires criteria", ErrInvalidSegment)
	}

	for i, c := range seg.Criteria {
		ops, ok := criteriaFields[c.Field]
		if !ok {
			return fmt.Errorf("%w: criteria[%d]: unknown field %q", ErrInvalidSegment, i, c.Field)
		}
		if !ops[c.Op] {
			return fmt.Errorf("%w: criteria[%d]: operator %q not allowed for field %q", ErrInvalidSegment, i, c.Op, c.Field)
		}
		if err := checkValue(c); err != nil {
			return fmt.Errorf("%w: criteria[%d]: %v", ErrInvalidSegment, i, err)
		}
	}
	return nil
}

func checkValue(c models.CriteriaClause) error {
	switch c.Field {
	case "premium":
		if _, ok := c.Value.(bool); !ok {
			return fmt.Errorf("field %q requires a boolean value", c.Field)
		}
	case "status":
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("field %q requires a string value", c.Field)
		}
	default:
		// numeric fields; JSON decodes numbers as float64
		switch c.Value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("field %q requires a numeric value", c.Field)
		}
	}
	return nil
}

// Resolve expands a descriptor into a duplicate-free set of recipient IDs.
// Result ordering is unspecified.
func (r *Resolver) Resolve(ctx context.Context, seg models.SegmentDescriptor) ([]string, error) {
	if err := r.Validate(seg); err != nil {
		return nil, err
	}

	pred := r.predicate(seg, r.nowFn())
	ids, err := r.store.SelectIDs(ctx, pred)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve segment %q: %w", seg.Type, err)
	}

	// The store queries distinct IDs already; dedupe anyway so the set
	// property does not depend on the store implementation.
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Counts returns the recipient count per fixed segment type.
func (r *Resolver) Counts(ctx context.Context) (map[string]int, error) {
	now := r.nowFn()
	counts := make(map[string]int, len(models.SegmentTypes)-1)

	for _, t := range models.SegmentTypes {
		if t == models.SegmentCustom {
			continue
		}
		n, err := r.store.Count(ctx, r.predicate(models.SegmentDescriptor{Type: t}, now))
		if err != nil {
			return nil, fmt.Errorf("failed to count segment %q: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

// predicate maps a validated descriptor to a structured store filter.
func (r *Resolver) predicate(seg models.SegmentDescriptor, now time.Time) Predicate {
	pred := Predicate{Now: now}

	switch seg.Type {
	case models.SegmentAll:
		// no extra conditions
	case models.SegmentPremium:
		pred.Premium = boolPtr(true)
	case models.SegmentFree:
		pred.Premium = boolPtr(false)
	case models.SegmentActive:
		t := now.Add(-r.windows.ActiveWindow)
		pred.ActiveSince = &t
	case models.SegmentInactive:
		t := now.Add(-r.windows.InactiveWindow)
		pred.InactiveBefore = &t
	case models.SegmentHighStreak:
		pred.StreakAtLeast = intPtr(r.windows.StreakCutoff)
	case models.SegmentLowStreak:
		pred.StreakBelow = intPtr(r.windows.StreakCutoff)
	case models.SegmentRecentRelapse:
		t := now.Add(-r.windows.RelapseWindow)
		pred.RelapseSince = &t
	case models.SegmentCustom:
		pred.Clauses = seg.Criteria
	}

	return pred
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }
