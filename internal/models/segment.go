package models

// Segment types select a subset of recipients by a fixed predicate.
// TypeCustom carries structured criteria clauses instead.
const (
	SegmentAll           = "all"
	SegmentPremium       = "premium"
	SegmentFree          = "free"
	SegmentActive        = "active"
	SegmentInactive      = "inactive"
	SegmentHighStreak    = "high_streak"
	SegmentLowStreak     = "low_streak"
	SegmentRecentRelapse = "recent_relapse"
	SegmentCustom        = "custom"
)

// SegmentTypes lists all valid segment types.
var SegmentTypes = []string{
	SegmentAll,
	SegmentPremium,
	SegmentFree,
	SegmentActive,
	SegmentInactive,
	SegmentHighStreak,
	SegmentLowStreak,
	SegmentRecentRelapse,
	SegmentCustom,
}

// Criteria clause operators.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
)

// CriteriaClause is a single structured filter condition for custom segments.
// Fields and operators are validated against a whitelist before any query runs.
type CriteriaClause struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// SegmentDescriptor identifies a target group of recipients.
type SegmentDescriptor struct {
	Type     string           `json:"type"`
	Criteria []CriteriaClause `json:"criteria,omitempty"`
}
