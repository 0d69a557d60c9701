package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/habitloop/notifier/internal/models"
	"github.com/habitloop/notifier/internal/segment"
)

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Create inserts a recipient row. Used by the admin import surface and tests;
// the dispatch pipeline itself never writes recipients.
func (r *RecipientRepository) Create(rec *models.Recipient) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.RecipientActive
	}
	rec.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO recipients (id, email, device_token, premium, streak_days, last_active_at, last_relapse_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Email, rec.DeviceToken, rec.Premium, rec.StreakDays, rec.LastActiveAt, rec.LastRelapseAt, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	return nil
}

// GetByIDs returns the recipients for the given IDs. Missing IDs are skipped.
func (r *RecipientRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Recipient, error) {
	if len(ids) == 0 {
		return []models.Recipient{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, device_token, premium, streak_days, last_active_at, last_relapse_at, status, created_at
		FROM recipients WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []models.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// SelectIDs returns distinct recipient IDs matching the predicate.
func (r *RecipientRepository) SelectIDs(ctx context.Context, pred segment.Predicate) ([]string, error) {
	where, args, err := buildPredicate(pred)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT id FROM recipients WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of recipients matching the predicate.
func (r *RecipientRepository) Count(ctx context.Context, pred segment.Predicate) (int, error) {
	where, args, err := buildPredicate(pred)
	if err != nil {
		return 0, err
	}

	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recipients WHERE "+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// buildPredicate translates a structured predicate into a WHERE clause.
// Only whitelisted columns are ever referenced; criteria values are always
// bound parameters, never interpolated.
func buildPredicate(pred segment.Predicate) (string, []any, error) {
	conds := []string{}
	args := []any{}

	if pred.Premium != nil {
		conds = append(conds, "premium = ?")
		args = append(args, *pred.Premium)
	}
	if pred.ActiveSince != nil {
		conds = append(conds, "last_active_at IS NOT NULL AND last_active_at >= ?")
		args = append(args, *pred.ActiveSince)
	}
	if pred.InactiveBefore != nil {
		conds = append(conds, "(last_active_at IS NULL OR last_active_at < ?)")
		args = append(args, *pred.InactiveBefore)
	}
	if pred.StreakAtLeast != nil {
		conds = append(conds, "streak_days >= ?")
		args = append(args, *pred.StreakAtLeast)
	}
	if pred.StreakBelow != nil {
		conds = append(conds, "streak_days < ?")
		args = append(args, *pred.StreakBelow)
	}
	if pred.RelapseSince != nil {
		conds = append(conds, "last_relapse_at IS NOT NULL AND last_relapse_at >= ?")
		args = append(args, *pred.RelapseSince)
	}

	hasStatusClause := false
	for _, c := range pred.Clauses {
		cond, clauseArgs, err := clauseSQL(c, pred.Now)
		if err != nil {
			return "", nil, err
		}
		if c.Field == "status" {
			hasStatusClause = true
		}
		conds = append(conds, cond)
		args = append(args, clauseArgs...)
	}

	// Only active accounts receive notifications unless a custom clause
	// targets status explicitly.
	if !hasStatusClause {
		conds = append(conds, "status = ?")
		args = append(args, models.RecipientActive)
	}

	return strings.Join(conds, " AND "), args, nil
}

var sqlOps = map[string]string{
	models.OpEq:  "=",
	models.OpNe:  "!=",
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

func clauseSQL(c models.CriteriaClause, now time.Time) (string, []any, error) {
	op, ok := sqlOps[c.Op]
	if !ok {
		return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
	}

	switch c.Field {
	case "premium":
		b, ok := c.Value.(bool)
		if !ok {
			return "", nil, fmt.Errorf("field premium requires a boolean value")
		}
		return "premium " + op + " ?", []any{b}, nil

	case "status":
		s, ok := c.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("field status requires a string value")
		}
		return "status " + op + " ?", []any{s}, nil

	case "streak_days":
		n, err := numericValue(c.Value)
		if err != nil {
			return "", nil, err
		}
		return "streak_days " + op + " ?", []any{n}, nil

	case "days_since_active":
		return recencySQL("last_active_at", c, now)

	case "days_since_relapse":
		return recencySQL("last_relapse_at", c, now)
	}

	return "", nil, fmt.Errorf("unsupported criteria field %q", c.Field)
}

// recencySQL turns "days_since_X <op> N" into a timestamp comparison against
// now-N days. "More than N days ago" includes rows where the event never
// happened; "within N days" requires it did.
func recencySQL(column string, c models.CriteriaClause, now time.Time) (string, []any, error) {
	n, err := numericValue(c.Value)
	if err != nil {
		return "", nil, err
	}
	cutoff := now.AddDate(0, 0, -n)

	switch c.Op {
	case models.OpGt:
		return "(" + column + " IS NULL OR " + column + " < ?)", []any{cutoff}, nil
	case models.OpGte:
		return "(" + column + " IS NULL OR " + column + " <= ?)", []any{cutoff}, nil
	case models.OpLt:
		return "(" + column + " IS NOT NULL AND " + column + " > ?)", []any{cutoff}, nil
	case models.OpLte:
		return "(" + column + " IS NOT NULL AND " + column + " >= ?)", []any{cutoff}, nil
	}
	return "", nil, fmt.Errorf("operator %q not allowed for %s", c.Op, column)
}

func numericValue(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, fmt.Errorf("numeric value required, got %T", v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (models.Recipient, error) {
	var rec models.Recipient
	var deviceToken sql.NullString
	var lastActive, lastRelapse sql.NullTime

	err := row.Scan(&rec.ID, &rec.Email, &deviceToken, &rec.Premium, &rec.StreakDays,
		&lastActive, &lastRelapse, &rec.Status, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}

	if deviceToken.Valid {
		rec.DeviceToken = deviceToken.String
	}
	if lastActive.Valid {
		rec.LastActiveAt = &lastActive.Time
	}
	if lastRelapse.Valid {
		rec.LastRelapseAt = &lastRelapse.Time
	}
	return rec, nil
}
