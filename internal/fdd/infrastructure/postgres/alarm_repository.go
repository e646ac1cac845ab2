package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

const defaultListLimit = 500

// AlarmRepository records alarm transitions and the current latch snapshot.
type AlarmRepository struct {
	db    *sql.DB
	newID func() string
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db, newID: func() string { return uuid.NewString() }}
}

// WriteAlarm appends the transition to history and upserts the latch snapshot in one
// transaction.
func (r *AlarmRepository) WriteAlarm(ctx context.Context, transition fdd.AlarmTransition) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if transition.EquipmentID == "" || transition.RuleID == "" {
		return errors.New("alarm repo: equipment and rule required")
	}
	at := transition.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO fdd_alarm_events (
	id, equipment_id, rule_id, from_state, to_state, occurred_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)`,
		r.newID(),
		transition.EquipmentID,
		string(transition.RuleID),
		string(transition.From),
		string(transition.To),
		at,
	); err != nil {
		return fmt.Errorf("alarm repo: insert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO fdd_alarm_states (
	equipment_id, rule_id, state, since, updated_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (equipment_id, rule_id)
DO UPDATE SET
	state = EXCLUDED.state,
	since = EXCLUDED.since,
	updated_at = EXCLUDED.updated_at`,
		transition.EquipmentID,
		string(transition.RuleID),
		string(transition.To),
		at,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("alarm repo: upsert state: %w", err)
	}
	return tx.Commit()
}

// ListAlarms returns recorded transitions, newest first.
func (r *AlarmRepository) ListAlarms(ctx context.Context, query application.AlarmQuery) ([]application.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	var (
		clauses []string
		args    []any
	)
	if query.EquipmentID != "" {
		args = append(args, query.EquipmentID)
		clauses = append(clauses, fmt.Sprintf("equipment_id = $%d", len(args)))
	}
	if query.RuleID != "" {
		args = append(args, string(query.RuleID))
		clauses = append(clauses, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if !query.Since.IsZero() {
		args = append(args, query.Since.UTC())
		clauses = append(clauses, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	stmt := `
SELECT id, equipment_id, rule_id, from_state, to_state, occurred_at
FROM fdd_alarm_events`
	if len(clauses) > 0 {
		stmt += "\nWHERE " + strings.Join(clauses, " AND ")
	}
	stmt += fmt.Sprintf("\nORDER BY occurred_at DESC\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.AlarmEvent
	for rows.Next() {
		var (
			event    application.AlarmEvent
			ruleID   string
			from, to string
		)
		if err := rows.Scan(&event.ID, &event.EquipmentID, &ruleID, &from, &to, &event.At); err != nil {
			return nil, err
		}
		event.RuleID = fdd.RuleID(ruleID)
		event.From = fdd.AlarmState(from)
		event.To = fdd.AlarmState(to)
		event.At = event.At.UTC()
		out = append(out, event)
	}
	return out, rows.Err()
}
