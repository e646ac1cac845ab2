package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fdd "ahu-fdd/internal/fdd/domain"
)

// ErrThresholdNotFound is returned when no override or default exists.
var ErrThresholdNotFound = errors.New("threshold repo: not found")

// ThresholdRepository persists operator threshold overrides. Reads go to the database on
// every call and fall back to configured defaults when no override row exists.
type ThresholdRepository struct {
	db       *sql.DB
	defaults func(equipmentID string, rule fdd.RuleID) map[string]float64
}

// NewThresholdRepository constructs a repository. A nil defaults func falls back to factory
// values.
func NewThresholdRepository(db *sql.DB, defaults func(equipmentID string, rule fdd.RuleID) map[string]float64) *ThresholdRepository {
	if defaults == nil {
		defaults = func(_ string, rule fdd.RuleID) map[string]float64 {
			return fdd.DefaultThresholds(rule)
		}
	}
	return &ThresholdRepository{db: db, defaults: defaults}
}

// ReadThreshold implements application.ThresholdReader.
func (r *ThresholdRepository) ReadThreshold(ctx context.Context, equipmentID string, ruleID fdd.RuleID, name string) (float64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("threshold repo: nil db")
	}
	var value float64
	err := r.db.QueryRowContext(ctx, `
SELECT value
FROM fdd_thresholds
WHERE equipment_id = $1 AND rule_id = $2 AND name = $3`, equipmentID, string(ruleID), name).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if v, ok := r.defaults(equipmentID, ruleID)[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s/%s/%s", ErrThresholdNotFound, equipmentID, ruleID, name)
}

// SetThreshold upserts an operator override.
func (r *ThresholdRepository) SetThreshold(ctx context.Context, equipmentID string, ruleID fdd.RuleID, name string, value float64) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO fdd_thresholds (
	equipment_id, rule_id, name, value, updated_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (equipment_id, rule_id, name)
DO UPDATE SET
	value = EXCLUDED.value,
	updated_at = EXCLUDED.updated_at`,
		equipmentID,
		string(ruleID),
		name,
		value,
		time.Now().UTC(),
	)
	return err
}

// Thresholds returns the effective thresholds of a rule.
func (r *ThresholdRepository) Thresholds(ctx context.Context, equipmentID string, ruleID fdd.RuleID) (map[string]float64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	out := make(map[string]float64)
	for name, v := range r.defaults(equipmentID, ruleID) {
		out[name] = v
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT name, value
FROM fdd_thresholds
WHERE equipment_id = $1 AND rule_id = $2`, equipmentID, string(ruleID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			value float64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// ForgetThresholds deletes the overrides of an equipment.
func (r *ThresholdRepository) ForgetThresholds(ctx context.Context, equipmentID string) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM fdd_thresholds WHERE equipment_id = $1`, equipmentID)
	return err
}
