package application

import (
	"context"
	"errors"
	"time"

	fdd "ahu-fdd/internal/fdd/domain"
)

// ErrPointUnavailable is returned by a PointReader when no current value exists.
var ErrPointUnavailable = errors.New("fdd: point unavailable")

// PointAddress identifies one external point of one equipment instance.
type PointAddress struct {
	EquipmentID string
	Signal      fdd.Signal
	Ref         fdd.PointRef
}

// PointReader reads live point values once per ingestion tick.
type PointReader interface {
	ReadValue(ctx context.Context, addr PointAddress) (float64, error)
}

// AlarmWriter receives debounced alarm transitions.
type AlarmWriter interface {
	WriteAlarm(ctx context.Context, transition fdd.AlarmTransition) error
}

// ThresholdReader returns the current value of a rule tunable. It is consulted on every
// evaluation; values are never cached across cycles.
type ThresholdReader interface {
	ReadThreshold(ctx context.Context, equipmentID string, ruleID fdd.RuleID, name string) (float64, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ThresholdStore is a ThresholdReader operators can write through.
type ThresholdStore interface {
	ThresholdReader
	SetThreshold(ctx context.Context, equipmentID string, ruleID fdd.RuleID, name string, value float64) error
	Thresholds(ctx context.Context, equipmentID string, ruleID fdd.RuleID) (map[string]float64, error)
	ForgetThresholds(ctx context.Context, equipmentID string) error
}

// AlarmEvent is a persisted alarm transition.
type AlarmEvent struct {
	ID string `json:"id"`
	fdd.AlarmTransition
}

// AlarmQuery filters alarm history. Zero values mean no filter.
type AlarmQuery struct {
	EquipmentID string
	RuleID      fdd.RuleID
	Since       time.Time
	Limit       int
}

// AlarmHistory lists recorded transitions, newest first.
type AlarmHistory interface {
	ListAlarms(ctx context.Context, query AlarmQuery) ([]AlarmEvent, error)
}
