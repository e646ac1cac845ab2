package fdd

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData marks a transient data gap: an empty window, a window below the
	// minimum sample count, or an upstream status that was not produced this pass.
	ErrInsufficientData = errors.New("fdd: insufficient data")
	// ErrUnknownEquipment indicates an equipment id that is not registered.
	ErrUnknownEquipment = errors.New("fdd: unknown equipment")
	// ErrDuplicateEquipment indicates a second registration of the same id.
	ErrDuplicateEquipment = errors.New("fdd: equipment already registered")
	// ErrUnknownSignal indicates a sample for a signal the equipment does not declare.
	ErrUnknownSignal = errors.New("fdd: signal not bound")
	// ErrUnknownRule indicates a rule id outside the catalogue.
	ErrUnknownRule = errors.New("fdd: unknown rule")
	// ErrNonFiniteValue rejects NaN and infinite samples.
	ErrNonFiniteValue = errors.New("fdd: non-finite value")
)

// ConfigurationError reports a rule that cannot run for an equipment instance because a
// binding or threshold is missing. The rule is disabled; the instance stays registered.
type ConfigurationError struct {
	EquipmentID string
	RuleID      RuleID
	Reason      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("fdd: rule %s disabled for %s: %s", e.RuleID, e.EquipmentID, e.Reason)
}

// EvaluationFault wraps an unexpected failure inside one rule evaluation.
type EvaluationFault struct {
	EquipmentID string
	RuleID      RuleID
	Err         error
}

func (e *EvaluationFault) Error() string {
	return fmt.Sprintf("fdd: evaluate %s on %s: %v", e.RuleID, e.EquipmentID, e.Err)
}

func (e *EvaluationFault) Unwrap() error {
	return e.Err
}
