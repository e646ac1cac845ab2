package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	fdd "ahu-fdd/internal/fdd/domain"
)

// ErrThresholdNotFound is returned when neither an override nor a default exists.
var ErrThresholdNotFound = errors.New("threshold: not found")

// DefaultsFunc resolves configured thresholds of a rule for one equipment.
type DefaultsFunc func(equipmentID string, rule fdd.RuleID) map[string]float64

type thresholdKey struct {
	equipmentID string
	rule        fdd.RuleID
	name        string
}

// ThresholdStore serves thresholds from operator overrides layered on configured defaults.
type ThresholdStore struct {
	mu        sync.RWMutex
	overrides map[thresholdKey]float64
	defaults  DefaultsFunc
}

// NewThresholdStore constructs a store. A nil defaults func falls back to factory values.
func NewThresholdStore(defaults DefaultsFunc) *ThresholdStore {
	if defaults == nil {
		defaults = func(_ string, rule fdd.RuleID) map[string]float64 {
			return fdd.DefaultThresholds(rule)
		}
	}
	return &ThresholdStore{
		overrides: make(map[thresholdKey]float64),
		defaults:  defaults,
	}
}

// ReadThreshold implements application.ThresholdReader.
func (s *ThresholdStore) ReadThreshold(_ context.Context, equipmentID string, ruleID fdd.RuleID, name string) (float64, error) {
	s.mu.RLock()
	v, ok := s.overrides[thresholdKey{equipmentID, ruleID, name}]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}
	if v, ok := s.defaults(equipmentID, ruleID)[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s/%s/%s", ErrThresholdNotFound, equipmentID, ruleID, name)
}

// SetThreshold stores an operator override.
func (s *ThresholdStore) SetThreshold(_ context.Context, equipmentID string, ruleID fdd.RuleID, name string, value float64) error {
	s.mu.Lock()
	s.overrides[thresholdKey{equipmentID, ruleID, name}] = value
	s.mu.Unlock()
	return nil
}

// Thresholds returns the effective thresholds of a rule.
func (s *ThresholdStore) Thresholds(_ context.Context, equipmentID string, ruleID fdd.RuleID) (map[string]float64, error) {
	out := make(map[string]float64)
	for name, v := range s.defaults(equipmentID, ruleID) {
		out[name] = v
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, v := range s.overrides {
		if key.equipmentID == equipmentID && key.rule == ruleID {
			out[key.name] = v
		}
	}
	return out, nil
}

// ForgetThresholds drops overrides of an equipment.
func (s *ThresholdStore) ForgetThresholds(_ context.Context, equipmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.overrides {
		if key.equipmentID == equipmentID {
			delete(s.overrides, key)
		}
	}
	return nil
}
