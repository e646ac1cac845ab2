package fdd

import (
	"fmt"
	"sort"
)

// RuleID identifies a fault condition from the G36 catalogue.
type RuleID string

const (
	RuleFC1 RuleID = "fc1"
	RuleFC2 RuleID = "fc2"
	RuleFC3 RuleID = "fc3"
)

// StatusFanRunning is derived by FC1 and gates the temperature rules.
const StatusFanRunning = "fan_running"

// Status carries derived flags produced by one rule for dependents in the same pass.
type Status map[string]bool

// Input is the per-pass snapshot handed to an Evaluator.
type Input struct {
	Means      map[Signal]float64
	Thresholds map[string]float64
	Upstream   Status
}

// Mean returns the aggregated value of a signal.
func (in Input) Mean(signal Signal) (float64, error) {
	v, ok := in.Means[signal]
	if !ok {
		return 0, fmt.Errorf("%w: no window for %s", ErrInsufficientData, signal)
	}
	return v, nil
}

// Threshold returns a tunable read at evaluation time.
func (in Input) Threshold(name string) (float64, error) {
	v, ok := in.Thresholds[name]
	if !ok {
		return 0, fmt.Errorf("%w: threshold %s not read", ErrInsufficientData, name)
	}
	return v, nil
}

// Flag returns an upstream derived status.
func (in Input) Flag(name string) (bool, error) {
	v, ok := in.Upstream[name]
	if !ok {
		return false, fmt.Errorf("%w: upstream status %s missing", ErrInsufficientData, name)
	}
	return v, nil
}

// Result is a rule verdict plus derived statuses.
type Result struct {
	Fault   bool
	Derived Status
}

// Evaluator computes one fault condition.
type Evaluator interface {
	Signals() []Signal
	Thresholds() []string
	Evaluate(in Input) (Result, error)
}

// Descriptor is a catalogue entry: a rule id, its evaluator and the rules whose derived
// status it consumes.
type Descriptor struct {
	ID        RuleID
	Name      string
	Evaluator Evaluator
	DependsOn []RuleID
}

var catalogue = map[RuleID]Descriptor{
	RuleFC1: {
		ID:        RuleFC1,
		Name:      "Duct static pressure too low with fan at full speed",
		Evaluator: PressureFanRule{},
	},
	RuleFC2: {
		ID:        RuleFC2,
		Name:      "Mixed air temperature too low",
		Evaluator: MixedAirLowRule{},
		DependsOn: []RuleID{RuleFC1},
	},
	RuleFC3: {
		ID:        RuleFC3,
		Name:      "Mixed air temperature too high",
		Evaluator: MixedAirHighRule{},
		DependsOn: []RuleID{RuleFC1},
	},
}

// LookupRule returns a catalogue entry.
func LookupRule(id RuleID) (Descriptor, bool) {
	d, ok := catalogue[id]
	return d, ok
}

// CatalogueIDs lists all rule ids in stable order.
func CatalogueIDs() []RuleID {
	ids := make([]RuleID, 0, len(catalogue))
	for id := range catalogue {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RuleContext binds the windows of one rule on one equipment instance.
type RuleContext struct {
	rule       Descriptor
	windows    map[Signal]*SampleWindow
	minSamples int
}

func newRuleContext(rule Descriptor, minSamples int) *RuleContext {
	if minSamples < 1 {
		minSamples = 1
	}
	windows := make(map[Signal]*SampleWindow, len(rule.Evaluator.Signals()))
	for _, signal := range rule.Evaluator.Signals() {
		windows[signal] = NewSampleWindow()
	}
	return &RuleContext{rule: rule, windows: windows, minSamples: minSamples}
}

// Rule returns the descriptor.
func (c *RuleContext) Rule() Descriptor {
	return c.rule
}

// Append routes a sample into the window for signal, if the rule consumes it.
func (c *RuleContext) Append(signal Signal, value float64) bool {
	w, ok := c.windows[signal]
	if !ok {
		return false
	}
	w.Append(value)
	return true
}

// Sizes reports the current sample count per signal.
func (c *RuleContext) Sizes() map[Signal]int {
	sizes := make(map[Signal]int, len(c.windows))
	for signal, w := range c.windows {
		sizes[signal] = w.Size()
	}
	return sizes
}

// Drain aggregates every window into its mean and resets it. It fails with
// ErrInsufficientData when any window held fewer than the minimum samples; the windows are
// drained either way.
func (c *RuleContext) Drain() (map[Signal]float64, error) {
	means := make(map[Signal]float64, len(c.windows))
	var short []Signal
	for signal, w := range c.windows {
		if w.Size() < c.minSamples {
			short = append(short, signal)
		}
		means[signal] = w.Mean()
	}
	if len(short) > 0 {
		sort.Slice(short, func(i, j int) bool { return short[i] < short[j] })
		return nil, fmt.Errorf("%w: %v below %d samples", ErrInsufficientData, short, c.minSamples)
	}
	return means, nil
}

// Reset discards all samples without aggregating.
func (c *RuleContext) Reset() {
	for _, w := range c.windows {
		w.Reset()
	}
}
