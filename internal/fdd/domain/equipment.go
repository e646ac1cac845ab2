package fdd

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// EquipmentConfig is the validated registration record of one monitored AHU.
type EquipmentConfig struct {
	ID         string
	Name       string
	Points     map[Signal]PointRef
	Rules      []RuleID
	Thresholds map[RuleID]map[string]float64
	MinSamples int
}

// Validate checks fatal invariants. Per-rule problems are reported separately as
// ConfigurationError values by NewEquipmentInstance.
func (c EquipmentConfig) Validate() error {
	if c.ID == "" {
		return errors.New("equipment: empty id")
	}
	if len(c.Rules) == 0 {
		return errors.New("equipment: no rules for " + c.ID)
	}
	for signal, ref := range c.Points {
		if err := (PointBinding{Signal: signal, Ref: ref}).Validate(); err != nil {
			return fmt.Errorf("equipment %s: %w", c.ID, err)
		}
	}
	return nil
}

// RuleOutcome is the result of one rule in one evaluation pass.
type RuleOutcome struct {
	RuleID     RuleID
	Result     Result
	Err        error
	Transition *AlarmTransition
}

// Skipped reports whether the rule produced no verdict this pass.
func (o RuleOutcome) Skipped() bool {
	return o.Err != nil
}

// AlarmStatus is a read-only view of a latch.
type AlarmStatus struct {
	RuleID RuleID     `json:"rule_id"`
	Name   string     `json:"name"`
	State  AlarmState `json:"state"`
	Since  time.Time  `json:"since,omitempty"`
}

type ruleSlot struct {
	ctx   *RuleContext
	latch *AlarmLatch
}

// EquipmentInstance owns the rule contexts and latches of one AHU. All methods serialize on
// an instance lock so ingestion and evaluation never interleave on the same instance.
type EquipmentInstance struct {
	mu       sync.Mutex
	id       string
	name     string
	bindings map[Signal]PointRef
	order    []*ruleSlot
	slots    map[RuleID]*ruleSlot
	routes   map[Signal][]*RuleContext
	disabled map[RuleID]string
}

// NewEquipmentInstance builds an instance from configuration. Rules whose bindings or
// thresholds are missing, or whose dependencies are disabled, are left out and reported as
// configuration errors; the instance is still usable with the remaining rules.
func NewEquipmentInstance(cfg EquipmentConfig) (*EquipmentInstance, []*ConfigurationError, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	inst := &EquipmentInstance{
		id:       cfg.ID,
		name:     cfg.Name,
		bindings: make(map[Signal]PointRef, len(cfg.Points)),
		slots:    make(map[RuleID]*ruleSlot),
		routes:   make(map[Signal][]*RuleContext),
		disabled: make(map[RuleID]string),
	}
	for signal, ref := range cfg.Points {
		inst.bindings[signal] = ref
	}

	var problems []*ConfigurationError
	disable := func(id RuleID, reason string) {
		inst.disabled[id] = reason
		problems = append(problems, &ConfigurationError{EquipmentID: cfg.ID, RuleID: id, Reason: reason})
	}

	requested := make(map[RuleID]Descriptor, len(cfg.Rules))
	for _, id := range cfg.Rules {
		rule, ok := LookupRule(id)
		if !ok {
			return nil, nil, fmt.Errorf("equipment %s: %w: %s", cfg.ID, ErrUnknownRule, id)
		}
		if reason := missingBindings(rule, cfg); reason != "" {
			disable(id, reason)
			continue
		}
		requested[id] = rule
	}

	ordered, err := sortByDependency(requested)
	if err != nil {
		return nil, nil, fmt.Errorf("equipment %s: %w", cfg.ID, err)
	}
	for _, rule := range ordered {
		if reason := unmetDependency(rule, inst.slots, inst.disabled); reason != "" {
			disable(rule.ID, reason)
			continue
		}
		slot := &ruleSlot{ctx: newRuleContext(rule, cfg.MinSamples), latch: NewAlarmLatch()}
		inst.slots[rule.ID] = slot
		inst.order = append(inst.order, slot)
		for _, signal := range rule.Evaluator.Signals() {
			inst.routes[signal] = append(inst.routes[signal], slot.ctx)
		}
	}
	return inst, problems, nil
}

func missingBindings(rule Descriptor, cfg EquipmentConfig) string {
	for _, signal := range rule.Evaluator.Signals() {
		if _, ok := cfg.Points[signal]; !ok {
			return "missing point binding for " + string(signal)
		}
	}
	thresholds := cfg.Thresholds[rule.ID]
	for _, name := range rule.Evaluator.Thresholds() {
		if _, ok := thresholds[name]; !ok {
			return "missing threshold " + name
		}
	}
	return ""
}

func unmetDependency(rule Descriptor, enabled map[RuleID]*ruleSlot, disabled map[RuleID]string) string {
	for _, dep := range rule.DependsOn {
		if _, ok := enabled[dep]; ok {
			continue
		}
		if _, ok := disabled[dep]; ok {
			return "dependency " + string(dep) + " is disabled"
		}
		return "dependency " + string(dep) + " is not configured"
	}
	return ""
}

// sortByDependency orders rules so every rule follows the rules it depends on. Rules
// outside the set are ignored here and rejected by unmetDependency.
func sortByDependency(rules map[RuleID]Descriptor) ([]Descriptor, error) {
	ids := make([]RuleID, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[RuleID]int, len(rules))
	ordered := make([]Descriptor, 0, len(rules))
	var visit func(id RuleID) error
	visit = func(id RuleID) error {
		switch marks[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle at %s", id)
		}
		marks[id] = visiting
		rule := rules[id]
		for _, dep := range rule.DependsOn {
			if _, ok := rules[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[id] = done
		ordered = append(ordered, rule)
		return nil
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// ID returns the equipment id.
func (e *EquipmentInstance) ID() string {
	return e.id
}

// Name returns the display name, falling back to the id.
func (e *EquipmentInstance) Name() string {
	if e.name == "" {
		return e.id
	}
	return e.name
}

// Bindings returns a copy of the signal to point bindings.
func (e *EquipmentInstance) Bindings() map[Signal]PointRef {
	out := make(map[Signal]PointRef, len(e.bindings))
	for signal, ref := range e.bindings {
		out[signal] = ref
	}
	return out
}

// Signals lists the bound signals that at least one enabled rule consumes.
func (e *EquipmentInstance) Signals() []Signal {
	signals := make([]Signal, 0, len(e.routes))
	for signal := range e.routes {
		signals = append(signals, signal)
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i] < signals[j] })
	return signals
}

// RuleIDs lists enabled rules in evaluation order.
func (e *EquipmentInstance) RuleIDs() []RuleID {
	ids := make([]RuleID, 0, len(e.order))
	for _, slot := range e.order {
		ids = append(ids, slot.ctx.rule.ID)
	}
	return ids
}

// Disabled returns rules left out at registration with the reason.
func (e *EquipmentInstance) Disabled() map[RuleID]string {
	out := make(map[RuleID]string, len(e.disabled))
	for id, reason := range e.disabled {
		out[id] = reason
	}
	return out
}

// ThresholdNames returns the tunables each enabled rule reads.
func (e *EquipmentInstance) ThresholdNames() map[RuleID][]string {
	out := make(map[RuleID][]string, len(e.order))
	for _, slot := range e.order {
		out[slot.ctx.rule.ID] = slot.ctx.rule.Evaluator.Thresholds()
	}
	return out
}

// Append routes one sample to every window bound to signal. NaN and infinite values are
// rejected and leave the windows untouched.
func (e *EquipmentInstance) Append(signal Signal, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s on %s", ErrNonFiniteValue, signal, e.id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	contexts, ok := e.routes[signal]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownSignal, signal, e.id)
	}
	for _, ctx := range contexts {
		ctx.Append(signal, value)
	}
	return nil
}

// WindowSizes reports pending sample counts per rule and signal.
func (e *EquipmentInstance) WindowSizes() map[RuleID]map[Signal]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[RuleID]map[Signal]int, len(e.order))
	for _, slot := range e.order {
		out[slot.ctx.rule.ID] = slot.ctx.Sizes()
	}
	return out
}

// Alarms returns the latch state of every enabled rule.
func (e *EquipmentInstance) Alarms() []AlarmStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AlarmStatus, 0, len(e.order))
	for _, slot := range e.order {
		state, since := slot.latch.State()
		out = append(out, AlarmStatus{RuleID: slot.ctx.rule.ID, Name: slot.ctx.rule.Name, State: state, Since: since})
	}
	return out
}

// Evaluate runs one pass over all enabled rules in dependency order. thresholds holds the
// values read for this pass; a rule without thresholds is skipped as a data gap. Every
// window is drained by the end of the pass. Latches change only on a verdict.
func (e *EquipmentInstance) Evaluate(now time.Time, thresholds map[RuleID]map[string]float64) []RuleOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := make(map[RuleID]Status, len(e.order))
	outcomes := make([]RuleOutcome, 0, len(e.order))
	for _, slot := range e.order {
		rule := slot.ctx.rule
		outcome := RuleOutcome{RuleID: rule.ID}

		upstream, err := collectUpstream(rule, status)
		if err != nil {
			slot.ctx.Reset()
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}
		means, err := slot.ctx.Drain()
		if err != nil {
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}
		values, ok := thresholds[rule.ID]
		if !ok {
			outcome.Err = fmt.Errorf("%w: thresholds unavailable", ErrInsufficientData)
			outcomes = append(outcomes, outcome)
			continue
		}

		result, err := safeEvaluate(rule.Evaluator, Input{Means: means, Thresholds: values, Upstream: upstream})
		if err != nil {
			if !errors.Is(err, ErrInsufficientData) {
				err = &EvaluationFault{EquipmentID: e.id, RuleID: rule.ID, Err: err}
			}
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Result = result
		status[rule.ID] = result.Derived
		if from, to, changed := slot.latch.Update(result.Fault, now); changed {
			outcome.Transition = &AlarmTransition{EquipmentID: e.id, RuleID: rule.ID, From: from, To: to, At: now}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func collectUpstream(rule Descriptor, status map[RuleID]Status) (Status, error) {
	upstream := Status{}
	for _, dep := range rule.DependsOn {
		derived, ok := status[dep]
		if !ok {
			return nil, fmt.Errorf("%w: dependency %s produced no status", ErrInsufficientData, dep)
		}
		for k, v := range derived {
			upstream[k] = v
		}
	}
	return upstream, nil
}

func safeEvaluate(evaluator Evaluator, in Input) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return evaluator.Evaluate(in)
}
