package fdd

import "time"

// AlarmState is the debounced state of one fault alarm.
type AlarmState string

const (
	AlarmInactive AlarmState = "inactive"
	AlarmActive   AlarmState = "active"
)

// AlarmLatch turns raw verdicts into sticky alarm state. Only changes are reported.
type AlarmLatch struct {
	state AlarmState
	since time.Time
}

// NewAlarmLatch returns an inactive latch.
func NewAlarmLatch() *AlarmLatch {
	return &AlarmLatch{state: AlarmInactive}
}

// State returns the current state and when it was entered. Since is zero until the first
// transition.
func (l *AlarmLatch) State() (AlarmState, time.Time) {
	return l.state, l.since
}

// Active reports whether the alarm is raised.
func (l *AlarmLatch) Active() bool {
	return l.state == AlarmActive
}

// Update applies a verdict. It returns the previous and new state and true only when the
// state changed.
func (l *AlarmLatch) Update(fault bool, at time.Time) (from, to AlarmState, changed bool) {
	from = l.state
	to = AlarmInactive
	if fault {
		to = AlarmActive
	}
	if from == to {
		return from, to, false
	}
	l.state = to
	l.since = at
	return from, to, true
}

// AlarmTransition is the only externally observable latch event.
type AlarmTransition struct {
	EquipmentID string     `json:"equipment_id"`
	RuleID      RuleID     `json:"rule_id"`
	From        AlarmState `json:"from"`
	To          AlarmState `json:"to"`
	At          time.Time  `json:"at"`
}
