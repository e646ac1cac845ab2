package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

// AlarmLog keeps the most recent transitions when no database is configured.
type AlarmLog struct {
	mu       sync.RWMutex
	events   []application.AlarmEvent
	capacity int
}

// NewAlarmLog constructs a log holding at most capacity events.
func NewAlarmLog(capacity int) *AlarmLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &AlarmLog{capacity: capacity}
}

// WriteAlarm implements application.AlarmWriter.
func (l *AlarmLog) WriteAlarm(_ context.Context, transition fdd.AlarmTransition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, application.AlarmEvent{ID: uuid.NewString(), AlarmTransition: transition})
	if over := len(l.events) - l.capacity; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	return nil
}

// ListAlarms implements application.AlarmHistory.
func (l *AlarmLog) ListAlarms(_ context.Context, query application.AlarmQuery) ([]application.AlarmEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []application.AlarmEvent
	for i := len(l.events) - 1; i >= 0; i-- {
		event := l.events[i]
		if query.EquipmentID != "" && event.EquipmentID != query.EquipmentID {
			continue
		}
		if query.RuleID != "" && event.RuleID != query.RuleID {
			continue
		}
		if !query.Since.IsZero() && event.At.Before(query.Since) {
			continue
		}
		out = append(out, event)
		if query.Limit > 0 && len(out) == query.Limit {
			break
		}
	}
	return out, nil
}
