package notify

import (
	"context"
	"errors"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

// MultiWriter forwards transitions to several sinks. Every sink is attempted; failures are
// joined.
type MultiWriter struct {
	writers []application.AlarmWriter
}

// NewMultiWriter constructs a MultiWriter, skipping nil writers.
func NewMultiWriter(writers ...application.AlarmWriter) *MultiWriter {
	out := make([]application.AlarmWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return &MultiWriter{writers: out}
}

// WriteAlarm implements application.AlarmWriter.
func (m *MultiWriter) WriteAlarm(ctx context.Context, transition fdd.AlarmTransition) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, w := range m.writers {
		if err := w.WriteAlarm(ctx, transition); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *MultiWriter) Len() int {
	if m == nil {
		return 0
	}
	return len(m.writers)
}
