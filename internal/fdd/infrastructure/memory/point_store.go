package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ahu-fdd/internal/fdd/application"
	fdd "ahu-fdd/internal/fdd/domain"
)

type pointValue struct {
	value float64
	at    time.Time
}

// PointStore keeps the latest value of every point reference. Subscribers write into it and
// the scheduler polls it as a PointReader.
type PointStore struct {
	mu     sync.RWMutex
	values map[fdd.PointRef]pointValue
	maxAge time.Duration
	now    func() time.Time
}

// NewPointStore constructs a store. Values older than maxAge read as unavailable; zero
// disables the age check.
func NewPointStore(maxAge time.Duration) *PointStore {
	return &PointStore{
		values: make(map[fdd.PointRef]pointValue),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Put records the latest value of a point.
func (s *PointStore) Put(ref fdd.PointRef, value float64, at time.Time) {
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.values[ref]; ok && current.at.After(at) {
		return
	}
	s.values[ref] = pointValue{value: value, at: at}
}

// ReadValue implements application.PointReader.
func (s *PointStore) ReadValue(_ context.Context, addr application.PointAddress) (float64, error) {
	s.mu.RLock()
	v, ok := s.values[addr.Ref]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", application.ErrPointUnavailable, addr.Ref)
	}
	if s.maxAge > 0 && s.now().Sub(v.at) > s.maxAge {
		return 0, fmt.Errorf("%w: %s is stale", application.ErrPointUnavailable, addr.Ref)
	}
	return v.value, nil
}

// Len returns the number of points held.
func (s *PointStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
