package snapshot

import (
	"context"
	"sync/atomic"
	"time"
)

// Store holds the live snapshot of one device and serialises updates to it.
//
// Readers call Current (or Copy) and never block. Writers go through
// PerformUpdate, which runs at most one transaction at a time: a second caller
// waits until the in-flight transaction finishes or its context ends.
type Store struct {
	current atomic.Pointer[Snapshot]
	sem     chan struct{}
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the time source used to stamp commits.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store holding the empty snapshot.
func NewStore(opts ...Option) *Store {
	s := &Store{sem: make(chan struct{}, 1), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(empty)
	return s
}

// Current returns the most recently published snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Copy returns an independent point-in-time snapshot. Published snapshots are
// immutable, so the live instance can keep updating without affecting it.
func (s *Store) Copy() *Snapshot {
	return s.Current()
}

// Word looks up addr in the current snapshot.
func (s *Store) Word(addr int) (uint16, bool) {
	return s.Current().Word(addr)
}

// DataTimestamp returns the time of the last successful commit.
func (s *Store) DataTimestamp() time.Time {
	return s.Current().Timestamp()
}

// PerformUpdate runs body against a private working view and publishes the
// result atomically when body succeeds. When body returns an error (or
// panics) nothing is published and the previous snapshot stays visible.
// The boolean returned by body is passed through, typically "data changed".
func (s *Store) PerformUpdate(ctx context.Context, body func(*Working) (bool, error)) (bool, error) {
	return Transact(ctx, s, body)
}

// Transact is PerformUpdate for transactions that report a result other than
// a boolean.
func Transact[T any](ctx context.Context, s *Store, body func(*Working) (T, error)) (T, error) {
	var zero T
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-s.sem }()

	base := s.current.Load()
	w := newWorking(base)
	defer w.close()
	result, err := body(w)
	if err != nil {
		return zero, err
	}
	ts := s.now()
	if ts.Before(base.timestamp) {
		ts = base.timestamp
	}
	s.current.Store(&Snapshot{words: w.result(), timestamp: ts, version: base.version + 1})
	return result, nil
}
