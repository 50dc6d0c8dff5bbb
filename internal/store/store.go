package store

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/session-monitor/internal/router"
)

// Status tells consumers what kind of data a snapshot holds.
type Status int

const (
	StatusPending Status = iota // No data yet
	StatusReady                 // Data present
	StatusFailed                // Last fetch failed and no data present
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is an immutable copy of a store's state.
type Snapshot[V any] struct {
	Value        V
	Status       Status
	HydrationErr error
	Version      uint64 // Incremented on every applied change
	UpdatedAt    time.Time
}

// MergeFunc applies an event to the current value. It returns the new value
// and whether anything changed. It must not modify cur in place.
type MergeFunc[V any] func(cur V, ev router.Event) (V, bool)

// CloneFunc returns a deep copy of a value.
type CloneFunc[V any] func(V) V

// Option configures a Store.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock used for UpdatedAt.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Store holds the current value for one topic. All methods are safe for
// concurrent use; every merge is atomic with respect to readers.
type Store[V any] struct {
	merge MergeFunc[V]
	clone CloneFunc[V]
	clock clockwork.Clock

	mu           sync.Mutex
	value        V
	hasValue     bool
	hydrationErr error
	version      uint64
	updatedAt    time.Time

	subs   map[int]chan Snapshot[V]
	nextID int
}

// New creates an empty Store using the given merge and clone functions.
func New[V any](merge MergeFunc[V], clone CloneFunc[V], opts ...Option) *Store[V] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Store[V]{
		merge: merge,
		clone: clone,
		clock: o.clock,
		subs:  make(map[int]chan Snapshot[V]),
	}
}

// ApplyHydration replaces the value unconditionally and clears any
// previous hydration error.
func (s *Store[V]) ApplyHydration(v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = s.clone(v)
	s.hasValue = true
	s.hydrationErr = nil
	s.changedLocked()
}

// ApplyHydrationError records a failed fetch. Existing data is kept.
func (s *Store[V]) ApplyHydrationError(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrationErr = err
	s.changedLocked()
}

// ApplyEvent merges a push event. It returns true if the value changed.
func (s *Store[V]) ApplyEvent(ev router.Event) bool {
	if ev == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, applied := s.merge(s.value, ev)
	if !applied {
		return false
	}

	s.value = next
	s.hasValue = true
	s.changedLocked()
	return true
}

// Current returns a deep copy of the store's state.
func (s *Store[V]) Current() Snapshot[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot after every change.
// Delivery is latest-wins: a slow reader only sees the most recent snapshot.
// The channel is closed by cancel.
func (s *Store[V]) Subscribe() (<-chan Snapshot[V], func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot[V], 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store[V]) snapshotLocked() Snapshot[V] {
	snap := Snapshot[V]{
		HydrationErr: s.hydrationErr,
		Version:      s.version,
		UpdatedAt:    s.updatedAt,
	}

	switch {
	case s.hasValue:
		snap.Value = s.clone(s.value)
		snap.Status = StatusReady
	case s.hydrationErr != nil:
		snap.Status = StatusFailed
	default:
		snap.Status = StatusPending
	}

	return snap
}

// changedLocked bumps the version and notifies subscribers. Must be called
// with the lock held.
func (s *Store[V]) changedLocked() {
	s.version++
	s.updatedAt = s.clock.Now()

	for _, ch := range s.subs {
		snap := s.snapshotLocked()
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
