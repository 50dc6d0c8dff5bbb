package connection

import "time"

// Default reconnect delays.
const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 8 * time.Second
)

// Backoff produces reconnect delays that double after every failure up to
// a cap. It is not safe for concurrent use; each Reconnecting loop owns one.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff. Non-positive values fall back to the defaults
// and max is raised to initial if smaller.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Current returns the delay Next would return without advancing.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Reset returns the delay to its initial value.
func (b *Backoff) Reset() {
	b.current = b.initial
}
