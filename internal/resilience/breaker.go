// Package resilience provides the circuit breaker that guards the cloud
// uplink. When consecutive sends fail, the breaker opens so sync batches fail
// fast instead of burning retries against a dead link; after a cool-down a
// half-open probe decides whether to close again.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker is open and the cool-down has
// not elapsed. Callers should treat it as "link still down" rather than as a
// failure of the wrapped call.
var ErrOpen = errors.New("breaker open")

// State is the breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls until the cool-down elapses.
	Open

	// HalfOpen lets one probe call through to test recovery.
	HalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a Breaker that opens after threshold consecutive
// failures and probes recovery after cooldown. Zero values get defaults
// (5 failures, 30s).
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown}
}

// Do runs fn when the breaker allows it. While open it returns ErrOpen
// without invoking fn; after the cool-down a single call probes the link.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = false
		slog.Info("breaker half-open", "name", b.name)
		fallthrough
	case HalfOpen:
		if b.probing {
			// One probe at a time.
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	half := b.state == HalfOpen
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if half {
		b.probing = false
	}

	if err != nil {
		b.failures++
		if half || b.failures >= b.threshold {
			if b.state != Open {
				slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
			}
			b.state = Open
			b.openedAt = time.Now()
		}
		return err
	}

	if b.state != Closed {
		slog.Info("breaker closed", "name", b.name)
	}
	b.state = Closed
	b.failures = 0
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
