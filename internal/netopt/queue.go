package netopt

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders sync operations; lower values drain first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

// String returns the lower-case priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ConflictStrategy selects how a sync conflict is resolved.
type ConflictStrategy int

const (
	// ServerWins discards the local payload in favour of the server's.
	ServerWins ConflictStrategy = iota

	// ClientWins pushes the local payload over the server's.
	ClientWins

	// Merge overlays local fields onto the server payload.
	Merge

	// Manual holds the operation for external resolution; it is never
	// resolved automatically.
	Manual
)

func (s ConflictStrategy) String() string {
	switch s {
	case ServerWins:
		return "server_wins"
	case ClientWins:
		return "client_wins"
	case Merge:
		return "merge"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// Operation is one queued unit of work for the cloud uplink.
type Operation struct {
	// ID uniquely identifies the operation; assigned on enqueue when empty.
	ID string

	// Type names the kind of work (e.g. "transcription", "profile-update").
	Type string

	// Priority orders the operation within the queue.
	Priority Priority

	// Payload is the data to sync.
	Payload map[string]any

	// BaseVersion is the server version this payload was derived from; the
	// uplink ack carrying a newer version signals a conflict.
	BaseVersion int64

	// Timestamp is when the operation was enqueued.
	Timestamp time.Time

	// RetryCount tracks failed send attempts.
	RetryCount int

	// MaxRetries bounds RetryCount; the operation is dropped once reached.
	MaxRetries int

	// Strategy selects conflict resolution for this operation.
	Strategy ConflictStrategy

	// Held marks an operation awaiting manual conflict resolution; held
	// operations are skipped by automatic batches.
	Held bool

	// ConflictVersion records the server version reported by the conflicting
	// ack, so manual resolution can rebase onto it.
	ConflictVersion int64
}

// ErrQueueFull is returned when the queue is at capacity and holds nothing
// evictable (only critical and high priority entries).
var ErrQueueFull = errors.New("sync queue full: no evictable operations")

// Queue is the bounded priority sync queue. Iteration order is ascending
// priority with arrival order breaking ties. On overflow the single oldest
// low-priority entry is evicted, falling back to the oldest normal entry;
// critical and high entries are never evicted. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	ops     []*Operation
	maxSize int

	// onEvict, when set, observes overflow evictions.
	onEvict func(*Operation)
}

// NewQueue creates a queue bounded at maxSize entries.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Queue{maxSize: maxSize}
}

// SetEvictionObserver registers a callback invoked for each overflow
// eviction. Must be set before concurrent use begins.
func (q *Queue) SetEvictionObserver(fn func(*Operation)) {
	q.onEvict = fn
}

// Enqueue inserts op in priority order, evicting on overflow per policy.
// Returns the evicted operation, if any.
func (q *Queue) Enqueue(op *Operation) (*Operation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted *Operation
	if len(q.ops) >= q.maxSize {
		evicted = q.evictLocked()
		if evicted == nil {
			return nil, ErrQueueFull
		}
	}

	// Insert before the first entry with a strictly higher priority value,
	// keeping arrival order within a priority class.
	idx := len(q.ops)
	for i, existing := range q.ops {
		if existing.Priority > op.Priority {
			idx = i
			break
		}
	}
	q.ops = append(q.ops, nil)
	copy(q.ops[idx+1:], q.ops[idx:])
	q.ops[idx] = op

	if evicted != nil && q.onEvict != nil {
		q.onEvict(evicted)
	}
	return evicted, nil
}

// evictLocked removes and returns the oldest LOW entry, else the oldest
// NORMAL entry, else nil. Entries within a priority class sit in arrival
// order, so the first match while scanning is the oldest.
func (q *Queue) evictLocked() *Operation {
	for _, prio := range []Priority{PriorityLow, PriorityNormal} {
		for i, op := range q.ops {
			if op.Priority == prio {
				q.ops = append(q.ops[:i], q.ops[i+1:]...)
				return op
			}
		}
	}
	return nil
}

// Batch returns up to n operations from the front of the queue whose
// priority value is ≤ maxPriority, skipping held entries. The operations
// remain queued until removed.
func (q *Queue) Batch(n int, maxPriority Priority) []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Operation
	for _, op := range q.ops {
		if len(out) >= n {
			break
		}
		if op.Held || op.Priority > maxPriority {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Remove deletes the operation with the given ID. Returns false when absent.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the operation with the given ID, or nil.
func (q *Queue) Get(id string) *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns the queued operations in iteration order.
func (q *Queue) Snapshot() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Clear discards every queued operation.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
}
