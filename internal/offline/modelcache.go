// Package offline keeps voice processing alive without a network: it caches
// recognition models and configuration schemes on device, runs a local
// recognition engine against the cached models, and revalidates the cache
// against the cloud when the link returns.
package offline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/vaani-ai/voicecore/internal/clock"
)

// Model is one cached recognition model.
type Model struct {
	// ID uniquely identifies the model (e.g. "whisper-tiny-en").
	ID string

	// Language is the BCP 47 language tag the model recognizes.
	Language string

	// Version is the model build version.
	Version string

	// Checksum is the content hash used for cloud revalidation.
	Checksum string

	// Data is the model payload.
	Data []byte

	// LastUsed is maintained by the cache.
	LastUsed time.Time
}

// SizeBytes returns the payload size.
func (m Model) SizeBytes() int64 { return int64(len(m.Data)) }

// ErrModelTooLarge is returned when a model alone exceeds the cache budget.
var ErrModelTooLarge = errors.New("model exceeds cache capacity")

// ModelCacheListener observes cache churn. Nil callbacks are skipped.
type ModelCacheListener struct {
	// OnModelEvicted fires when a model is removed to make room or because
	// it sat idle too long.
	OnModelEvicted func(Model, string)
}

// ModelCache holds recognition models under a byte budget with
// least-recently-used eviction. Loading a model refreshes its recency.
// Safe for concurrent use.
type ModelCache struct {
	maxBytes int64
	clk      clock.Clock
	listener ModelCacheListener

	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Model]
	curBytes int64
}

// NewModelCache creates a cache bounded at maxBytes of model payload.
func NewModelCache(maxBytes int64, clk clock.Clock, l ModelCacheListener) (*ModelCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("model cache: maxBytes must be positive, got %d", maxBytes)
	}
	if clk == nil {
		clk = clock.System{}
	}
	c := &ModelCache{maxBytes: maxBytes, clk: clk, listener: l}
	// Entry count never constrains us; the byte ledger does. Size the LRU
	// far above any plausible model count so only explicit removal and the
	// byte loop evict.
	lru, err := simplelru.NewLRU[string, *Model](1 << 20, func(id string, m *Model) {
		c.curBytes -= m.SizeBytes()
	})
	if err != nil {
		return nil, fmt.Errorf("model cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// CacheModel stores m, evicting least-recently-used models until the byte
// budget holds. A model larger than the whole budget is rejected.
func (c *ModelCache) CacheModel(m Model) error {
	size := m.SizeBytes()
	if size > c.maxBytes {
		return fmt.Errorf("%w: %q needs %d bytes, budget is %d", ErrModelTooLarge, m.ID, size, c.maxBytes)
	}

	c.mu.Lock()

	// Replacing an existing entry releases its bytes first.
	c.lru.Remove(m.ID)

	var evicted []Model
	for c.curBytes+size > c.maxBytes {
		id, victim, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		slog.Info("model cache evicted model", "id", id, "freed_bytes", victim.SizeBytes())
		evicted = append(evicted, *victim)
	}

	m.LastUsed = c.clk.Now()
	c.lru.Add(m.ID, &m)
	c.curBytes += size
	c.mu.Unlock()

	// Callbacks run outside the lock.
	for _, v := range evicted {
		if c.listener.OnModelEvicted != nil {
			c.listener.OnModelEvicted(v, "capacity")
		}
	}
	return nil
}

// LoadCachedModel returns the model with the given ID and refreshes its
// recency. The second return is false when absent.
func (c *ModelCache) LoadCachedModel(id string) (Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.lru.Get(id)
	if !ok {
		return Model{}, false
	}
	m.LastUsed = c.clk.Now()
	return *m, true
}

// ModelForLanguage returns a cached model for the language tag, refreshing
// its recency. When several match, the most recently used wins.
func (c *ModelCache) ModelForLanguage(language string) (Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Keys run oldest to newest; the last match is the most recent.
	var found *Model
	for _, id := range c.lru.Keys() {
		if m, ok := c.lru.Peek(id); ok && m.Language == language {
			found = m
		}
	}
	if found == nil {
		return Model{}, false
	}
	c.lru.Get(found.ID)
	found.LastUsed = c.clk.Now()
	return *found, true
}

// Remove deletes a model by ID. Returns false when absent.
func (c *ModelCache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(id)
}

// EvictIdle removes models unused for longer than maxIdle and returns how
// many were evicted.
func (c *ModelCache) EvictIdle(maxIdle time.Duration) int {
	now := c.clk.Now()

	c.mu.Lock()
	var idle []Model
	for _, id := range c.lru.Keys() {
		if m, ok := c.lru.Peek(id); ok && now.Sub(m.LastUsed) > maxIdle {
			idle = append(idle, *m)
		}
	}
	for _, m := range idle {
		c.lru.Remove(m.ID)
	}
	c.mu.Unlock()

	for _, m := range idle {
		slog.Info("model cache evicted idle model", "id", m.ID, "idle", now.Sub(m.LastUsed).String())
		if c.listener.OnModelEvicted != nil {
			c.listener.OnModelEvicted(m, "idle")
		}
	}
	return len(idle)
}

// TotalBytes returns the cached payload bytes.
func (c *ModelCache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len returns the number of cached models.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Models returns the cached models oldest first, without touching recency.
func (c *ModelCache) Models() []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Model, 0, c.lru.Len())
	for _, id := range c.lru.Keys() {
		if m, ok := c.lru.Peek(id); ok {
			out = append(out, *m)
		}
	}
	return out
}
