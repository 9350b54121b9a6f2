package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vaani-ai/voicecore/internal/clock"
)

// Scheme is one cached processing scheme: the configuration bundle (grammar
// hints, wake words, post-processing rules) a session needs to run.
type Scheme struct {
	ID        string
	Version   string
	Data      map[string]any
	FetchedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the scheme is past its TTL at now.
func (s Scheme) Expired(now time.Time) bool {
	return now.Sub(s.FetchedAt) > s.TTL
}

// SchemeFetcher retrieves the current scheme from the cloud.
type SchemeFetcher func(ctx context.Context, id string) (Scheme, error)

// SchemeCacheListener observes scheme lifecycle events. Nil callbacks are
// skipped.
type SchemeCacheListener struct {
	// OnSchemeExpired fires when an expired scheme is served stale or
	// cleared; consumers decide whether stale configuration is acceptable.
	OnSchemeExpired func(id string)

	// OnSchemeRefreshed fires after a background refresh lands.
	OnSchemeRefreshed func(Scheme)
}

// SchemeCache serves processing schemes stale-while-revalidate: an expired
// entry is returned immediately and refreshed in the background, so sessions
// never block on the network for configuration they already have. Concurrent
// refreshes of the same scheme collapse into one fetch. Background refreshes
// only run while online. Safe for concurrent use.
type SchemeCache struct {
	fetch    SchemeFetcher
	online   func() bool
	clk      clock.Clock
	listener SchemeCacheListener

	mu      sync.Mutex
	schemes map[string]Scheme

	group singleflight.Group
}

// NewSchemeCache creates a cache. online gates background refreshes; a nil
// online means always online.
func NewSchemeCache(fetch SchemeFetcher, online func() bool, clk clock.Clock, l SchemeCacheListener) *SchemeCache {
	if online == nil {
		online = func() bool { return true }
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &SchemeCache{
		fetch:    fetch,
		online:   online,
		clk:      clk,
		listener: l,
		schemes:  make(map[string]Scheme),
	}
}

// Get returns the scheme with the given ID. A fresh entry is returned as is;
// an expired entry is returned stale with an expiry notification and a
// background refresh (when online); a missing entry is fetched synchronously.
func (c *SchemeCache) Get(ctx context.Context, id string) (Scheme, error) {
	now := c.clk.Now()

	c.mu.Lock()
	s, ok := c.schemes[id]
	c.mu.Unlock()

	if ok && !s.Expired(now) {
		return s, nil
	}

	if ok {
		// Stale-while-revalidate: serve what we have, refresh behind it.
		slog.Debug("serving stale scheme", "id", id, "age", now.Sub(s.FetchedAt).String())
		if c.listener.OnSchemeExpired != nil {
			c.listener.OnSchemeExpired(id)
		}
		if c.online() {
			go c.refresh(context.WithoutCancel(ctx), id)
		}
		return s, nil
	}

	if !c.online() {
		return Scheme{}, fmt.Errorf("scheme %q not cached and offline", id)
	}
	return c.refresh(ctx, id)
}

// refresh fetches the scheme, deduplicating concurrent calls per ID.
func (c *SchemeCache) refresh(ctx context.Context, id string) (Scheme, error) {
	v, err, _ := c.group.Do(id, func() (any, error) {
		s, err := c.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.FetchedAt.IsZero() {
			s.FetchedAt = c.clk.Now()
		}
		c.mu.Lock()
		c.schemes[id] = s
		c.mu.Unlock()
		if c.listener.OnSchemeRefreshed != nil {
			c.listener.OnSchemeRefreshed(s)
		}
		return s, nil
	})
	if err != nil {
		slog.Warn("scheme refresh failed", "id", id, "err", err)
		return Scheme{}, fmt.Errorf("refresh scheme %q: %w", id, err)
	}
	return v.(Scheme), nil
}

// Put stores a scheme directly, for preloading.
func (c *SchemeCache) Put(s Scheme) {
	if s.FetchedAt.IsZero() {
		s.FetchedAt = c.clk.Now()
	}
	c.mu.Lock()
	c.schemes[s.ID] = s
	c.mu.Unlock()
}

// RefreshStale re-fetches every expired scheme. Errors are joined per scheme;
// fresh entries are untouched.
func (c *SchemeCache) RefreshStale(ctx context.Context) error {
	now := c.clk.Now()

	c.mu.Lock()
	var stale []string
	for id, s := range c.schemes {
		if s.Expired(now) {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, id := range stale {
		if _, err := c.refresh(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearExpired removes expired schemes and returns how many were dropped.
func (c *SchemeCache) ClearExpired() int {
	now := c.clk.Now()

	c.mu.Lock()
	var dropped []string
	for id, s := range c.schemes {
		if s.Expired(now) {
			delete(c.schemes, id)
			dropped = append(dropped, id)
		}
	}
	c.mu.Unlock()

	for _, id := range dropped {
		if c.listener.OnSchemeExpired != nil {
			c.listener.OnSchemeExpired(id)
		}
	}
	return len(dropped)
}

// Len returns the number of cached schemes, expired included.
func (c *SchemeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.schemes)
}
