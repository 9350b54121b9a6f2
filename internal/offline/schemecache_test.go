package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vaani-ai/voicecore/internal/clock"
)

func scheme(id string, fetchedAt time.Time) Scheme {
	return Scheme{
		ID:        id,
		Version:   "v1",
		Data:      map[string]any{"id": id},
		FetchedAt: fetchedAt,
		TTL:       time.Hour,
	}
}

func TestSchemeCache_MissFetchesSynchronously(t *testing.T) {
	var fetches atomic.Int32
	c := NewSchemeCache(func(_ context.Context, id string) (Scheme, error) {
		fetches.Add(1)
		return scheme(id, time.Time{}), nil
	}, nil, nil, SchemeCacheListener{})

	s, err := c.Get(context.Background(), "wake-words")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.ID != "wake-words" || fetches.Load() != 1 {
		t.Errorf("got scheme %q after %d fetches, want wake-words after 1", s.ID, fetches.Load())
	}

	// Second hit is served from cache.
	if _, err := c.Get(context.Background(), "wake-words"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1 for a fresh entry", fetches.Load())
	}
}

func TestSchemeCache_ServesStaleAndRefreshesBehind(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	refreshed := make(chan Scheme, 1)
	expired := make(chan string, 1)

	c := NewSchemeCache(func(_ context.Context, id string) (Scheme, error) {
		s := scheme(id, fake.Now())
		s.Version = "v2"
		return s, nil
	}, nil, fake, SchemeCacheListener{
		OnSchemeExpired:   func(id string) { expired <- id },
		OnSchemeRefreshed: func(s Scheme) { refreshed <- s },
	})

	c.Put(scheme("grammar", fake.Now()))
	fake.Advance(2 * time.Hour)

	s, err := c.Get(context.Background(), "grammar")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Version != "v1" {
		t.Errorf("Version = %q, want the stale v1 served immediately", s.Version)
	}

	select {
	case id := <-expired:
		if id != "grammar" {
			t.Errorf("expired id = %q, want grammar", id)
		}
	default:
		t.Error("no expiry notification for a stale hit")
	}

	select {
	case got := <-refreshed:
		if got.Version != "v2" {
			t.Errorf("refreshed Version = %q, want v2", got.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("background refresh never landed")
	}

	// The refreshed entry serves fresh now.
	s, err = c.Get(context.Background(), "grammar")
	if err != nil {
		t.Fatalf("Get after refresh: %v", err)
	}
	if s.Version != "v2" {
		t.Errorf("Version = %q, want v2 after refresh", s.Version)
	}
}

func TestSchemeCache_StaleServedWithoutRefreshWhileOffline(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	var fetches atomic.Int32
	c := NewSchemeCache(func(_ context.Context, id string) (Scheme, error) {
		fetches.Add(1)
		return scheme(id, fake.Now()), nil
	}, func() bool { return false }, fake, SchemeCacheListener{})

	c.Put(scheme("grammar", fake.Now()))
	fake.Advance(2 * time.Hour)

	if _, err := c.Get(context.Background(), "grammar"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if fetches.Load() != 0 {
		t.Errorf("fetches = %d, want 0 while offline", fetches.Load())
	}
}

func TestSchemeCache_MissWhileOfflineErrors(t *testing.T) {
	c := NewSchemeCache(func(context.Context, string) (Scheme, error) {
		t.Fatal("fetcher must not run offline")
		return Scheme{}, nil
	}, func() bool { return false }, nil, SchemeCacheListener{})

	if _, err := c.Get(context.Background(), "missing"); err == nil {
		t.Fatal("Get on a miss while offline must error")
	}
}

func TestSchemeCache_FetchErrorPropagates(t *testing.T) {
	wantErr := errors.New("cloud unavailable")
	c := NewSchemeCache(func(context.Context, string) (Scheme, error) {
		return Scheme{}, wantErr
	}, nil, nil, SchemeCacheListener{})

	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestSchemeCache_ClearExpired(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	c := NewSchemeCache(nil, nil, fake, SchemeCacheListener{})

	c.Put(scheme("old", fake.Now()))
	fake.Advance(2 * time.Hour)
	c.Put(scheme("fresh", fake.Now()))

	if n := c.ClearExpired(); n != 1 {
		t.Fatalf("ClearExpired = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
