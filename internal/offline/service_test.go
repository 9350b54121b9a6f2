package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vaani-ai/voicecore/internal/clock"
	"github.com/vaani-ai/voicecore/internal/store"
)

type fakeRegistry struct {
	sums map[string]string
	err  error
}

func (r *fakeRegistry) Checksums(context.Context) (map[string]string, error) {
	return r.sums, r.err
}

func newOfflineService(t *testing.T, reg *fakeRegistry, fake *clock.Fake, l ServiceListener) *Service {
	t.Helper()
	models, err := NewModelCache(1000, fake, ModelCacheListener{})
	if err != nil {
		t.Fatal(err)
	}
	schemes := NewSchemeCache(func(_ context.Context, id string) (Scheme, error) {
		return scheme(id, fake.Now()), nil
	}, nil, fake, SchemeCacheListener{})
	return NewService(models, schemes, reg, fake, l)
}

func TestService_OnlineEventsFireOnTransitionsOnly(t *testing.T) {
	var offline, online int
	s := newOfflineService(t, &fakeRegistry{}, clock.NewFake(time.Unix(0, 0)), ServiceListener{
		OnWentOffline: func() { offline++ },
		OnWentOnline:  func() { online++ },
	})

	s.SetOnline(true)
	s.SetOnline(true)
	s.SetOnline(false)
	s.SetOnline(false)
	s.SetOnline(true)

	if online != 2 || offline != 1 {
		t.Errorf("online events = %d, offline events = %d; want 2 and 1", online, offline)
	}
}

func TestService_SyncIsNoopWhileOffline(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("must not be called")}
	s := newOfflineService(t, reg, clock.NewFake(time.Unix(0, 0)), ServiceListener{})

	if err := s.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("SyncWithCloud offline = %v, want nil no-op", err)
	}
	if !s.LastSyncTime().IsZero() {
		t.Error("LastSyncTime advanced without a sync")
	}
}

func TestService_SyncDropsStaleAndRetiredModels(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	var invalidated []string
	reg := &fakeRegistry{sums: map[string]string{
		"current": "sum-current",
		"stale":   "a-new-checksum",
	}}
	s := newOfflineService(t, reg, fake, ServiceListener{
		OnModelInvalidated: func(m Model) { invalidated = append(invalidated, m.ID) },
	})
	s.Models().CacheModel(model("current", "en", 10))
	s.Models().CacheModel(model("stale", "en", 10))
	s.Models().CacheModel(model("retired", "en", 10))
	s.SetOnline(true)

	if err := s.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("SyncWithCloud: %v", err)
	}

	if _, ok := s.Models().LoadCachedModel("current"); !ok {
		t.Error("model with matching checksum must survive")
	}
	if _, ok := s.Models().LoadCachedModel("stale"); ok {
		t.Error("model with a changed checksum must be dropped")
	}
	if _, ok := s.Models().LoadCachedModel("retired"); ok {
		t.Error("model absent from the registry must be dropped")
	}
	if len(invalidated) != 2 {
		t.Errorf("invalidated = %v, want stale and retired", invalidated)
	}
	if s.LastSyncTime() != fake.Now() {
		t.Errorf("LastSyncTime = %v, want %v", s.LastSyncTime(), fake.Now())
	}
}

func TestService_SyncRefreshesExpiredSchemes(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := newOfflineService(t, &fakeRegistry{}, fake, ServiceListener{})
	s.Schemes().Put(scheme("grammar", fake.Now()))
	fake.Advance(2 * time.Hour)
	s.SetOnline(true)

	if err := s.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("SyncWithCloud: %v", err)
	}
	got, err := s.Schemes().Get(context.Background(), "grammar")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Expired(fake.Now()) {
		t.Error("scheme still expired after sync, want refreshed")
	}
}

func TestService_SyncFailureCountsWithoutAdvancingLastSync(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	reg := &fakeRegistry{err: errors.New("registry down")}
	var completions []error
	s := newOfflineService(t, reg, fake, ServiceListener{
		OnSyncComplete: func(err error) { completions = append(completions, err) },
	})
	s.SetOnline(true)

	if err := s.SyncWithCloud(context.Background()); err == nil {
		t.Fatal("SyncWithCloud = nil, want registry error")
	}
	if s.SyncErrors() != 1 {
		t.Errorf("SyncErrors = %d, want 1", s.SyncErrors())
	}
	if !s.LastSyncTime().IsZero() {
		t.Error("LastSyncTime advanced on a failed sync")
	}
	if len(completions) != 1 || completions[0] == nil {
		t.Errorf("completions = %v, want one failure", completions)
	}
}

func TestService_StoreWriteThroughAndWarm(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ctx := context.Background()
	st := store.NewMemStore()

	s := newOfflineService(t, &fakeRegistry{}, fake, ServiceListener{})
	s.AttachStore(st)
	if err := s.CacheModel(ctx, model("en-base", "en", 10)); err != nil {
		t.Fatalf("CacheModel: %v", err)
	}
	s.CacheScheme(ctx, scheme("grammar", fake.Now()))

	if _, err := st.GetModel(ctx, "en-base"); err != nil {
		t.Fatalf("model not persisted: %v", err)
	}
	if _, err := st.GetScheme(ctx, "grammar"); err != nil {
		t.Fatalf("scheme not persisted: %v", err)
	}

	// A fresh service over the same store picks both back up.
	s2 := newOfflineService(t, &fakeRegistry{}, fake, ServiceListener{})
	s2.AttachStore(st)
	if err := s2.WarmFromStore(ctx); err != nil {
		t.Fatalf("WarmFromStore: %v", err)
	}
	if _, ok := s2.Models().LoadCachedModel("en-base"); !ok {
		t.Error("warmed cache missing persisted model")
	}
	if got, err := s2.Schemes().Get(ctx, "grammar"); err != nil || got.ID != "grammar" {
		t.Errorf("warmed scheme = (%+v, %v), want grammar", got, err)
	}
}

func TestService_SyncDeletesInvalidatedModelsFromStore(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	ctx := context.Background()
	st := store.NewMemStore()
	reg := &fakeRegistry{sums: map[string]string{}}

	s := newOfflineService(t, reg, fake, ServiceListener{})
	s.AttachStore(st)
	s.CacheModel(ctx, model("retired", "en", 10))
	s.SetOnline(true)

	if err := s.SyncWithCloud(ctx); err != nil {
		t.Fatalf("SyncWithCloud: %v", err)
	}
	if _, err := st.GetModel(ctx, "retired"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetModel after invalidation = %v, want ErrNotFound", err)
	}
}

func TestService_ClearExpired(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	s := newOfflineService(t, &fakeRegistry{}, fake, ServiceListener{})
	s.Schemes().Put(scheme("old", fake.Now()))
	s.Models().CacheModel(model("idle", "en", 10))
	fake.Advance(3 * time.Hour)

	schemes, models := s.ClearExpired(time.Hour)
	if schemes != 1 || models != 1 {
		t.Errorf("ClearExpired = (%d, %d), want (1, 1)", schemes, models)
	}
}
