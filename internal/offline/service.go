package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaani-ai/voicecore/internal/clock"
	"github.com/vaani-ai/voicecore/internal/store"
)

// ModelRegistry is the cloud's view of current models, used to revalidate
// the local cache after a reconnect.
type ModelRegistry interface {
	// Checksums returns the current checksum per model ID. A cached model
	// missing from the map has been retired.
	Checksums(ctx context.Context) (map[string]string, error)
}

// ServiceListener observes offline-mode transitions and cache maintenance.
// Nil callbacks are skipped.
type ServiceListener struct {
	// OnWentOffline and OnWentOnline fire only on transitions, never on
	// repeated SetOnline calls with the same value.
	OnWentOffline func()
	OnWentOnline  func()

	// OnModelInvalidated fires when revalidation drops a cached model whose
	// checksum no longer matches the registry or that was retired.
	OnModelInvalidated func(Model)

	// OnSyncComplete fires after each SyncWithCloud with its outcome.
	OnSyncComplete func(err error)
}

// Service coordinates offline mode: it tracks connectivity, owns the model
// and scheme caches, and revalidates both against the cloud on demand.
// Safe for concurrent use.
type Service struct {
	models   *ModelCache
	schemes  *SchemeCache
	registry ModelRegistry
	clk      clock.Clock
	listener ServiceListener

	// st, when attached, persists cache contents best-effort. Store errors
	// are logged and never fail the cache operation.
	st store.Store

	mu       sync.Mutex
	online   bool
	syncing  bool
	lastSync time.Time
	syncErrs int
}

// NewService wires the offline service. The service starts offline; call
// SetOnline once connectivity is known.
func NewService(models *ModelCache, schemes *SchemeCache, registry ModelRegistry, clk clock.Clock, l ServiceListener) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		models:   models,
		schemes:  schemes,
		registry: registry,
		clk:      clk,
		listener: l,
	}
}

// Models returns the model cache.
func (s *Service) Models() *ModelCache { return s.models }

// Schemes returns the scheme cache.
func (s *Service) Schemes() *SchemeCache { return s.schemes }

// AttachStore enables persistence of cache contents. Call before WarmFromStore
// and before the first CacheModel/CacheScheme.
func (s *Service) AttachStore(st store.Store) { s.st = st }

// WarmFromStore loads persisted models and schemes into the caches, so a
// device that boots without connectivity starts from its last known state.
// Records the cache refuses (for example a model over budget) are skipped.
func (s *Service) WarmFromStore(ctx context.Context) error {
	if s.st == nil {
		return nil
	}

	mrecs, err := s.st.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("warm models: %w", err)
	}
	var models int
	for _, r := range mrecs {
		m := Model{
			ID:       r.ID,
			Language: r.Language,
			Version:  r.Version,
			Checksum: r.Checksum,
			Data:     r.Data,
		}
		if err := s.models.CacheModel(m); err != nil {
			slog.Warn("skipping persisted model", "id", r.ID, "err", err)
			continue
		}
		models++
	}

	srecs, err := s.st.ListSchemes(ctx)
	if err != nil {
		return fmt.Errorf("warm schemes: %w", err)
	}
	for _, r := range srecs {
		s.schemes.Put(Scheme{
			ID:        r.ID,
			Version:   r.Version,
			Data:      r.Data,
			FetchedAt: r.FetchedAt,
			TTL:       r.TTL,
		})
	}

	slog.Info("caches warmed from store", "models", models, "schemes", len(srecs))
	return nil
}

// CacheModel caches a model and persists it when a store is attached.
// Persistence is best-effort: a store failure is logged, not returned.
func (s *Service) CacheModel(ctx context.Context, m Model) error {
	if err := s.models.CacheModel(m); err != nil {
		return err
	}
	if s.st == nil {
		return nil
	}
	rec := store.ModelRecord{
		ID:        m.ID,
		Language:  m.Language,
		Version:   m.Version,
		Checksum:  m.Checksum,
		Data:      m.Data,
		UpdatedAt: s.clk.Now(),
	}
	if err := s.st.PutModel(ctx, rec); err != nil {
		slog.Warn("failed to persist model", "id", m.ID, "err", err)
	}
	return nil
}

// CacheScheme caches a scheme and persists it when a store is attached,
// with the same best-effort semantics as CacheModel.
func (s *Service) CacheScheme(ctx context.Context, sc Scheme) {
	s.schemes.Put(sc)
	if s.st == nil {
		return
	}
	rec := store.SchemeRecord{
		ID:        sc.ID,
		Version:   sc.Version,
		Data:      sc.Data,
		FetchedAt: sc.FetchedAt,
		TTL:       sc.TTL,
	}
	if err := s.st.PutScheme(ctx, rec); err != nil {
		slog.Warn("failed to persist scheme", "id", sc.ID, "err", err)
	}
}

// Online reports current connectivity as last told to SetOnline.
func (s *Service) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records connectivity. Listener events fire on transitions only.
func (s *Service) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if !changed {
		return
	}
	if online {
		slog.Info("offline service: connectivity restored")
		if s.listener.OnWentOnline != nil {
			s.listener.OnWentOnline()
		}
	} else {
		slog.Warn("offline service: running from cache")
		if s.listener.OnWentOffline != nil {
			s.listener.OnWentOffline()
		}
	}
}

// SyncWithCloud revalidates cached models against the registry and refreshes
// expired schemes, in parallel. It is a no-op offline and while another sync
// runs. LastSyncTime advances only on full success.
func (s *Service) SyncWithCloud(ctx context.Context) error {
	s.mu.Lock()
	if !s.online || s.syncing {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.revalidateModels(ctx) })
	g.Go(func() error { return s.schemes.RefreshStale(ctx) })
	err := g.Wait()

	s.mu.Lock()
	if err != nil {
		s.syncErrs++
	} else {
		s.lastSync = s.clk.Now()
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("cloud sync failed", "err", err)
	} else {
		slog.Info("cloud sync complete", "models", s.models.Len(), "schemes", s.schemes.Len())
	}
	if s.listener.OnSyncComplete != nil {
		s.listener.OnSyncComplete(err)
	}
	return err
}

// revalidateModels drops cached models whose checksum no longer matches the
// registry, or that the registry retired.
func (s *Service) revalidateModels(ctx context.Context) error {
	current, err := s.registry.Checksums(ctx)
	if err != nil {
		return fmt.Errorf("fetch model registry: %w", err)
	}

	for _, m := range s.models.Models() {
		sum, exists := current[m.ID]
		if exists && sum == m.Checksum {
			continue
		}
		s.models.Remove(m.ID)
		if s.st != nil {
			if err := s.st.DeleteModel(ctx, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				slog.Warn("failed to drop persisted model", "id", m.ID, "err", err)
			}
		}
		if exists {
			slog.Info("cached model stale, dropped", "id", m.ID, "version", m.Version)
		} else {
			slog.Info("cached model retired by registry, dropped", "id", m.ID)
		}
		if s.listener.OnModelInvalidated != nil {
			s.listener.OnModelInvalidated(m)
		}
	}
	return nil
}

// LastSyncTime returns when the last fully successful sync finished.
func (s *Service) LastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// SyncErrors returns how many syncs have failed since start.
func (s *Service) SyncErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncErrs
}

// ClearExpired drops expired schemes and models idle past maxModelIdle.
func (s *Service) ClearExpired(maxModelIdle time.Duration) (schemes, models int) {
	return s.schemes.ClearExpired(), s.models.EvictIdle(maxModelIdle)
}
