// Command voicecore is the voice-processing server: it accepts live PCM
// streams over WebSocket, detects speech, transcribes online or from cached
// models, and syncs offline results once the link returns.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vaani-ai/voicecore/internal/config"
	"github.com/vaani-ai/voicecore/internal/health"
	"github.com/vaani-ai/voicecore/internal/netopt"
	"github.com/vaani-ai/voicecore/internal/observe"
	"github.com/vaani-ai/voicecore/internal/offline"
	"github.com/vaani-ai/voicecore/internal/session"
	"github.com/vaani-ai/voicecore/internal/store"
	"github.com/vaani-ai/voicecore/internal/store/postgres"
	"github.com/vaani-ai/voicecore/internal/transport/ws"
	"github.com/vaani-ai/voicecore/pkg/recognizer"
	recmock "github.com/vaani-ai/voicecore/pkg/recognizer/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voicecore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicecore",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := buildStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer st.Close()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	rec, err := reg.CreateRecognizer(providerOrMock(cfg.Recognizer))
	if err != nil {
		slog.Error("failed to create recognizer", "name", cfg.Recognizer.Name, "err", err)
		return 1
	}
	engine, err := reg.CreateEngine(providerOrMock(cfg.Engine))
	if err != nil {
		slog.Error("failed to create local engine", "name", cfg.Engine.Name, "err", err)
		return 1
	}

	// ── Offline service ───────────────────────────────────────────────────────
	// syncSvc is wired below; the scheme cache only probes it once it exists.
	var syncSvc *netopt.Service
	online := func() bool { return syncSvc != nil && syncSvc.Online() }

	models, err := offline.NewModelCache(cfg.Offline.CacheBytes(), nil, offline.ModelCacheListener{
		OnModelEvicted: func(m offline.Model, reason string) {
			metrics.RecordEviction(context.Background(), "model", reason)
		},
	})
	if err != nil {
		slog.Error("failed to create model cache", "err", err)
		return 1
	}
	schemes := offline.NewSchemeCache(schemeFetcher(cfg), online, nil, offline.SchemeCacheListener{
		OnSchemeExpired: func(id string) {
			metrics.RecordEviction(context.Background(), "scheme", "expired")
		},
	})
	offSvc := offline.NewService(models, schemes, modelRegistry(cfg), nil, offline.ServiceListener{})
	offSvc.AttachStore(st)
	if err := offSvc.WarmFromStore(ctx); err != nil {
		slog.Warn("cache warm-up failed, starting cold", "err", err)
	}

	// ── Network optimization + sync ───────────────────────────────────────────
	prober, uplink := cloudLink(cfg.Network.CloudURL)
	syncSvc = netopt.NewService(cfg.Network.Sync(), uplink, prober, nil, netopt.ServiceListener{
		OnConditionChange: func(old, new netopt.Condition, m netopt.Metrics) {
			metrics.RecordConditionChange(context.Background(), new.String())
		},
		OnOnline: func() {
			offSvc.SetOnline(true)
			go func() {
				if err := offSvc.SyncWithCloud(context.Background()); err != nil {
					slog.Warn("cloud reconciliation failed", "err", err)
				}
			}()
		},
		OnOffline: func() { offSvc.SetOnline(false) },
		OnSyncComplete: func(synced, dropped int) {
			metrics.RecordSyncOutcome(context.Background(), synced, dropped)
		},
		OnConflict: func(op *netopt.Operation, _ netopt.UplinkAck) {
			metrics.RecordConflict(context.Background(), op.Strategy.String())
		},
		OnManualConflict: func(op *netopt.Operation, _ netopt.UplinkAck) {
			metrics.RecordConflict(context.Background(), "manual")
		},
		OnEviction: func(op *netopt.Operation) {
			metrics.RecordEviction(context.Background(), "sync_queue", "capacity")
		},
	})
	syncSvc.Start(ctx)
	defer syncSvc.Stop()

	// ── Session manager + transport ───────────────────────────────────────────
	wsSrv := ws.NewServer()
	local := offline.NewProcessor(engine, models)
	mgr := session.NewManager(session.Config{
		DSP:             cfg.Audio.DSP(),
		VAD:             cfg.VAD.Detector(cfg.Audio.SampleRate),
		UseZCR:          cfg.VAD.UseZCR,
		DefaultLanguage: cfg.Offline.DefaultLanguage,
	}, wsSrv, rec, offSvc, local, syncSvc, metrics, nil)
	wsSrv.SetHandler(mgr)

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.AudioChanged || d.VADChanged {
			// Pipeline templates apply to sessions started after the reload;
			// live sessions keep their tuning to avoid mid-utterance glitches.
			slog.Info("pipeline configuration changed; applies to new sessions",
				"audio", d.AudioChanged, "vad", d.VADChanged)
			mgr.SetConfig(session.Config{
				DSP:             new.Audio.DSP(),
				VAD:             new.VAD.Detector(new.Audio.SampleRate),
				UseZCR:          new.VAD.UseZCR,
				DefaultLanguage: new.Offline.DefaultLanguage,
			})
		}
		if d.CompressionChanged {
			slog.Info("compression policy changed; restart required to apply")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Cache maintenance ─────────────────────────────────────────────────────
	go maintainCaches(ctx, offSvc, cfg.Offline)

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(health.StoreChecker(st))
	checks.SetOnlineFunc(func() bool { return syncSvc.Online() && offSvc.Online() })

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	checks.Register(mux)
	mux.Handle("/v1/stream", wsSrv.Handler())

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(metrics)(mux),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("shutdown signal received, stopping…")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownObserve(flushCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped by the build; "dev" when built from source directly.
var version = "dev"

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// voicecore. Real inference engines are external collaborators configured by
// name; the mock runs the server without one.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRecognizer("mock", func(entry config.ProviderEntry) (recognizer.Recognizer, error) {
		return &recmock.Recognizer{}, nil
	})
	reg.RegisterEngine("mock", func(entry config.ProviderEntry) (offline.LocalEngine, error) {
		return mockEngine{}, nil
	})
}

// providerOrMock defaults an unset provider entry to the mock implementation.
func providerOrMock(entry config.ProviderEntry) config.ProviderEntry {
	if entry.Name == "" {
		entry.Name = "mock"
	}
	return entry
}

// mockEngine is the built-in stand-in local engine: it produces empty
// transcriptions at low confidence, enough to exercise the offline path.
type mockEngine struct{}

func (mockEngine) Recognize(_ context.Context, samples []float64, model offline.Model) (string, float64, error) {
	return "", 0.7, nil
}

// ── Store wiring ──────────────────────────────────────────────────────────────

func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorePostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		slog.Info("store opened", "backend", "postgres")
		return st, nil
	default:
		slog.Info("store opened", "backend", "memory")
		return store.NewMemStore(), nil
	}
}

// ── Cloud wiring ──────────────────────────────────────────────────────────────

// cloudLink builds the prober and uplink for the configured cloud endpoint.
// With no endpoint the server runs permanently offline: probes report a down
// link and the queue holds everything.
func cloudLink(baseURL string) (netopt.Prober, netopt.Uplink) {
	if baseURL == "" {
		return offlineProber{}, offlineUplink{}
	}
	return netopt.NewHTTPProber(baseURL, nil), netopt.NewHTTPUplink(baseURL, nil)
}

type offlineProber struct{}

func (offlineProber) Probe(context.Context) (netopt.Metrics, error) {
	return netopt.Metrics{Timestamp: time.Now()}, nil
}

type offlineUplink struct{}

func (offlineUplink) Send(context.Context, *netopt.Operation) (netopt.UplinkAck, error) {
	return netopt.UplinkAck{}, errors.New("no cloud endpoint configured")
}

// schemeFetcher retrieves processing schemes from the cloud. Without an
// endpoint every fetch fails and the cache serves what it has.
func schemeFetcher(cfg *config.Config) offline.SchemeFetcher {
	base := cfg.Network.CloudURL
	ttl := time.Duration(cfg.Offline.SchemeTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, id string) (offline.Scheme, error) {
		if base == "" {
			return offline.Scheme{}, errors.New("no cloud endpoint configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/schemes/"+id, nil)
		if err != nil {
			return offline.Scheme{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return offline.Scheme{}, fmt.Errorf("fetch scheme %q: %w", id, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return offline.Scheme{}, fmt.Errorf("fetch scheme %q: unexpected status %d", id, resp.StatusCode)
		}

		var body struct {
			Version string         `json:"version"`
			Data    map[string]any `json:"data"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
			return offline.Scheme{}, fmt.Errorf("decode scheme %q: %w", id, err)
		}
		return offline.Scheme{
			ID:        id,
			Version:   body.Version,
			Data:      body.Data,
			FetchedAt: time.Now(),
			TTL:       ttl,
		}, nil
	}
}

// modelRegistry exposes the cloud's current model checksums for cache
// revalidation after a reconnect.
func modelRegistry(cfg *config.Config) offline.ModelRegistry {
	return registryFunc(func(ctx context.Context) (map[string]string, error) {
		base := cfg.Network.CloudURL
		if base == "" {
			return nil, errors.New("no cloud endpoint configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/models", nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch model registry: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch model registry: unexpected status %d", resp.StatusCode)
		}

		var sums map[string]string
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sums); err != nil {
			return nil, fmt.Errorf("decode model registry: %w", err)
		}
		return sums, nil
	})
}

// registryFunc adapts a function to the offline.ModelRegistry interface.
type registryFunc func(ctx context.Context) (map[string]string, error)

func (f registryFunc) Checksums(ctx context.Context) (map[string]string, error) { return f(ctx) }

// ── Cache maintenance ─────────────────────────────────────────────────────────

// maintainCaches periodically purges expired schemes and idle models.
func maintainCaches(ctx context.Context, svc *offline.Service, cfg config.OfflineConfig) {
	idle := time.Duration(cfg.ModelIdleTTLMin) * time.Minute
	if idle <= 0 {
		idle = 24 * time.Hour
	}
	interval := idle / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			schemes, models := svc.ClearExpired(idle)
			if schemes > 0 || models > 0 {
				slog.Debug("cache maintenance", "schemes_cleared", schemes, "models_evicted", models)
			}
		}
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
