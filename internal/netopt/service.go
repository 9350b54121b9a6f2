package netopt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vaani-ai/voicecore/internal/clock"
	"github.com/vaani-ai/voicecore/internal/resilience"
)

// UplinkAck is the server's answer to one synced operation. The server
// compares the operation's BaseVersion against its stored version token; on
// mismatch it refuses the write and reports its current state instead.
type UplinkAck struct {
	// Version is the server's version token for the entity after the call.
	Version int64

	// Conflict reports that the operation was not applied because the
	// server holds a newer version than the operation's BaseVersion.
	Conflict bool

	// ServerPayload is the server's current data, populated on conflict.
	ServerPayload map[string]any
}

// Uplink sends operations to the cloud. Implementations perform the actual
// network call; tests supply scripted acks.
type Uplink interface {
	Send(ctx context.Context, op *Operation) (UplinkAck, error)
}

// ServiceConfig tunes the sync service.
type ServiceConfig struct {
	// SyncInterval is the periodic drain cadence. Default 30s.
	SyncInterval time.Duration

	// ProbeInterval is the network re-measurement cadence. Default 10s.
	ProbeInterval time.Duration

	// BatchSize is the base number of operations per drain. Halved under
	// poor conditions, doubled under excellent. Default 10.
	BatchSize int

	// QueueSize bounds the sync queue. Default 100.
	QueueSize int

	// DefaultMaxRetries applies to operations enqueued without their own
	// limit. Default 3.
	DefaultMaxRetries int

	// BreakerThreshold and BreakerCooldown tune the uplink breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Compressor settings for the outbound audio path.
	Compression CompressorConfig
}

func (c *ServiceConfig) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
}

// ServiceListener receives sync and network events from one Service.
// Nil callbacks are skipped.
type ServiceListener struct {
	OnConditionChange func(old, new Condition, m Metrics)
	OnOffline         func()
	OnOnline          func()

	// OnSyncComplete fires after each drain with the number of operations
	// synced and dropped.
	OnSyncComplete func(synced, dropped int)

	// OnOperationSynced fires per successfully synced operation.
	OnOperationSynced func(*Operation)

	// OnOperationDropped fires when an operation exhausts its retries.
	// Failures are never silently discarded.
	OnOperationDropped func(*Operation, error)

	// OnConflict fires when a conflict was auto-resolved per strategy.
	OnConflict func(*Operation, UplinkAck)

	// OnManualConflict fires when an operation needs external resolution.
	OnManualConflict func(*Operation, UplinkAck)

	// OnEviction fires when the bounded queue evicts an operation.
	OnEviction func(*Operation)
}

// Service owns the sync queue, the network monitor, and the drain timers.
// Drains are globally mutually exclusive: a request arriving while one runs
// is a no-op. Safe for concurrent use.
type Service struct {
	cfg        ServiceConfig
	queue      *Queue
	uplink     Uplink
	breaker    *resilience.Breaker
	monitor    *Monitor
	compressor *Compressor
	clk        clock.Clock
	listener   ServiceListener

	mu      sync.Mutex
	syncing bool

	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewService wires a sync service around the given uplink and prober.
func NewService(cfg ServiceConfig, uplink Uplink, prober Prober, clk clock.Clock, l ServiceListener) *Service {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	s := &Service{
		cfg:        cfg,
		queue:      NewQueue(cfg.QueueSize),
		uplink:     uplink,
		breaker:    resilience.NewBreaker("uplink", cfg.BreakerThreshold, cfg.BreakerCooldown),
		compressor: NewCompressor(cfg.Compression),
		clk:        clk,
		listener:   l,
		done:       make(chan struct{}),
	}
	s.queue.SetEvictionObserver(func(op *Operation) {
		slog.Warn("sync queue evicted operation", "id", op.ID, "type", op.Type, "priority", op.Priority.String())
		if l.OnEviction != nil {
			l.OnEviction(op)
		}
	})
	s.monitor = NewMonitor(prober, cfg.ProbeInterval, clk, MonitorListener{
		OnConditionChange: l.OnConditionChange,
		OnOffline: func() {
			slog.Warn("network offline")
			if l.OnOffline != nil {
				l.OnOffline()
			}
		},
		OnOnline: func() {
			slog.Info("network restored, draining sync queue")
			if l.OnOnline != nil {
				l.OnOnline()
			}
			go func() {
				if err := s.ProcessSyncQueue(context.Background()); err != nil {
					slog.Warn("post-reconnect sync failed", "err", err)
				}
			}()
		},
	})
	return s
}

// Monitor exposes the service's network monitor.
func (s *Service) Monitor() *Monitor { return s.monitor }

// Queue exposes the sync queue for inspection.
func (s *Service) Queue() *Queue { return s.queue }

// Compressor exposes the outbound-audio compressor.
func (s *Service) Compressor() *Compressor { return s.compressor }

// Online reports whether the link is usable.
func (s *Service) Online() bool {
	return s.monitor.Condition() != ConditionOffline
}

// Start launches the periodic drain and the network monitor. Stop must be
// called to release the timers.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.monitor.Start(ctx)
	go s.loop(ctx)
}

// Stop cancels all background work. In-flight sends complete; queued
// operations stay queued for the next Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.monitor.Stop()
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessSyncQueue(ctx); err != nil {
				slog.Warn("periodic sync failed", "err", err)
			}
		}
	}
}

// Enqueue queues an operation for sync. A critical operation enqueued while
// online triggers an immediate drain instead of waiting for the timer.
func (s *Service) Enqueue(ctx context.Context, op *Operation) error {
	if op.MaxRetries <= 0 {
		op.MaxRetries = s.cfg.DefaultMaxRetries
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = s.clk.Now()
	}
	if _, err := s.queue.Enqueue(op); err != nil {
		return err
	}

	if op.Priority == PriorityCritical && s.Online() {
		go func() {
			if err := s.ProcessSyncQueue(ctx); err != nil {
				slog.Warn("critical-triggered sync failed", "err", err)
			}
		}()
	}
	return nil
}

// ProcessSyncQueue drains one batch. It is a no-op while offline or while
// another drain is running.
func (s *Service) ProcessSyncQueue(ctx context.Context) error {
	if !s.Online() {
		return nil
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		slog.Debug("sync already in progress")
		return nil
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	cond := s.monitor.Condition()
	size, maxPrio := s.batchPlan(cond)
	batch := s.queue.Batch(size, maxPrio)
	if len(batch) == 0 {
		return nil
	}

	var synced, dropped int
	for _, op := range batch {
		if err := ctx.Err(); err != nil {
			break
		}
		var ack UplinkAck
		err := s.breaker.Do(func() error {
			var sendErr error
			ack, sendErr = s.uplink.Send(ctx, op)
			return sendErr
		})
		switch {
		case err == resilience.ErrOpen:
			// Link declared dead: stop the batch without charging the
			// remaining operations a retry.
			s.finishDrain(synced, dropped)
			return nil
		case err != nil:
			op.RetryCount++
			if op.RetryCount >= op.MaxRetries {
				s.queue.Remove(op.ID)
				dropped++
				slog.Warn("sync operation dropped after retries",
					"id", op.ID, "type", op.Type, "retries", op.RetryCount, "err", err)
				if s.listener.OnOperationDropped != nil {
					s.listener.OnOperationDropped(op, err)
				}
			}
		case ack.Conflict:
			s.resolveConflict(ctx, op, ack)
		default:
			op.BaseVersion = ack.Version
			s.queue.Remove(op.ID)
			synced++
			if s.listener.OnOperationSynced != nil {
				s.listener.OnOperationSynced(op)
			}
		}
	}

	s.finishDrain(synced, dropped)
	return nil
}

func (s *Service) finishDrain(synced, dropped int) {
	if synced+dropped > 0 {
		slog.Info("sync drain complete", "synced", synced, "dropped", dropped, "remaining", s.queue.Len())
	}
	if s.listener.OnSyncComplete != nil {
		s.listener.OnSyncComplete(synced, dropped)
	}
}

// batchPlan derives the batch size and priority ceiling from the condition:
// poor links get half-size batches of only urgent work, excellent links get
// double-size batches of everything.
func (s *Service) batchPlan(cond Condition) (int, Priority) {
	size := s.cfg.BatchSize
	maxPrio := PriorityLow
	switch cond {
	case ConditionPoor:
		size = max(1, size/2)
		maxPrio = PriorityHigh
	case ConditionFair:
		maxPrio = PriorityNormal
	case ConditionExcellent:
		size *= 2
	}
	return size, maxPrio
}

// resolveConflict applies the operation's strategy to a version conflict.
func (s *Service) resolveConflict(ctx context.Context, op *Operation, ack UplinkAck) {
	switch op.Strategy {
	case ServerWins:
		// The server's state stands; the local payload is discarded.
		s.queue.Remove(op.ID)
		slog.Info("conflict resolved: server wins", "id", op.ID, "type", op.Type)
		s.notifyConflict(op, ack)

	case ClientWins:
		// Rebase onto the server's version and push the local payload
		// unchanged on the next attempt.
		op.BaseVersion = ack.Version
		s.resend(ctx, op, ack)
		slog.Info("conflict resolved: client wins", "id", op.ID, "type", op.Type)

	case Merge:
		merged := make(map[string]any, len(ack.ServerPayload)+len(op.Payload)+1)
		for k, v := range ack.ServerPayload {
			merged[k] = v
		}
		for k, v := range op.Payload {
			merged[k] = v
		}
		merged["mergedAt"] = s.clk.Now().UTC().Format(time.RFC3339)
		op.Payload = merged
		op.BaseVersion = ack.Version
		s.resend(ctx, op, ack)
		slog.Info("conflict resolved: merged", "id", op.ID, "type", op.Type)

	case Manual:
		// Hold for external resolution; never auto-resolved.
		op.Held = true
		op.ConflictVersion = ack.Version
		slog.Warn("conflict requires manual resolution", "id", op.ID, "type", op.Type)
		if s.listener.OnManualConflict != nil {
			s.listener.OnManualConflict(op, ack)
		}
	}
}

// resend pushes a rebased operation. A failed resend goes through the normal
// retry path on the next drain.
func (s *Service) resend(ctx context.Context, op *Operation, ack UplinkAck) {
	reack, err := s.uplink.Send(ctx, op)
	if err != nil || reack.Conflict {
		op.RetryCount++
		if op.RetryCount >= op.MaxRetries {
			s.queue.Remove(op.ID)
			if s.listener.OnOperationDropped != nil {
				s.listener.OnOperationDropped(op, err)
			}
		}
		return
	}
	op.BaseVersion = reack.Version
	s.queue.Remove(op.ID)
	s.notifyConflict(op, ack)
}

func (s *Service) notifyConflict(op *Operation, ack UplinkAck) {
	if s.listener.OnConflict != nil {
		s.listener.OnConflict(op, ack)
	}
}

// ResolveManual resolves a held operation: useLocal pushes the local payload
// rebased onto the server version on the next drain; otherwise the server's
// state is accepted and the operation is discarded.
func (s *Service) ResolveManual(id string, useLocal bool) bool {
	op := s.queue.Get(id)
	if op == nil || !op.Held {
		return false
	}
	if !useLocal {
		return s.queue.Remove(id)
	}
	op.BaseVersion = op.ConflictVersion
	op.Held = false
	return true
}
