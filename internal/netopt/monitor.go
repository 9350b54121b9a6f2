package netopt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vaani-ai/voicecore/internal/clock"
)

// Prober measures the link. Implementations typically ping the uplink
// endpoint; tests supply canned measurements.
type Prober interface {
	Probe(ctx context.Context) (Metrics, error)
}

// MonitorListener receives condition events from one Monitor instance.
// Nil callbacks are skipped.
type MonitorListener struct {
	// OnConditionChange fires whenever the classified condition changes.
	OnConditionChange func(old, new Condition, m Metrics)

	// OnOffline fires when the link enters the offline condition.
	OnOffline func()

	// OnOnline fires when the link leaves the offline condition.
	OnOnline func()
}

// Monitor periodically probes the link and tracks the current condition.
// Start launches the probe loop; Stop cancels it. Safe for concurrent use.
type Monitor struct {
	prober   Prober
	interval time.Duration
	clk      clock.Clock
	listener MonitorListener

	mu        sync.Mutex
	metrics   Metrics
	condition Condition

	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewMonitor creates a Monitor. The initial condition is offline until the
// first successful probe.
func NewMonitor(prober Prober, interval time.Duration, clk clock.Clock, l MonitorListener) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Monitor{
		prober:    prober,
		interval:  interval,
		clk:       clk,
		listener:  l,
		condition: ConditionOffline,
		done:      make(chan struct{}),
	}
}

// Start probes once immediately and then launches the periodic probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.Measure(ctx)
	go m.loop(ctx)
}

// Stop cancels the probe loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Measure(ctx)
		}
	}
}

// Measure runs one probe and applies the result. A probe error is treated as
// an offline measurement: an unreachable uplink and a dead link are the same
// thing to the pipeline.
func (m *Monitor) Measure(ctx context.Context) Condition {
	metrics, err := m.prober.Probe(ctx)
	if err != nil {
		slog.Debug("network probe failed", "err", err)
		metrics = Metrics{Timestamp: m.clk.Now()}
	}
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = m.clk.Now()
	}
	return m.apply(metrics)
}

func (m *Monitor) apply(metrics Metrics) Condition {
	next := Classify(metrics)

	m.mu.Lock()
	prev := m.condition
	m.metrics = metrics
	m.condition = next
	l := m.listener
	m.mu.Unlock()

	if next != prev {
		slog.Info("network condition changed",
			"from", prev.String(),
			"to", next.String(),
			"bandwidth_kbps", metrics.BandwidthKbps,
			"latency_ms", metrics.LatencyMs,
		)
		if l.OnConditionChange != nil {
			l.OnConditionChange(prev, next, metrics)
		}
		if next == ConditionOffline && l.OnOffline != nil {
			l.OnOffline()
		}
		if prev == ConditionOffline && l.OnOnline != nil {
			l.OnOnline()
		}
	}
	return next
}

// Condition returns the current classified condition.
func (m *Monitor) Condition() Condition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.condition
}

// Current returns the most recent measurement.
func (m *Monitor) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Preset returns the quality preset for the current condition.
func (m *Monitor) Preset() QualityPreset {
	return PresetFor(m.Condition())
}
