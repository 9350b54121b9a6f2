// Package session wires the voice pipeline together: per-session DSP
// preprocessing and speech detection, online transcription through the cloud
// recognizer, offline transcription through cached models, network-adaptive
// compression, and sync queueing for results produced while disconnected.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vaani-ai/voicecore/internal/clock"
	"github.com/vaani-ai/voicecore/internal/netopt"
	"github.com/vaani-ai/voicecore/internal/observe"
	"github.com/vaani-ai/voicecore/internal/offline"
	"github.com/vaani-ai/voicecore/internal/transport"
	"github.com/vaani-ai/voicecore/pkg/audio"
	"github.com/vaani-ai/voicecore/pkg/audio/dsp"
	"github.com/vaani-ai/voicecore/pkg/recognizer"
	"github.com/vaani-ai/voicecore/pkg/vad"
	"github.com/vaani-ai/voicecore/pkg/vad/energy"
)

// ErrSessionNotFound is returned for operations on unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Config tunes new sessions. The DSP and VAD configs are templates: every
// session gets its own instances built from them.
type Config struct {
	DSP dsp.Config
	VAD vad.Config

	// UseZCR selects the advanced detector that gates speech on
	// zero-crossing rate alongside energy.
	UseZCR bool

	// DefaultLanguage applies when a session opens without one. Default "en".
	DefaultLanguage string
}

// Manager is the composition root for voice sessions. It implements
// transport.Handler so a Transport can drive it directly. Safe for concurrent
// use; chunks within one session are processed serially.
type Manager struct {
	cfg        Config
	transport  transport.Transport
	recognizer recognizer.Recognizer
	offline    *offline.Service
	local      *offline.Processor
	sync       *netopt.Service
	metrics    *observe.Metrics
	clk        clock.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

var _ transport.Handler = (*Manager)(nil)

// NewManager wires a Manager over its collaborators. A nil metrics falls back
// to the package default instance; a nil clock to the system clock.
func NewManager(
	cfg Config,
	tr transport.Transport,
	rec recognizer.Recognizer,
	off *offline.Service,
	local *offline.Processor,
	syncSvc *netopt.Service,
	metrics *observe.Metrics,
	clk clock.Clock,
) *Manager {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		cfg:        cfg,
		transport:  tr,
		recognizer: rec,
		offline:    off,
		local:      local,
		sync:       syncSvc,
		metrics:    metrics,
		clk:        clk,
		sessions:   make(map[string]*Session),
	}
}

// SetConfig swaps the pipeline templates used for sessions started from now
// on. Live sessions keep their tuning; retuning filters mid-utterance would
// glitch the signal.
func (m *Manager) SetConfig(cfg Config) {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// config snapshots the current pipeline templates.
func (m *Manager) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// StartSession allocates a session with its own preprocessor and detector.
// An empty ID gets a generated one; an empty language gets the default.
func (m *Manager) StartSession(ctx context.Context, sessionID, language string) (*Session, error) {
	cfg := m.config()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if language == "" {
		language = cfg.DefaultLanguage
	}

	s := &Session{
		id:       sessionID,
		language: language,
		started:  m.clk.Now(),
		active:   true,
	}
	s.pre = dsp.New(cfg.DSP, dsp.Listener{
		OnStats: func(st audio.Stats) { s.lastStats = st },
	})
	vl := vad.Listener{
		OnSpeechEnd: func(total time.Duration) { s.lastSpeechDuration = total },
	}
	if cfg.UseZCR {
		s.det = energy.NewAdvanced(cfg.VAD, vl)
	} else {
		s.det = energy.New(cfg.VAD, vl)
	}
	s.sampleRate = cfg.VAD.SampleRate
	if s.sampleRate <= 0 {
		s.sampleRate = audio.DefaultSampleRate
	}

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %q already active", sessionID)
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("voice session started", "session_id", sessionID, "language", language)
	return s, nil
}

// ProcessAudioStream runs one chunk through the session pipeline:
// preprocess, compress for the network, buffer, detect speech boundaries,
// and transcribe — online through the recognizer with interim results, or
// offline through the local engine with the finalized utterance queued for
// later sync.
func (m *Manager) ProcessAudioStream(ctx context.Context, sessionID string, chunk audio.Frame) (Result, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "session.process_chunk",
		trace.WithAttributes(observe.Attr("session_id", sessionID)),
	)
	defer span.End()
	start := time.Now()

	processed := s.pre.Process(chunk)
	compressed := m.sync.Compressor().Compress(processed, m.sync.Monitor().Condition(), m.sync.Monitor().Current())

	vres := s.det.ProcessFrame(processed)
	inSpeech := vres.Speech || vres.State != vad.StateSilence
	if inSpeech {
		s.buffer = append(s.buffer, processed.Data...)
	}
	final := vres.State == vad.StateSpeechEnd

	res := Result{
		SessionID:        sessionID,
		Speech:           vres.Speech,
		State:            vres.State,
		CompressionRatio: compressed.Ratio,
	}

	var err error
	if m.online() {
		err = m.transcribeOnline(ctx, s, &res, inSpeech, final)
	} else {
		err = m.transcribeOffline(ctx, s, &res, processed, final)
	}
	if err != nil {
		return Result{}, err
	}

	if final {
		m.finalizeUtterance(ctx, s, res)
	}

	m.metrics.RecordFrame(ctx, sessionID, time.Since(start).Seconds(),
		s.lastStats.EstimatedSNR, s.lastStats.Clipping)
	return res, nil
}

// online reports whether cloud transcription is usable: the link must be up
// and the offline service must not have been flipped by a transport failure.
func (m *Manager) online() bool {
	return m.sync.Online() && m.offline.Online()
}

func (m *Manager) transcribeOnline(ctx context.Context, s *Session, res *Result, inSpeech, final bool) error {
	if !inSpeech {
		return nil
	}
	out, err := m.recognizer.Transcribe(ctx, recognizer.Request{
		Audio:    s.bufferFrame(s.sampleRate),
		Language: s.language,
		Final:    final,
	})
	if err != nil {
		return fmt.Errorf("transcribe session %q: %w", s.id, err)
	}
	res.Text = out.Text
	res.Confidence = out.Confidence
	res.IsFinal = final
	if out.Language != "" {
		s.detectedLanguage = out.Language
	}
	return nil
}

func (m *Manager) transcribeOffline(ctx context.Context, s *Session, res *Result, processed audio.Frame, final bool) error {
	out, err := m.local.Process(ctx, s.language, processed)
	if err != nil {
		return fmt.Errorf("offline session %q: %w", s.id, err)
	}
	res.Text = out.Text
	res.Confidence = out.Confidence
	res.IsOffline = true
	res.IsFinal = final
	return nil
}

// finalizeUtterance records the finished utterance, clears the speech buffer,
// pushes the transcription to the client, and — for offline results — queues
// it at high priority for sync once the link returns.
func (m *Manager) finalizeUtterance(ctx context.Context, s *Session, res Result) {
	u := Utterance{
		Text:       res.Text,
		Confidence: res.Confidence,
		Duration:   s.lastSpeechDuration,
		IsOffline:  res.IsOffline,
		EndedAt:    m.clk.Now(),
	}
	s.utterances = append(s.utterances, u)
	s.buffer = nil
	m.metrics.SpeechSegments.Add(ctx, 1)

	if res.IsOffline {
		op := &netopt.Operation{
			Type:     "transcription",
			Priority: netopt.PriorityHigh,
			Payload: map[string]any{
				"session_id":  s.id,
				"text":        u.Text,
				"confidence":  u.Confidence,
				"language":    s.language,
				"duration_ms": u.Duration.Milliseconds(),
			},
		}
		if err := m.sync.Enqueue(ctx, op); err != nil {
			slog.Warn("failed to queue offline transcription", "session_id", s.id, "err", err)
		}
	}

	if ts, ok := m.transport.Session(s.id); ok {
		msg := transport.Message{
			Type: "transcription",
			Payload: map[string]any{
				"text":       u.Text,
				"confidence": u.Confidence,
				"is_final":   true,
				"is_offline": u.IsOffline,
			},
		}
		if err := ts.Send(ctx, msg); err != nil {
			slog.Warn("failed to push transcription", "session_id", s.id, "err", err)
		}
	}

	slog.Info("utterance finalized",
		"session_id", s.id,
		"duration", u.Duration.String(),
		"confidence", u.Confidence,
		"offline", u.IsOffline,
	)
}

// EndSession tears a session down: closes its transport session, resets the
// detector, discards buffers, and returns the closing summary.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (Summary, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return Summary{}, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}

	s.mu.Lock()
	sum := s.summary(m.clk.Now())
	s.det.Reset()
	s.buffer = nil
	s.active = false
	s.mu.Unlock()

	if ts, ok := m.transport.Session(sessionID); ok {
		_ = ts.Send(ctx, transport.Message{
			Type: "session-ended",
			Payload: map[string]any{
				"duration_ms":        sum.Duration.Milliseconds(),
				"utterance_count":    sum.UtteranceCount,
				"average_confidence": sum.AverageConfidence,
				"detected_language":  sum.DetectedLanguage,
			},
		})
		_ = ts.Close(ctx)
	}

	m.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("voice session ended",
		"session_id", sessionID,
		"duration", sum.Duration.String(),
		"utterances", sum.UtteranceCount,
	)
	return sum, nil
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HandleOpen implements transport.Handler.
func (m *Manager) HandleOpen(ctx context.Context, sessionID, language string) error {
	_, err := m.StartSession(ctx, sessionID, language)
	return err
}

// HandleChunk implements transport.Handler.
func (m *Manager) HandleChunk(ctx context.Context, sessionID string, frame audio.Frame) error {
	_, err := m.ProcessAudioStream(ctx, sessionID, frame)
	return err
}

// HandleClose implements transport.Handler.
func (m *Manager) HandleClose(ctx context.Context, sessionID string) error {
	_, err := m.EndSession(ctx, sessionID)
	return err
}

// HandleFailure implements transport.Handler. A lost connection flips the
// offline service proactively, but only when a cached model can actually
// serve the session's language; otherwise the session just ends.
func (m *Manager) HandleFailure(sessionID string, err error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	slog.Warn("transport failure on session", "session_id", sessionID, "err", err)
	if m.local.HasModelFor(s.language) {
		slog.Info("switching to offline processing",
			"session_id", sessionID, "language", s.language)
		m.offline.SetOnline(false)
	}
}
