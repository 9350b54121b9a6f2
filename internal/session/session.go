package session

import (
	"sync"
	"time"

	"github.com/vaani-ai/voicecore/pkg/audio"
	"github.com/vaani-ai/voicecore/pkg/audio/dsp"
	"github.com/vaani-ai/voicecore/pkg/vad"
)

// Utterance is one finalized stretch of speech with its transcription.
type Utterance struct {
	Text       string
	Confidence float64
	Duration   time.Duration
	IsOffline  bool
	EndedAt    time.Time
}

// Summary describes a finished session.
type Summary struct {
	Duration          time.Duration
	UtteranceCount    int
	AverageConfidence float64
	DetectedLanguage  string
}

// Result is the outcome of processing one audio chunk.
type Result struct {
	SessionID string

	// Text and Confidence carry the current transcription. Empty while no
	// speech is in progress.
	Text       string
	Confidence float64

	// IsFinal tracks the detector reaching the end of an utterance.
	IsFinal bool

	// IsOffline marks results produced by the local engine.
	IsOffline bool

	// Speech reports whether this chunk classified as speech.
	Speech bool

	// State is the detector state after this chunk.
	State vad.State

	// CompressionRatio is the outbound compression applied to this chunk;
	// 1.0 means passthrough.
	CompressionRatio float64
}

// Session is one live voice stream. Each session owns a dedicated
// preprocessor and detector; nothing audio-related is shared across sessions.
// The mutex serializes the per-chunk pipeline: one in-flight chunk at a time
// per session, distinct sessions run concurrently.
type Session struct {
	id         string
	language   string
	started    time.Time
	sampleRate int

	mu  sync.Mutex
	pre *dsp.Preprocessor
	det vad.Detector

	// buffer accumulates preprocessed speech bytes for the current
	// utterance; cleared on finalize and on false starts.
	buffer []byte

	utterances       []Utterance
	detectedLanguage string

	// lastStats is the preprocessor's statistics for the most recent chunk.
	lastStats audio.Stats

	// lastSpeechDuration is the detector-reported total of the utterance
	// that just ended.
	lastSpeechDuration time.Duration

	active bool
}

// ID returns the session key.
func (s *Session) ID() string { return s.id }

// Language returns the session's preferred language tag.
func (s *Session) Language() string { return s.language }

// bufferFrame wraps the accumulated speech bytes as one frame for the
// recognizer.
func (s *Session) bufferFrame(sampleRate int) audio.Frame {
	return audio.Frame{
		Data:       s.buffer,
		SampleRate: sampleRate,
		Channels:   1,
	}
}

// summary computes the closing summary. Caller holds s.mu.
func (s *Session) summary(now time.Time) Summary {
	sum := Summary{
		Duration:         now.Sub(s.started),
		UtteranceCount:   len(s.utterances),
		DetectedLanguage: s.detectedLanguage,
	}
	if sum.DetectedLanguage == "" {
		sum.DetectedLanguage = s.language
	}
	if len(s.utterances) > 0 {
		var total float64
		for _, u := range s.utterances {
			total += u.Confidence
		}
		sum.AverageConfidence = total / float64(len(s.utterances))
	}
	return sum
}
