// Package vad defines the contract for voice activity detection: the state
// machine states, per-frame results, completed speech segments, and the
// Detector interface implemented by the energy-based backends in the energy
// sub-package.
//
// A Detector is a stateful, per-stream object. Create one per audio stream
// and never share it: the speech-boundary state machine accumulates timing
// that only makes sense for a single ordered sequence of frames.
package vad

import (
	"time"

	"github.com/vaani-ai/voicecore/pkg/audio"
)

// State enumerates the speech-boundary state machine.
type State int

const (
	// StateSilence is the initial state: no speech detected.
	StateSilence State = iota

	// StateSpeechStart means speech energy appeared but has not yet lasted
	// long enough to count as an utterance.
	StateSpeechStart

	// StateSpeechActive means a confirmed utterance is in progress.
	StateSpeechActive

	// StateSpeechEnd means the trailing silence exceeded the configured
	// duration; the segment is emitted on the next processed frame.
	StateSpeechEnd
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeechStart:
		return "speech_start"
	case StateSpeechActive:
		return "speech_active"
	case StateSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Config holds the detection parameters.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// EnergyThreshold is the RMS level above which a frame counts as speech.
	EnergyThreshold float64

	// SilenceDuration is how long silence must last before an active
	// utterance is considered finished.
	SilenceDuration time.Duration

	// SpeechDuration is the minimum accumulated speech needed before a
	// burst is confirmed as an utterance; shorter bursts are false starts.
	SpeechDuration time.Duration

	// MinZCR and MaxZCR bound the zero-crossing band used by the advanced
	// detector. Ignored by the plain energy detector.
	MinZCR float64
	MaxZCR float64
}

// DefaultConfig returns the standard detection parameters.
func DefaultConfig(sampleRate int) Config {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return Config{
		SampleRate:      sampleRate,
		EnergyThreshold: 0.02,
		SilenceDuration: 500 * time.Millisecond,
		SpeechDuration:  100 * time.Millisecond,
		MinZCR:          0.1,
		MaxZCR:          0.4,
	}
}

// Result is the per-frame detection outcome.
type Result struct {
	// State after processing the frame.
	State State

	// Speech reports whether this frame classified as speech.
	Speech bool

	// Energy is the frame's RMS energy.
	Energy float64

	// Confidence is the speech confidence in [0, 1].
	Confidence float64
}

// Segment is one complete utterance, emitted once on the transition back to
// silence and immutable afterwards.
type Segment struct {
	// StartTime and EndTime are positions on the stream's audio timeline.
	StartTime time.Duration
	EndTime   time.Duration

	// Duration is EndTime − StartTime: speech plus the trailing silence
	// needed to detect the boundary.
	Duration time.Duration

	// Frames are the ordered audio frames covering the segment.
	Frames []audio.Frame

	// EmittedAt is the wall-clock time the segment was finalised.
	EmittedAt time.Time
}

// Listener receives per-instance detection events. Nil callbacks are
// skipped; callbacks run synchronously from ProcessFrame.
type Listener struct {
	// OnSpeechStart fires on the silence → speech transition.
	OnSpeechStart func()

	// OnSpeechActive fires when a burst is confirmed as an utterance.
	OnSpeechActive func()

	// OnSpeechEnd fires when trailing silence closes the utterance, with
	// the total duration from speech start.
	OnSpeechEnd func(total time.Duration)

	// OnSegment delivers the completed segment.
	OnSegment func(Segment)
}

// Detector is a stateful per-stream speech-boundary detector.
type Detector interface {
	// ProcessFrame advances the state machine with one frame and returns
	// the detection result. Frames must arrive in stream order.
	ProcessFrame(frame audio.Frame) Result

	// State returns the current state.
	State() State

	// Reset clears all transient state back to silence, discarding any
	// buffered segment.
	Reset()
}
