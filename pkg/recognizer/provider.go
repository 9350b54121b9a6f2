// Package recognizer defines the contracts for online speech backends.
//
// A Recognizer wraps a cloud transcription service and turns buffered speech
// audio into text; a Synthesizer does the reverse. Both are interfaces so the
// session pipeline can run against mocks in tests and against a local engine
// when the cloud is unreachable.
//
// Implementations must be safe for concurrent use: one backend instance
// serves every active voice session.
package recognizer

import (
	"context"

	"github.com/vaani-ai/voicecore/pkg/audio"
)

// Request is one transcription call. Interim requests carry the speech
// buffered so far and yield provisional results; the final request at the end
// of an utterance yields the authoritative transcript.
type Request struct {
	// Audio is the speech to transcribe, preprocessed mono PCM.
	Audio audio.Frame

	// Language is the BCP 47 language tag. Empty lets the backend detect
	// the language, if supported.
	Language string

	// Final marks the closing request of an utterance. Backends may spend
	// more compute on final requests.
	Final bool

	// Hints boosts recognition probability for uncommon vocabulary.
	Hints []string
}

// Result is one transcription result.
type Result struct {
	// Text is the recognized transcript.
	Text string

	// Confidence is the backend's score in [0, 1].
	Confidence float64

	// IsFinal mirrors Request.Final: interim results may still be revised.
	IsFinal bool

	// Language is the detected or requested language tag.
	Language string
}

// Recognizer is the abstraction over any online transcription backend.
type Recognizer interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// VoiceProfile selects the synthesized voice.
type VoiceProfile struct {
	// Name identifies the voice (backend-specific).
	Name string

	// Language is the BCP 47 language tag.
	Language string

	// SpeakingRate scales speed; 1.0 is the voice's natural rate.
	SpeakingRate float64

	// Pitch shifts the voice in semitones; 0 is natural.
	Pitch float64
}

// Synthesizer turns text into PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, profile VoiceProfile) (audio.Frame, error)
}
