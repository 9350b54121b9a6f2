// Package mock provides test doubles for the recognizer package interfaces.
//
// Pre-populate Results with the values the consumer should receive in call
// order; inspect Calls afterwards to verify what was sent.
package mock

import (
	"context"
	"sync"

	"github.com/vaani-ai/voicecore/pkg/audio"
	"github.com/vaani-ai/voicecore/pkg/recognizer"
)

// Recognizer is a mock implementation of recognizer.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results are returned in order, one per Transcribe call. When
	// exhausted, the last result repeats. When empty, a zero Result with
	// the request's Final flag is returned.
	Results []recognizer.Result

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Calls records every Transcribe request in order.
	Calls []recognizer.Request

	next int
}

var _ recognizer.Recognizer = (*Recognizer)(nil)

// Transcribe records the request and returns the next scripted result.
func (r *Recognizer) Transcribe(_ context.Context, req recognizer.Request) (recognizer.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, req)
	if r.Err != nil {
		return recognizer.Result{}, r.Err
	}
	if len(r.Results) == 0 {
		return recognizer.Result{IsFinal: req.Final, Language: req.Language}, nil
	}
	res := r.Results[min(r.next, len(r.Results)-1)]
	r.next++
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Reset clears recorded calls and the result cursor. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
	r.next = 0
}

// Synthesizer is a mock implementation of recognizer.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Frame is returned by every Synthesize call.
	Frame audio.Frame

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Texts records every synthesized text in order.
	Texts []string
}

var _ recognizer.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the text and returns Frame, Err.
func (s *Synthesizer) Synthesize(_ context.Context, text string, _ recognizer.VoiceProfile) (audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return audio.Frame{}, s.Err
	}
	return s.Frame, nil
}
