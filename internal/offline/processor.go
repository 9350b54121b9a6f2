package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaani-ai/voicecore/pkg/audio"
)

// ErrModelUnavailable is returned when no cached model covers the requested
// language; the caller decides whether to queue the audio or fail the turn.
var ErrModelUnavailable = errors.New("no cached model for language")

// Result is a local recognition result. IsOffline is always true so callers
// downstream can tell device results from cloud results.
type Result struct {
	Text       string
	Confidence float64
	Language   string
	ModelID    string
	IsOffline  bool
}

// LocalEngine runs a recognition model on device. Implementations wrap a
// bundled inference runtime; tests supply canned results.
type LocalEngine interface {
	Recognize(ctx context.Context, samples []float64, model Model) (text string, confidence float64, err error)
}

// Local confidence bounds. Device models report raw scores on their own
// scales; clamping keeps downstream thresholds meaningful across engines.
const (
	minLocalConfidence = 0.70
	maxLocalConfidence = 0.95
)

// Processor runs speech recognition against cached models while offline.
type Processor struct {
	engine LocalEngine
	models *ModelCache
}

// NewProcessor creates a Processor over the given engine and model cache.
func NewProcessor(engine LocalEngine, models *ModelCache) *Processor {
	return &Processor{engine: engine, models: models}
}

// Process recognizes one utterance in the given language using a cached
// model. Returns ErrModelUnavailable when the language has no cached model.
func (p *Processor) Process(ctx context.Context, language string, frame audio.Frame) (Result, error) {
	model, ok := p.models.ModelForLanguage(language)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrModelUnavailable, language)
	}

	samples := audio.ToFloat64(frame.Data)
	text, conf, err := p.engine.Recognize(ctx, samples, model)
	if err != nil {
		return Result{}, fmt.Errorf("local recognition with %q: %w", model.ID, err)
	}

	return Result{
		Text:       text,
		Confidence: clampConfidence(conf),
		Language:   language,
		ModelID:    model.ID,
		IsOffline:  true,
	}, nil
}

// HasModelFor reports whether a cached model covers the language, without
// touching recency.
func (p *Processor) HasModelFor(language string) bool {
	for _, m := range p.models.Models() {
		if m.Language == language {
			return true
		}
	}
	return false
}

func clampConfidence(c float64) float64 {
	if c < minLocalConfidence {
		return minLocalConfidence
	}
	if c > maxLocalConfidence {
		return maxLocalConfidence
	}
	return c
}
