package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vaani-ai/voicecore/internal/config"
	"github.com/vaani-ai/voicecore/pkg/recognizer"
	recmock "github.com/vaani-ai/voicecore/pkg/recognizer/mock"
)

func TestRegistry_CreateRecognizer(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterRecognizer("mock", func(entry config.ProviderEntry) (recognizer.Recognizer, error) {
		return &recmock.Recognizer{}, nil
	})

	rec, err := r.CreateRecognizer(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := rec.Transcribe(context.Background(), recognizer.Request{}); err != nil {
		t.Errorf("Transcribe on mock: %v", err)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateRecognizer(config.ProviderEntry{Name: "whisper"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateEngine(config.ProviderEntry{Name: "onnx"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_OverwriteKeepsLatest(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	first := &recmock.Recognizer{}
	second := &recmock.Recognizer{}
	r.RegisterRecognizer("mock", func(config.ProviderEntry) (recognizer.Recognizer, error) { return first, nil })
	r.RegisterRecognizer("mock", func(config.ProviderEntry) (recognizer.Recognizer, error) { return second, nil })

	rec, err := r.CreateRecognizer(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != second {
		t.Error("latest registration did not win")
	}
}
