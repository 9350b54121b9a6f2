package offline

import (
	"context"
	"errors"
	"testing"

	"github.com/vaani-ai/voicecore/pkg/audio"
)

type fakeEngine struct {
	text string
	conf float64
	err  error
}

func (e *fakeEngine) Recognize(_ context.Context, _ []float64, _ Model) (string, float64, error) {
	return e.text, e.conf, e.err
}

func newProcessorWithModel(t *testing.T, lang string) (*Processor, *fakeEngine) {
	t.Helper()
	cache, err := NewModelCache(1000, nil, ModelCacheListener{})
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.CacheModel(model("local-"+lang, lang, 10)); err != nil {
		t.Fatal(err)
	}
	engine := &fakeEngine{text: "hello", conf: 0.8}
	return NewProcessor(engine, cache), engine
}

func testFrame() audio.Frame {
	return audio.Frame{Data: make([]byte, 640), SampleRate: audio.DefaultSampleRate, Channels: 1}
}

func TestProcessor_MarksResultsOffline(t *testing.T) {
	p, _ := newProcessorWithModel(t, "en")

	res, err := p.Process(context.Background(), "en", testFrame())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.IsOffline {
		t.Error("IsOffline = false, want true for local results")
	}
	if res.Text != "hello" || res.ModelID != "local-en" || res.Language != "en" {
		t.Errorf("result = %+v, want engine text and model identity", res)
	}
}

func TestProcessor_ClampsConfidence(t *testing.T) {
	cases := []struct {
		raw, want float64
	}{
		{0.1, 0.70},
		{0.70, 0.70},
		{0.8, 0.8},
		{0.99, 0.95},
	}
	for _, tc := range cases {
		p, engine := newProcessorWithModel(t, "en")
		engine.conf = tc.raw
		res, err := p.Process(context.Background(), "en", testFrame())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Confidence != tc.want {
			t.Errorf("Confidence for raw %v = %v, want %v", tc.raw, res.Confidence, tc.want)
		}
	}
}

func TestProcessor_MissingModelErrors(t *testing.T) {
	p, _ := newProcessorWithModel(t, "en")

	_, err := p.Process(context.Background(), "fr", testFrame())
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestProcessor_EngineErrorPropagates(t *testing.T) {
	p, engine := newProcessorWithModel(t, "en")
	engine.err = errors.New("inference failed")

	if _, err := p.Process(context.Background(), "en", testFrame()); err == nil {
		t.Fatal("engine error must propagate")
	}
}

func TestProcessor_HasModelFor(t *testing.T) {
	p, _ := newProcessorWithModel(t, "en")
	if !p.HasModelFor("en") {
		t.Error("HasModelFor(en) = false, want true")
	}
	if p.HasModelFor("de") {
		t.Error("HasModelFor(de) = true, want false")
	}
}
