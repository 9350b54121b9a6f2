package energy

import (
	"math"
	"testing"
	"time"

	"github.com/vaani-ai/voicecore/pkg/audio"
	"github.com/vaani-ai/voicecore/pkg/vad"
)

const (
	testRate    = 16000
	frameMs     = 20
	frameSample = testRate * frameMs / 1000
)

func testConfig() vad.Config {
	cfg := vad.DefaultConfig(testRate)
	cfg.EnergyThreshold = 0.02
	cfg.SpeechDuration = 100 * time.Millisecond
	cfg.SilenceDuration = 500 * time.Millisecond
	return cfg
}

// toneFrame returns one 20 ms frame of a sine at the given amplitude.
func toneFrame(amplitude float64) audio.Frame {
	s := make([]float64, frameSample)
	for i := range s {
		s[i] = amplitude * math.Sin(2*math.Pi*300*float64(i)/testRate)
	}
	return audio.Frame{Data: audio.FromFloat64(s), SampleRate: testRate, Channels: 1}
}

func speechFrame() audio.Frame { return toneFrame(0.5) }
func silenceFrame() audio.Frame { return toneFrame(0.001) }

type capture struct {
	starts, actives, ends int
	segments              []vad.Segment
}

func (c *capture) listener() vad.Listener {
	return vad.Listener{
		OnSpeechStart:  func() { c.starts++ },
		OnSpeechActive: func() { c.actives++ },
		OnSpeechEnd:    func(time.Duration) { c.ends++ },
		OnSegment:      func(s vad.Segment) { c.segments = append(c.segments, s) },
	}
}

func feed(d *Detector, frame audio.Frame, n int) {
	for range n {
		d.ProcessFrame(frame)
	}
}

func TestSingleUtterance_OneStartOneEndOneSegment(t *testing.T) {
	var c capture
	d := New(testConfig(), c.listener())

	feed(d, speechFrame(), 10)  // 200 ms speech
	feed(d, silenceFrame(), 30) // 600 ms silence
	feed(d, silenceFrame(), 1)  // flush the emission

	if c.starts != 1 || c.ends != 1 || len(c.segments) != 1 {
		t.Fatalf("starts/ends/segments = %d/%d/%d, want 1/1/1", c.starts, c.ends, len(c.segments))
	}
	seg := c.segments[0]
	if seg.EndTime <= seg.StartTime {
		t.Errorf("EndTime %v ≤ StartTime %v", seg.EndTime, seg.StartTime)
	}
	// 200 ms speech + 500 ms tail silence, within a few frame durations.
	want := 700 * time.Millisecond
	if diff := (seg.Duration - want).Abs(); diff > 3*frameMs*time.Millisecond {
		t.Errorf("segment duration = %v, want %v ±%dms", seg.Duration, want, 3*frameMs)
	}
}

func TestShortPauseNeverEndsSegment(t *testing.T) {
	var c capture
	d := New(testConfig(), c.listener())

	feed(d, speechFrame(), 10)  // 200 ms speech
	feed(d, silenceFrame(), 15) // 300 ms pause < 500 ms silence threshold
	feed(d, speechFrame(), 10)  // second burst
	if c.ends != 0 {
		t.Fatalf("speech ended across a %dms pause, want merged", 15*frameMs)
	}
	feed(d, silenceFrame(), 30)
	feed(d, silenceFrame(), 1)

	if c.ends != 1 || len(c.segments) != 1 {
		t.Fatalf("ends/segments = %d/%d, want 1/1 (bursts merged)", c.ends, len(c.segments))
	}
}

func TestFalseStart_NoSegmentEmitted(t *testing.T) {
	var c capture
	d := New(testConfig(), c.listener())

	feed(d, speechFrame(), 2) // 40 ms < 100 ms minimum speech
	feed(d, silenceFrame(), 40)

	if c.starts != 1 {
		t.Errorf("starts = %d, want 1 (start fires immediately)", c.starts)
	}
	if c.actives != 0 || c.ends != 0 || len(c.segments) != 0 {
		t.Errorf("actives/ends/segments = %d/%d/%d, want 0/0/0 after false start",
			c.actives, c.ends, len(c.segments))
	}
	if d.State() != vad.StateSilence {
		t.Errorf("state = %v, want silence", d.State())
	}
}

func TestSpeechStartCascadesToEndInOneStep(t *testing.T) {
	var c capture
	d := New(testConfig(), c.listener())

	// Exactly 100 ms of speech leaves the detector in SPEECH_START with
	// the minimum accumulated speech (promotion needs elapsed ≥ 100 ms at
	// a frame start, which the 5th frame at 80 ms does not reach).
	feed(d, speechFrame(), 5)
	if d.State() != vad.StateSpeechStart {
		t.Fatalf("state = %v, want speech_start before the gap", d.State())
	}

	// A silence frame stamped 700 ms into the stream models 600 ms of
	// lost audio: the same step must promote to active and cascade
	// straight to the end state.
	gap := silenceFrame()
	gap.Timestamp = 700 * time.Millisecond
	d.ProcessFrame(gap)

	if c.actives != 1 || c.ends != 1 {
		t.Fatalf("actives/ends = %d/%d, want 1/1 from one step", c.actives, c.ends)
	}
	if d.State() != vad.StateSpeechEnd {
		t.Fatalf("state = %v, want speech_end", d.State())
	}

	d.ProcessFrame(silenceFrame())
	if len(c.segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(c.segments))
	}
}

func TestEndToEnd_ShortUtteranceDuration(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceDuration = 700 * time.Millisecond
	var c capture
	d := New(cfg, c.listener())

	feed(d, speechFrame(), 5)   // 100 ms speech
	feed(d, silenceFrame(), 36) // 720 ms near-silence
	feed(d, silenceFrame(), 1)

	if len(c.segments) != 1 {
		t.Fatalf("segments = %d, want exactly 1", len(c.segments))
	}
	want := 800 * time.Millisecond
	if diff := (c.segments[0].Duration - want).Abs(); diff > 3*frameMs*time.Millisecond {
		t.Errorf("duration = %v, want ≈%v ±%dms", c.segments[0].Duration, want, 3*frameMs)
	}
}

func TestSegmentFramesAreOrderedAndCopied(t *testing.T) {
	var c capture
	d := New(testConfig(), c.listener())

	feed(d, speechFrame(), 10)
	feed(d, silenceFrame(), 30)
	feed(d, silenceFrame(), 1)

	seg := c.segments[0]
	if len(seg.Frames) == 0 {
		t.Fatal("segment has no frames")
	}
	var prev time.Duration = -1
	for i, f := range seg.Frames {
		if f.Timestamp < prev {
			t.Fatalf("frame %d timestamp %v out of order", i, f.Timestamp)
		}
		prev = f.Timestamp
	}
}

func TestReset_ClearsStateAndBuffer(t *testing.T) {
	var c capture
	d := New(testConfig(), c.listener())

	feed(d, speechFrame(), 10)
	d.Reset()
	if d.State() != vad.StateSilence {
		t.Errorf("state after reset = %v, want silence", d.State())
	}
	feed(d, silenceFrame(), 40)
	if len(c.segments) != 0 {
		t.Errorf("segments = %d after reset, want 0", len(c.segments))
	}
}

func TestConfidence_ScalesWithEnergy(t *testing.T) {
	d := New(testConfig(), vad.Listener{})

	low := d.ProcessFrame(silenceFrame())
	d.Reset()
	high := d.ProcessFrame(speechFrame())

	if low.Confidence >= high.Confidence {
		t.Errorf("confidence low=%v high=%v, want increasing with energy", low.Confidence, high.Confidence)
	}
	if high.Confidence < 0 || high.Confidence > 1 {
		t.Errorf("confidence = %v, want in [0,1]", high.Confidence)
	}
}

func TestAdvanced_RejectsOutOfBandZCR(t *testing.T) {
	cfg := testConfig()
	var c capture
	d := NewAdvanced(cfg, c.listener())

	// High-energy but very high ZCR (alternating-sign samples ≈ ZCR 1.0):
	// outside [0.1, 0.4], so not speech.
	s := make([]float64, frameSample)
	for i := range s {
		if i%2 == 0 {
			s[i] = 0.5
		} else {
			s[i] = -0.5
		}
	}
	res := d.ProcessFrame(audio.Frame{Data: audio.FromFloat64(s), SampleRate: testRate, Channels: 1})
	if res.Speech {
		t.Error("alternating-sign frame classified as speech, want rejected by ZCR band")
	}
	if c.starts != 0 {
		t.Errorf("starts = %d, want 0", c.starts)
	}
}

func TestAdvanced_AcceptsVoicedBandZCR(t *testing.T) {
	d := NewAdvanced(testConfig(), vad.Listener{})

	// A 300 Hz tone at 16 kHz crosses zero ~600 times/s over 320 samples
	// in 20 ms → ZCR ≈ 0.038. Too low; mix in a 2.4 kHz harmonic to land
	// in the voiced band.
	s := make([]float64, frameSample)
	for i := range s {
		tone := 0.35 * math.Sin(2*math.Pi*300*float64(i)/testRate)
		harm := 0.25 * math.Sin(2*math.Pi*2400*float64(i)/testRate)
		s[i] = tone + harm
	}
	frame := audio.Frame{Data: audio.FromFloat64(s), SampleRate: testRate, Channels: 1}
	zcr := audio.ZeroCrossingRate(audio.ToFloat64(frame.Data))
	if zcr < 0.1 || zcr > 0.4 {
		t.Skipf("synthetic frame ZCR %v fell outside the band; adjust harmonics", zcr)
	}
	res := d.ProcessFrame(frame)
	if !res.Speech {
		t.Errorf("voiced-band frame not classified as speech (zcr=%v energy=%v)", zcr, res.Energy)
	}
}
