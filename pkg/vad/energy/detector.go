// Package energy implements the vad.Detector contract with an RMS-energy
// speech classifier and an advanced variant that additionally gates on
// zero-crossing rate.
//
// The state machine runs on the stream's audio timeline (accumulated frame
// durations), not the wall clock, so detection is deterministic and
// replay-safe. Wall-clock time only stamps emitted segments.
package energy

import (
	"time"

	"github.com/vaani-ai/voicecore/pkg/audio"
	"github.com/vaani-ai/voicecore/pkg/vad"
)

// classifier decides whether a frame is speech and with what confidence.
type classifier func(energy, zcr float64) (speech bool, confidence float64)

// Detector is the energy-based speech-boundary state machine. Not safe for
// concurrent use; frames of one stream must be processed in order from a
// single goroutine.
type Detector struct {
	cfg      vad.Config
	listener vad.Listener
	classify classifier
	useZCR   bool

	state       vad.State
	pos         time.Duration // audio-timeline position of the next frame
	speechStart time.Duration
	lastSpeech  time.Duration
	endTime     time.Duration
	buffer      []audio.Frame

	timeNow func() time.Time
}

// New creates a plain energy detector.
func New(cfg vad.Config, l vad.Listener) *Detector {
	d := &Detector{cfg: cfg, listener: l, timeNow: time.Now}
	d.classify = d.energyClassify
	return d
}

// NewAdvanced creates a detector that requires the zero-crossing rate to sit
// in [MinZCR, MaxZCR] alongside the energy threshold, blending both
// confidence estimates equally.
func NewAdvanced(cfg vad.Config, l vad.Listener) *Detector {
	d := &Detector{cfg: cfg, listener: l, timeNow: time.Now, useZCR: true}
	d.classify = d.zcrClassify
	return d
}

// State returns the current state machine state.
func (d *Detector) State() vad.State { return d.state }

// Reset clears all transient state and discards any buffered segment.
func (d *Detector) Reset() {
	d.state = vad.StateSilence
	d.pos = 0
	d.speechStart = 0
	d.lastSpeech = 0
	d.endTime = 0
	d.buffer = nil
}

// ProcessFrame advances the state machine with one frame.
func (d *Detector) ProcessFrame(frame audio.Frame) vad.Result {
	samples := audio.ToFloat64(frame.Data)
	energy := audio.RMS(samples)
	var zcr float64
	if d.useZCR {
		zcr = audio.ZeroCrossingRate(samples)
	}
	speech, confidence := d.classify(energy, zcr)

	// Frames normally advance the timeline back to back; a frame stamped
	// ahead of the accumulated position means upstream chunks were lost,
	// and the gap must count as elapsed silence.
	now := d.pos
	if frame.Timestamp > now {
		now = frame.Timestamp
	}

	// A finished segment is emitted on the next processed frame, after
	// which this frame is evaluated normally from silence — a loud frame
	// here can open the next utterance without being lost.
	if d.state == vad.StateSpeechEnd {
		d.emitSegment()
		d.state = vad.StateSilence
	}

	switch d.state {
	case vad.StateSilence:
		if speech {
			d.state = vad.StateSpeechStart
			d.speechStart = now
			d.lastSpeech = now + frame.Duration()
			d.buffer = d.buffer[:0]
			d.buffer = append(d.buffer, frame)
			if d.listener.OnSpeechStart != nil {
				d.listener.OnSpeechStart()
			}
		}

	case vad.StateSpeechStart:
		d.buffer = append(d.buffer, frame)
		if speech {
			d.lastSpeech = now + frame.Duration()
			if now-d.speechStart >= d.cfg.SpeechDuration {
				d.state = vad.StateSpeechActive
				if d.listener.OnSpeechActive != nil {
					d.listener.OnSpeechActive()
				}
			}
			break
		}

		// Silence during the start window. A burst that accumulated
		// enough speech is promoted; the same step then re-checks the
		// silence gap so a long pause cascades straight to the end
		// state. Too-short bursts are false starts.
		if d.lastSpeech-d.speechStart >= d.cfg.SpeechDuration {
			d.state = vad.StateSpeechActive
			if d.listener.OnSpeechActive != nil {
				d.listener.OnSpeechActive()
			}
			if now-d.lastSpeech >= d.cfg.SilenceDuration {
				d.toSpeechEnd(now)
			}
		} else {
			d.state = vad.StateSilence
			d.buffer = nil
		}

	case vad.StateSpeechActive:
		d.buffer = append(d.buffer, frame)
		if speech {
			d.lastSpeech = now + frame.Duration()
		} else if now-d.lastSpeech >= d.cfg.SilenceDuration {
			d.toSpeechEnd(now)
		}
	}

	d.pos = now + frame.Duration()

	return vad.Result{
		State:      d.state,
		Speech:     speech,
		Energy:     energy,
		Confidence: confidence,
	}
}

func (d *Detector) toSpeechEnd(now time.Duration) {
	d.state = vad.StateSpeechEnd
	d.endTime = now
	if d.listener.OnSpeechEnd != nil {
		d.listener.OnSpeechEnd(now - d.speechStart)
	}
}

func (d *Detector) emitSegment() {
	frames := make([]audio.Frame, len(d.buffer))
	copy(frames, d.buffer)
	seg := vad.Segment{
		StartTime: d.speechStart,
		EndTime:   d.endTime,
		Duration:  d.endTime - d.speechStart,
		Frames:    frames,
		EmittedAt: d.timeNow(),
	}
	d.buffer = nil
	if d.listener.OnSegment != nil {
		d.listener.OnSegment(seg)
	}
}

// energyClassify implements the plain energy rule: speech when RMS exceeds
// the threshold, confidence clamp01((energy/threshold − 0.5)/2).
func (d *Detector) energyClassify(energy, _ float64) (bool, float64) {
	return energy > d.cfg.EnergyThreshold, d.energyConfidence(energy)
}

// zcrClassify additionally requires the zero-crossing rate to sit inside the
// voiced-speech band and averages the two confidence estimates.
func (d *Detector) zcrClassify(energy, zcr float64) (bool, float64) {
	inBand := zcr >= d.cfg.MinZCR && zcr <= d.cfg.MaxZCR
	speech := energy > d.cfg.EnergyThreshold && inBand
	return speech, (d.energyConfidence(energy) + d.zcrConfidence(zcr)) / 2
}

func (d *Detector) energyConfidence(energy float64) float64 {
	if d.cfg.EnergyThreshold <= 0 {
		return 0
	}
	return clamp01((energy/d.cfg.EnergyThreshold - 0.5) / 2)
}

// zcrConfidence peaks at the centre of the voiced band and falls off
// linearly to zero at the band edges and beyond.
func (d *Detector) zcrConfidence(zcr float64) float64 {
	lo, hi := d.cfg.MinZCR, d.cfg.MaxZCR
	if hi <= lo {
		return 0
	}
	if zcr < lo || zcr > hi {
		return 0
	}
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	return clamp01(1 - abs(zcr-mid)/half)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
