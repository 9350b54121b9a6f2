// Package dsp implements the per-frame audio preprocessing pipeline: IIR
// filtering, noise-profile estimation with spectral subtraction, automatic
// gain control, and peak normalization.
//
// A Preprocessor carries filter and noise state across frames, so each audio
// stream needs its own instance. All stages are individually toggleable and
// can be retuned mid-stream via Reconfigure. Processing is defensive by
// construction: malformed buffers, silence, and overdriven input are handled
// without error, and output samples are hard-clamped to [-1, 1].
package dsp

import (
	"sync"

	"github.com/vaani-ai/voicecore/pkg/audio"
)

// Default stage parameters.
const (
	DefaultHighPassHz     = 80.0
	DefaultLowPassHz      = 8000.0
	DefaultWarmupFrames   = 10
	DefaultOverSubtract   = 2.0
	DefaultSpectralFloor  = 0.01
	DefaultTargetRMS      = 0.2
	DefaultMaxGain        = 4.0
	DefaultSilenceRMS     = 0.001
	DefaultNormalizePeak  = 0.3
)

// Config selects and tunes the preprocessing stages. The zero value disables
// everything; use DefaultConfig for the standard pipeline.
type Config struct {
	// SampleRate of the incoming PCM in Hz.
	SampleRate int

	HighPass       FilterConfig
	LowPass        FilterConfig
	NoiseReduction NoiseConfig
	Gain           GainConfig
	Normalize      NormalizeConfig
}

// FilterConfig tunes one IIR filter stage.
type FilterConfig struct {
	Enabled  bool
	CutoffHz float64
}

// NoiseConfig tunes the noise-reduction stage.
type NoiseConfig struct {
	Enabled bool

	// WarmupFrames is how many initial frames build the noise profile.
	// Input passes through unmodified during warm-up.
	WarmupFrames int

	// OverSubtraction is the spectral subtraction α factor.
	OverSubtraction float64

	// SpectralFloor is the β ratio: per-bin floor relative to the signal
	// magnitude.
	SpectralFloor float64
}

// GainConfig tunes the automatic gain control stage.
type GainConfig struct {
	Enabled bool

	// TargetRMS is the energy level AGC drives frames toward.
	TargetRMS float64

	// MaxGain caps amplification to avoid blowing up near-silence.
	MaxGain float64

	// SilenceRMS is the guard threshold; frames below it skip AGC entirely.
	SilenceRMS float64
}

// NormalizeConfig tunes peak normalization.
type NormalizeConfig struct {
	Enabled bool

	// TargetPeak is the level frames are attenuated to when their peak
	// exceeds it.
	TargetPeak float64
}

// DefaultConfig returns the standard pipeline with every stage enabled.
func DefaultConfig(sampleRate int) Config {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return Config{
		SampleRate: sampleRate,
		HighPass:   FilterConfig{Enabled: true, CutoffHz: DefaultHighPassHz},
		LowPass:    FilterConfig{Enabled: true, CutoffHz: DefaultLowPassHz},
		NoiseReduction: NoiseConfig{
			Enabled:         true,
			WarmupFrames:    DefaultWarmupFrames,
			OverSubtraction: DefaultOverSubtract,
			SpectralFloor:   DefaultSpectralFloor,
		},
		Gain: GainConfig{
			Enabled:    true,
			TargetRMS:  DefaultTargetRMS,
			MaxGain:    DefaultMaxGain,
			SilenceRMS: DefaultSilenceRMS,
		},
		Normalize: NormalizeConfig{Enabled: true, TargetPeak: DefaultNormalizePeak},
	}
}

// Listener receives per-instance preprocessing events. Nil callbacks are
// skipped. Callbacks are invoked synchronously from Process after internal
// locks are released; they must not call back into the Preprocessor.
type Listener struct {
	// OnStats fires after every processed frame.
	OnStats func(audio.Stats)

	// OnNoiseProfileReady fires exactly once, when the warm-up completes.
	OnNoiseProfileReady func()
}

// Preprocessor runs the configured DSP stages over successive frames of one
// audio stream. Safe for concurrent use, though a stream's frames must be
// processed in order to keep filter state meaningful.
type Preprocessor struct {
	mu         sync.Mutex
	cfg        Config
	hp         *singlePoleFilter
	lp         *singlePoleFilter
	noise      *noiseEstimator
	readyFired bool
	listener   Listener
}

// New creates a Preprocessor with the given configuration and listener.
func New(cfg Config, l Listener) *Preprocessor {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	return &Preprocessor{
		cfg:      cfg,
		hp:       newSinglePoleFilter(true, cfg.HighPass.CutoffHz, cfg.SampleRate),
		lp:       newSinglePoleFilter(false, cfg.LowPass.CutoffHz, cfg.SampleRate),
		noise:    newNoiseEstimator(cfg.NoiseReduction.WarmupFrames),
		listener: l,
	}
}

// Process runs the pipeline over one frame and returns the processed frame.
// The output carries the same whole-sample byte length as the input (an odd
// trailing byte is truncated). Process never fails: malformed input degrades
// to pass-through.
func (p *Preprocessor) Process(frame audio.Frame) audio.Frame {
	p.mu.Lock()

	samples := audio.ToFloat64(frame.Data)
	if len(samples) == 0 {
		p.mu.Unlock()
		return audio.Frame{Data: nil, SampleRate: frame.SampleRate, Channels: frame.Channels, Timestamp: frame.Timestamp}
	}

	cfg := p.cfg

	if cfg.HighPass.Enabled {
		p.hp.process(samples)
	}
	if cfg.LowPass.Enabled {
		p.lp.process(samples)
	}

	var noiseReady bool
	if cfg.NoiseReduction.Enabled {
		if !p.noise.ready {
			if p.noise.observe(samples) && !p.readyFired {
				p.readyFired = true
				noiseReady = true
			}
		} else {
			samples = p.noise.subtract(samples, cfg.NoiseReduction.OverSubtraction, cfg.NoiseReduction.SpectralFloor)
		}
	}

	if cfg.Gain.Enabled {
		applyGain(samples, cfg.Gain)
	}
	if cfg.Normalize.Enabled {
		normalizePeak(samples, cfg.Normalize.TargetPeak)
	}
	clamp(samples)

	stats := audio.ComputeStats(samples, p.noise.noisePower())
	onStats := p.listener.OnStats
	onReady := p.listener.OnNoiseProfileReady
	p.mu.Unlock()

	if noiseReady && onReady != nil {
		onReady()
	}
	if onStats != nil {
		onStats(stats)
	}

	return audio.Frame{
		Data:       audio.FromFloat64(samples),
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// NoiseProfileReady reports whether the warm-up has completed.
func (p *Preprocessor) NoiseProfileReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noise.ready
}

// ResetNoiseProfile clears the noise profile and warm-up buffer. The next
// frames rebuild the profile and the readiness event fires again once done.
func (p *Preprocessor) ResetNoiseProfile() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noise.reset()
	p.readyFired = false
}

// Reconfigure applies a new stage configuration mid-stream. Filter state is
// kept so retuning does not glitch the signal; changing WarmupFrames only
// affects the next profile rebuild.
func (p *Preprocessor) Reconfigure(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = p.cfg.SampleRate
	}
	if cfg.HighPass.CutoffHz != p.cfg.HighPass.CutoffHz || cfg.SampleRate != p.cfg.SampleRate {
		p.hp.setCutoff(cfg.HighPass.CutoffHz, cfg.SampleRate)
	}
	if cfg.LowPass.CutoffHz != p.cfg.LowPass.CutoffHz || cfg.SampleRate != p.cfg.SampleRate {
		p.lp.setCutoff(cfg.LowPass.CutoffHz, cfg.SampleRate)
	}
	if cfg.NoiseReduction.WarmupFrames > 0 {
		p.noise.warmupFrames = cfg.NoiseReduction.WarmupFrames
	}
	p.cfg = cfg
}

// applyGain drives the frame toward the target RMS, capped at MaxGain.
// Frames below the silence guard are left untouched.
func applyGain(samples []float64, cfg GainConfig) {
	rms := audio.RMS(samples)
	if rms < cfg.SilenceRMS || rms == 0 {
		return
	}
	gain := cfg.TargetRMS / rms
	if gain > cfg.MaxGain {
		gain = cfg.MaxGain
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// normalizePeak attenuates the frame so its peak does not exceed target.
// Quiet frames are not amplified; that is AGC's job.
func normalizePeak(samples []float64, target float64) {
	if target <= 0 {
		return
	}
	var peak float64
	for _, v := range samples {
		if a := abs(v); a > peak {
			peak = a
		}
	}
	if peak <= target {
		return
	}
	scale := target / peak
	for i := range samples {
		samples[i] *= scale
	}
}

func clamp(samples []float64) {
	for i, v := range samples {
		if v > 1 {
			samples[i] = 1
		} else if v < -1 {
			samples[i] = -1
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
