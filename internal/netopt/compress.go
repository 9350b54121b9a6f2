package netopt

import "github.com/vaani-ai/voicecore/pkg/audio"

// CompressorConfig tunes when outbound audio is compressed.
type CompressorConfig struct {
	// Enabled gates the whole stage; when false every chunk passes through.
	Enabled bool

	// BandwidthThresholdKbps triggers compression when the measured
	// bandwidth drops below it, regardless of classified condition.
	BandwidthThresholdKbps float64
}

// CompressedChunk is the outcome of the compression stage. Ratio and the
// original geometry travel with the data so the receiver can reconstruct
// timing.
type CompressedChunk struct {
	Data          []byte
	Ratio         float64
	SampleRate    int
	OriginalBytes int
	OriginalRate  int
}

// Compressor shrinks outbound audio under constrained links. The contract is
// ratio-based — ratio = 1 − 0.08·compressionLevel — realised by linearly
// resampling mono PCM down by the ratio. A proper codec is deliberately out
// of scope; this trades fidelity for bytes with no framing overhead.
type Compressor struct {
	cfg CompressorConfig
}

// NewCompressor creates a Compressor.
func NewCompressor(cfg CompressorConfig) *Compressor {
	return &Compressor{cfg: cfg}
}

// Compress applies the stage to one frame given the current link state.
// Compression only happens when the stage is enabled and either the measured
// bandwidth is below the threshold or the condition is poor or fair;
// otherwise the data passes through with ratio 1.0.
func (c *Compressor) Compress(frame audio.Frame, cond Condition, m Metrics) CompressedChunk {
	passthrough := CompressedChunk{
		Data:          frame.Data,
		Ratio:         1.0,
		SampleRate:    frame.SampleRate,
		OriginalBytes: len(frame.Data),
		OriginalRate:  frame.SampleRate,
	}

	if !c.cfg.Enabled {
		return passthrough
	}
	constrained := cond == ConditionPoor || cond == ConditionFair
	if m.BandwidthKbps >= c.cfg.BandwidthThresholdKbps && !constrained {
		return passthrough
	}

	level := PresetFor(cond).CompressionLevel
	ratio := 1 - float64(level)*0.08
	if ratio >= 1 || ratio <= 0 {
		return passthrough
	}

	dstRate := int(float64(frame.SampleRate) * ratio)
	if dstRate <= 0 || frame.SampleRate <= 0 {
		return passthrough
	}

	return CompressedChunk{
		Data:          audio.ResampleMono16(frame.Data, frame.SampleRate, dstRate),
		Ratio:         ratio,
		SampleRate:    dstRate,
		OriginalBytes: len(frame.Data),
		OriginalRate:  frame.SampleRate,
	}
}
