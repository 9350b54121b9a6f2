// Package netopt adapts the voice pipeline to network conditions: it
// classifies measured link quality, selects audio quality presets, compresses
// outbound audio under constrained links, and drains a bounded priority queue
// of sync operations toward the cloud uplink.
package netopt

import "time"

// Metrics is one measurement of the link.
type Metrics struct {
	// BandwidthKbps is the measured usable bandwidth. Zero means the link
	// is down.
	BandwidthKbps float64

	// LatencyMs is the round-trip latency in milliseconds.
	LatencyMs float64

	// PacketLoss is the loss fraction in [0, 1].
	PacketLoss float64

	// JitterMs is the latency variance in milliseconds.
	JitterMs float64

	// Timestamp is when the measurement was taken.
	Timestamp time.Time
}

// Condition is the classified link quality.
type Condition int

const (
	ConditionOffline Condition = iota
	ConditionPoor
	ConditionFair
	ConditionGood
	ConditionExcellent
)

// String returns the lower-case condition name.
func (c Condition) String() string {
	switch c {
	case ConditionOffline:
		return "offline"
	case ConditionPoor:
		return "poor"
	case ConditionFair:
		return "fair"
	case ConditionGood:
		return "good"
	case ConditionExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// Classify maps a measurement onto a Condition.
func Classify(m Metrics) Condition {
	switch {
	case m.BandwidthKbps <= 0:
		return ConditionOffline
	case m.BandwidthKbps > 5000 && m.LatencyMs < 50:
		return ConditionExcellent
	case m.BandwidthKbps > 1000 && m.LatencyMs < 150:
		return ConditionGood
	case m.BandwidthKbps > 256 && m.LatencyMs < 300:
		return ConditionFair
	default:
		return ConditionPoor
	}
}

// QualityPreset is the audio configuration used under a given condition.
type QualityPreset struct {
	SampleRate       int
	BitrateKbps      int
	Channels         int
	CompressionLevel int
}

// presets maps each condition to its fixed quality preset. Excellent is the
// highest fidelity; poor and offline share the most aggressive settings.
var presets = map[Condition]QualityPreset{
	ConditionExcellent: {SampleRate: 48000, BitrateKbps: 128, Channels: 1, CompressionLevel: 0},
	ConditionGood:      {SampleRate: 24000, BitrateKbps: 64, Channels: 1, CompressionLevel: 2},
	ConditionFair:      {SampleRate: 16000, BitrateKbps: 32, Channels: 1, CompressionLevel: 5},
	ConditionPoor:      {SampleRate: 8000, BitrateKbps: 16, Channels: 1, CompressionLevel: 8},
	ConditionOffline:   {SampleRate: 8000, BitrateKbps: 16, Channels: 1, CompressionLevel: 8},
}

// PresetFor returns the quality preset for a condition.
func PresetFor(c Condition) QualityPreset {
	if p, ok := presets[c]; ok {
		return p
	}
	return presets[ConditionPoor]
}
