package audio

import "math"

// clippingPeak is the peak level above which a frame is reported as clipping.
const clippingPeak = 0.99

// Stats summarises a processed frame for observability consumers.
type Stats struct {
	// RMS is the root-mean-square energy of the normalized samples.
	RMS float64

	// Peak is the largest absolute sample value.
	Peak float64

	// EstimatedSNR is 10·log10(signalPower/noisePower) in dB. Zero when no
	// noise estimate is available yet.
	EstimatedSNR float64

	// Clipping reports whether the peak exceeded the clipping threshold.
	Clipping bool
}

// ComputeStats derives Stats from normalized samples. noisePower is the
// current noise-floor power estimate; pass 0 when none exists.
func ComputeStats(samples []float64, noisePower float64) Stats {
	var sum, peak float64
	for _, v := range samples {
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	var rms float64
	if len(samples) > 0 {
		rms = math.Sqrt(sum / float64(len(samples)))
	}

	st := Stats{
		RMS:      rms,
		Peak:     peak,
		Clipping: peak > clippingPeak,
	}
	if noisePower > 0 && len(samples) > 0 {
		signalPower := sum / float64(len(samples))
		if signalPower > 0 {
			st.EstimatedSNR = 10 * math.Log10(signalPower/noisePower)
		}
	}
	return st
}

// RMS computes the root-mean-square energy of normalized samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ. Voiced speech typically falls in a mid band; pure tones and
// broadband noise fall outside it.
func ZeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
