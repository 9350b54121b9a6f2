package dsp

import "math"

const (
	// spectralWindow is the FFT window length for noise estimation and
	// spectral subtraction.
	spectralWindow = 512

	// spectralHop is the overlap-add hop (50% overlap).
	spectralHop = 256
)

// noiseEstimator builds a per-bin averaged magnitude profile from the first
// warmupFrames processed frames and then supports spectral subtraction
// against that profile. One estimator per stream.
type noiseEstimator struct {
	warmupFrames int
	seenFrames   int
	ready        bool

	// profile is the averaged magnitude per FFT bin (window/2+1 bins).
	profile []float64
	// windowsAveraged counts how many spectral windows went into profile.
	windowsAveraged int

	// powerSum accumulates time-domain power across warm-up frames for the
	// SNR estimate.
	powerSum     float64
	powerSamples int

	window []float64
}

func newNoiseEstimator(warmupFrames int) *noiseEstimator {
	if warmupFrames <= 0 {
		warmupFrames = 10
	}
	return &noiseEstimator{
		warmupFrames: warmupFrames,
		profile:      make([]float64, spectralWindow/2+1),
		window:       hannWindow(spectralWindow),
	}
}

// observe folds one warm-up frame into the noise profile. Returns true when
// this call completed the warm-up.
func (n *noiseEstimator) observe(samples []float64) bool {
	if n.ready {
		return false
	}

	for _, v := range samples {
		n.powerSum += v * v
	}
	n.powerSamples += len(samples)

	for start := 0; start+spectralWindow <= len(samples); start += spectralHop {
		n.accumulateWindow(samples[start : start+spectralWindow])
	}
	// Short frames still contribute a single zero-padded window so quiet
	// setups with small chunks build a profile at all.
	if len(samples) < spectralWindow {
		padded := make([]float64, spectralWindow)
		copy(padded, samples)
		n.accumulateWindow(padded)
	}

	n.seenFrames++
	if n.seenFrames >= n.warmupFrames {
		n.ready = true
		return true
	}
	return false
}

func (n *noiseEstimator) accumulateWindow(win []float64) {
	buf := make([]complex128, spectralWindow)
	for i := range win {
		buf[i] = complex(win[i]*n.window[i], 0)
	}
	fft(buf, false)

	prev := float64(n.windowsAveraged)
	next := prev + 1
	for i := range n.profile {
		mag := math.Hypot(real(buf[i]), imag(buf[i]))
		n.profile[i] = (n.profile[i]*prev + mag) / next
	}
	n.windowsAveraged++
}

// noisePower returns the time-domain noise power estimate gathered during
// warm-up, or 0 when nothing has been observed.
func (n *noiseEstimator) noisePower() float64 {
	if n.powerSamples == 0 {
		return 0
	}
	return n.powerSum / float64(n.powerSamples)
}

// subtract applies magnitude-domain spectral subtraction to samples and
// returns the denoised result, same length as the input. Windows are
// processed with Hann analysis/overlap-add inside the chunk; the tail
// shorter than one window passes through untouched.
//
// alpha is the over-subtraction factor; floorRatio scales the spectral floor
// relative to the signal magnitude (β·|X|).
func (n *noiseEstimator) subtract(samples []float64, alpha, floorRatio float64) []float64 {
	if !n.ready || len(samples) < spectralWindow {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}

	out := make([]float64, len(samples))
	buf := make([]complex128, spectralWindow)

	lastStart := 0
	for start := 0; start+spectralWindow <= len(samples); start += spectralHop {
		for i := range spectralWindow {
			buf[i] = complex(samples[start+i]*n.window[i], 0)
		}
		fft(buf, false)

		// Subtract the noise magnitude per bin, keeping the original phase.
		// Conjugate-symmetric bins mirror the first half.
		for i := 0; i <= spectralWindow/2; i++ {
			re, im := real(buf[i]), imag(buf[i])
			mag := math.Hypot(re, im)
			cleaned := mag - alpha*n.profile[i]
			if floor := floorRatio * mag; cleaned < floor {
				cleaned = floor
			}
			var scale float64
			if mag > 0 {
				scale = cleaned / mag
			}
			buf[i] = complex(re*scale, im*scale)
			if i > 0 && i < spectralWindow/2 {
				j := spectralWindow - i
				buf[j] = complex(real(buf[j])*scale, imag(buf[j])*scale)
			}
		}

		fft(buf, true)
		for i := range spectralWindow {
			out[start+i] += real(buf[i])
		}
		lastStart = start
	}

	// Pass the unprocessed tail through as-is.
	for i := lastStart + spectralWindow; i < len(samples); i++ {
		out[i] = samples[i]
	}
	return out
}

// reset clears the profile and warm-up accumulation.
func (n *noiseEstimator) reset() {
	n.seenFrames = 0
	n.ready = false
	n.windowsAveraged = 0
	n.powerSum = 0
	n.powerSamples = 0
	for i := range n.profile {
		n.profile[i] = 0
	}
}
