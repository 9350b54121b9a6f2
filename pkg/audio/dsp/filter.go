package dsp

import "math"

// singlePoleFilter is a first-order IIR filter usable as either a high-pass
// or a low-pass section. One instance carries state across frames, so a
// filter must never be shared between streams.
type singlePoleFilter struct {
	highPass bool
	alpha    float64
	prevIn   float64
	prevOut  float64
	primed   bool
}

func newSinglePoleFilter(highPass bool, cutoffHz float64, sampleRate int) *singlePoleFilter {
	f := &singlePoleFilter{highPass: highPass}
	f.setCutoff(cutoffHz, sampleRate)
	return f
}

// setCutoff recomputes the filter coefficient. Filter state is preserved so
// the stage can be retuned mid-stream without a discontinuity.
func (f *singlePoleFilter) setCutoff(cutoffHz float64, sampleRate int) {
	if cutoffHz <= 0 || sampleRate <= 0 {
		f.alpha = 1
		return
	}
	rc := 1 / (2 * math.Pi * cutoffHz)
	dt := 1 / float64(sampleRate)
	if f.highPass {
		f.alpha = rc / (rc + dt)
	} else {
		f.alpha = dt / (rc + dt)
	}
}

// process filters samples in place.
func (f *singlePoleFilter) process(samples []float64) {
	if len(samples) == 0 {
		return
	}
	if !f.primed {
		f.prevIn = samples[0]
		if !f.highPass {
			f.prevOut = samples[0]
		}
		f.primed = true
	}
	if f.highPass {
		for i, x := range samples {
			y := f.alpha * (f.prevOut + x - f.prevIn)
			f.prevIn = x
			f.prevOut = y
			samples[i] = y
		}
		return
	}
	for i, x := range samples {
		y := f.prevOut + f.alpha*(x-f.prevOut)
		f.prevOut = y
		samples[i] = y
	}
}

// reset clears the filter memory.
func (f *singlePoleFilter) reset() {
	f.prevIn = 0
	f.prevOut = 0
	f.primed = false
}
