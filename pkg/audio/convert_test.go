package audio

import (
	"math"
	"testing"
)

func TestToFloat64_TruncatesOddTrailingByte(t *testing.T) {
	// 2 whole samples plus one dangling byte.
	pcm := []byte{0x00, 0x40, 0x00, 0xC0, 0x7F}
	got := ToFloat64(pcm)
	if len(got) != 2 {
		t.Fatalf("sample count = %d, want 2", len(got))
	}
	if got[0] <= 0 || got[1] >= 0 {
		t.Errorf("sample signs = [%v %v], want [+ -]", got[0], got[1])
	}
}

func TestFromFloat64_ClampsOutOfRange(t *testing.T) {
	pcm := FromFloat64([]float64{1.5, -1.5, 0})
	back := ToFloat64(pcm)
	if back[0] < 0.99 || back[0] > 1 {
		t.Errorf("clamped positive = %v, want ≈1", back[0])
	}
	if back[1] > -0.99 || back[1] < -1 {
		t.Errorf("clamped negative = %v, want ≈-1", back[1])
	}
	if back[2] != 0 {
		t.Errorf("zero sample = %v, want 0", back[2])
	}
}

func TestRoundTripPreservesSamples(t *testing.T) {
	in := []float64{0.25, -0.5, 0.75, -0.125}
	out := ToFloat64(FromFloat64(in))
	for i := range in {
		if math.Abs(out[i]-in[i]) > 1e-3 {
			t.Errorf("sample %d = %v, want %v ±1e-3", i, out[i], in[i])
		}
	}
}

func TestResampleMono16_HalvesSampleCount(t *testing.T) {
	pcm := make([]byte, 320*2) // 320 samples
	out := ResampleMono16(pcm, 16000, 8000)
	if len(out) != 160*2 {
		t.Fatalf("resampled bytes = %d, want %d", len(out), 160*2)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	alternating := []float64{0.5, -0.5, 0.5, -0.5, 0.5}
	if zcr := ZeroCrossingRate(alternating); zcr != 1 {
		t.Errorf("alternating ZCR = %v, want 1", zcr)
	}
	flat := []float64{0.5, 0.5, 0.5}
	if zcr := ZeroCrossingRate(flat); zcr != 0 {
		t.Errorf("flat ZCR = %v, want 0", zcr)
	}
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]float64{1, -1, 1, -1}, 0.01)
	if st.RMS != 1 {
		t.Errorf("RMS = %v, want 1", st.RMS)
	}
	if !st.Clipping {
		t.Error("Clipping = false, want true at full scale")
	}
	// signalPower=1, noisePower=0.01 → 20 dB.
	if math.Abs(st.EstimatedSNR-20) > 1e-9 {
		t.Errorf("EstimatedSNR = %v, want 20", st.EstimatedSNR)
	}
}
