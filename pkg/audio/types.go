// Package audio holds the frame type and PCM helpers shared by every stage of
// the voice pipeline. The wire format at all audio boundaries is 16-bit signed
// little-endian mono PCM; DSP stages operate on a normalized float64 view in
// [-1, 1] and convert back at the edges.
package audio

import "time"

// DefaultSampleRate is the negotiated sample rate used when a stream does not
// specify one.
const DefaultSampleRate = 16000

// Frame is a single chunk of audio flowing through the pipeline. Frames are
// the atomic unit of transport: received from the streaming session, cleaned
// by the preprocessor, segmented by the VAD, and handed to recognizers.
type Frame struct {
	// Data is raw little-endian int16 PCM. An odd trailing byte is not a
	// whole sample and is ignored by all consumers.
	Data []byte

	// SampleRate in Hz (default 16000).
	SampleRate int

	// Channels is the channel count; the pipeline is mono end to end.
	Channels int

	// Timestamp is the frame's position on the stream's audio timeline,
	// measured from stream start.
	Timestamp time.Duration
}

// SampleCount returns the number of whole int16 samples in the frame.
func (f Frame) SampleCount() int {
	return len(f.Data) / 2
}

// Duration returns the playback duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}
