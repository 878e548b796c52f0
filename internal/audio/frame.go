// Package audio implements the audio-chunk ingestion pipeline: header
// stripping and frame-size normalization (the Normalizer) and the bounded
// FIFO between the normalizer and the ASR stream driver (the Queue).
package audio

const (
	// MinFrameBytes is the minimum canonical frame size: 100ms of PCM16@16kHz
	// mono (16000 samples/s * 2 bytes/sample * 0.1s).
	MinFrameBytes = 3200

	// MaxFrameBytes is the maximum canonical frame size: 300ms of the same format.
	MaxFrameBytes = 9600

	// SampleRateHz is the only sample rate the Normalizer accepts.
	SampleRateHz = 16000

	// BytesPerSample is fixed by the PCM16 format.
	BytesPerSample = 2
)

// Frame is a canonical audio chunk: raw little-endian PCM16 mono bytes in
// [MinFrameBytes, MaxFrameBytes], tagged with the arrival sequence assigned
// by the Normalizer. Frames carry no headers.
type Frame struct {
	Bytes []byte
	Seq   uint64
}
