package encoder

// Codec turns 16-bit PCM into MP3 bytes. Implementations may buffer
// internally; whatever they hold back must be returned by Flush.
type Codec interface {
	// Encode encodes one block. right is nil for mono.
	Encode(left, right []int16) ([]byte, error)
	// Flush finishes the bitstream and returns the remaining bytes.
	Flush() ([]byte, error)
	// Close releases the codec. It is safe to call after Flush.
	Close() error
}

// CodecFactory creates a codec for one job.
type CodecFactory func(opts Options) (Codec, error)

// floatTo16 converts a float sample in [-1, 1] to signed 16-bit PCM,
// clamping values outside the range.
func floatTo16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

func convertBuffer(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = floatTo16(s)
	}
	return out
}
