// Package inspect decodes recorded MP3 files to report what they contain.
package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// ErrEmpty is returned for zero-length input.
var ErrEmpty = errors.New("empty mp3 data")

// Info describes a decoded MP3 stream.
type Info struct {
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Size       int64         `json:"size"`
}

// Inspect decodes data and reports its sample rate and duration.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("decode mp3: %w", err)
	}
	return Info{
		SampleRate: dec.SampleRate(),
		Duration:   duration(dec.Length(), dec.SampleRate()),
		Size:       int64(len(data)),
	}, nil
}

// InspectFile reads and inspects the MP3 file at path.
func InspectFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Info{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Inspect(data)
}

// duration converts a decoded length in bytes of 16-bit stereo PCM.
func duration(length int64, sampleRate int) time.Duration {
	if length <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := length / 4
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
