package inspect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectEmpty(t *testing.T) {
	_, err := Inspect(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestInspectRejectsGarbage(t *testing.T) {
	_, err := Inspect([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	assert.Error(t, err)
}

func TestInspectFileMissing(t *testing.T) {
	_, err := InspectFile(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestInspectFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not an mp3 at all"), 0644))

	_, err := InspectFile(path)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		length int64
		rate   int
		want   time.Duration
	}{
		{44100 * 4, 44100, time.Second},
		{48000 * 4 * 3 / 2, 48000, 1500 * time.Millisecond},
		{-1, 44100, 0},
		{1024, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, duration(tt.length, tt.rate), "length=%d rate=%d", tt.length, tt.rate)
	}
}
