package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/mp3rec/internal/config"
)

func TestValidatePipeline(t *testing.T) {
	tests := []struct {
		pipeline string
		wantErr  bool
	}{
		{"", false},
		{"rip", false},
		{"RP", false},
		{"i", false},
		{"rm", true},
		{"x", true},
	}
	for _, tt := range tests {
		t.Run(tt.pipeline, func(t *testing.T) {
			pipeline = tt.pipeline
			t.Cleanup(func() { pipeline = "" })

			err := validatePipeline()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecutePipeline_StepMissing(t *testing.T) {
	pipeline = "ip"
	t.Cleanup(func() { pipeline = "" })

	err := executePipeline(nil, "take", 'r')
	assert.ErrorContains(t, err, "step 'r' not found")
}

func TestResolveTakePath(t *testing.T) {
	dir := t.TempDir()
	cfg = config.Default()
	cfg.Output.Directory = dir
	t.Cleanup(func() { cfg = nil })

	got, err := resolveTakePath("My Song")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "My_Song.mp3"), got)

	file := filepath.Join(t.TempDir(), "elsewhere.mp3")
	require.NoError(t, os.WriteFile(file, []byte{0}, 0o644))
	got, err = resolveTakePath(file)
	require.NoError(t, err)
	assert.Equal(t, file, got)
}
