// Package output names recording files and writes them in place atomically.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// Extension is appended to every take name.
const Extension = ".mp3"

const filePerm = 0644

// CleanFileName keeps letters, digits, spaces, hyphens and underscores,
// then replaces spaces with underscores.
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// Path returns the file for take name inside dir.
func Path(dir, name string) (string, error) {
	clean := CleanFileName(name)
	if clean == "" {
		return "", fmt.Errorf("invalid take name: %q", name)
	}
	return filepath.Join(dir, clean+Extension), nil
}

// WriteFile replaces path with data. Readers see the old file or the new
// one, never a partial write.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// StreamFile collects chunks in a temporary file next to the target and
// moves it into place on Commit.
type StreamFile struct {
	path    string
	pending *renameio.PendingFile
	size    int64
}

// CreateStream opens a StreamFile for path.
func CreateStream(path string) (*StreamFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePerm))
	if err != nil {
		return nil, fmt.Errorf("create pending file for %s: %w", path, err)
	}
	return &StreamFile{path: path, pending: pending}, nil
}

// Path returns the final file name.
func (s *StreamFile) Path() string { return s.path }

// Size returns the bytes written so far.
func (s *StreamFile) Size() int64 { return s.size }

// Write appends one chunk.
func (s *StreamFile) Write(chunk []byte) (int, error) {
	n, err := s.pending.Write(chunk)
	s.size += int64(n)
	return n, err
}

// Commit syncs the data and renames it over the target.
func (s *StreamFile) Commit() error {
	if err := s.pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit %s: %w", s.path, err)
	}
	return nil
}

// Discard removes the temporary file. It is a no-op after Commit.
func (s *StreamFile) Discard() error {
	return s.pending.Cleanup()
}
