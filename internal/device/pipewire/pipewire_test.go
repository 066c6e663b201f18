package pipewire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/audiolibrelab/mp3rec/internal/capture"
)

const pwLinkOutput = `Output ports:
Chrome:output_FL
Chrome:output_FL
Chrome-2:output_FL
Firefox:output_FL
Input ports:
system:capture_1
`

func fakeRunner(output string, err error) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(output), err
	}
}

func TestListPorts_SkipsHeaders(t *testing.T) {
	pw := NewPipeWireWithRunner(fakeRunner(pwLinkOutput, nil))

	ports, err := pw.ListPorts(context.Background())
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}
	if len(ports) != 5 {
		t.Errorf("Expected 5 ports, got %d: %v", len(ports), ports)
	}
	for _, port := range ports {
		if strings.HasSuffix(port, "ports:") {
			t.Errorf("Header leaked into port list: %s", port)
		}
	}
}

func TestValidatePort_Success(t *testing.T) {
	pw := NewPipeWireWithRunner(fakeRunner(pwLinkOutput, nil))

	if err := pw.ValidatePort(context.Background(), "system:capture_1"); err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestValidatePort_NotFound(t *testing.T) {
	pw := NewPipeWireWithRunner(fakeRunner(pwLinkOutput, nil))

	err := pw.ValidatePort(context.Background(), "nonexistent:port")
	if err == nil || !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	pw := NewPipeWireWithRunner(fakeRunner(pwLinkOutput, nil))

	err := pw.ValidatePort(context.Background(), "Chrome:output_FL")
	if err == nil || !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}

	// Chrome-2 is a different instance, not a duplicate
	if err := pw.ValidatePort(context.Background(), "Chrome-2:output_FL"); err != nil {
		t.Errorf("Expected no error for Chrome-2:output_FL, got: %v", err)
	}
}

func TestValidatePort_EmptyAndDisabled(t *testing.T) {
	pw := NewPipeWireWithRunner(fakeRunner("", errors.New("pw-link must not run")))

	for _, port := range []string{"", "disabled"} {
		if err := pw.ValidatePort(context.Background(), port); err != nil {
			t.Errorf("Expected no error for %q, got: %v", port, err)
		}
	}
}

func TestValidatePort_CommandFailure(t *testing.T) {
	pw := NewPipeWireWithRunner(fakeRunner("", errors.New("exit status 1")))

	if err := pw.ValidatePort(context.Background(), "system:capture_1"); err == nil {
		t.Error("Expected error when pw-link fails")
	}
}

func TestFindPortDuplicates(t *testing.T) {
	mockPorts := []string{
		"Firefox:output_FL",
		"Firefox:output_FL",     // True duplicate - same name
		"Firefox (1):output_FL", // Different instance - NOT a duplicate
		"Chrome:output_FL",
	}

	if got := findPortDuplicatesInList("Firefox:output_FL", mockPorts); len(got) != 2 {
		t.Errorf("Expected 2 duplicates, got %d: %v", len(got), got)
	}
	if got := findPortDuplicatesInList("Chrome:output_FL", mockPorts); len(got) != 1 {
		t.Errorf("Expected 1 match (itself), got %d: %v", len(got), got)
	}
}

func TestAcquire_RejectsUnknownSource(t *testing.T) {
	d := NewDevice(Config{Source: "missing:port", SampleRate: 44100, FramesPerBuffer: 4},
		NewPipeWireWithRunner(fakeRunner(pwLinkOutput, nil)), nil)

	if _, err := d.Acquire(context.Background(), capture.Constraints{}); err == nil {
		t.Error("Expected error for unknown source")
	}
}

func TestAcquire_HonorsCancelledContext(t *testing.T) {
	d := NewDevice(Config{SampleRate: 44100, FramesPerBuffer: 4}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Acquire(ctx, capture.Constraints{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func interleaved(samples ...float32) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(s))
	}
	return buf.Bytes()
}

func TestStream_ReadFramesDeinterleaves(t *testing.T) {
	data := interleaved(0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0.4, -0.4)
	s := newStream(bytes.NewReader(data), 2, 48000, 2)

	tests := []struct {
		left, right []float32
	}{
		{[]float32{0.1, 0.2}, []float32{-0.1, -0.2}},
		{[]float32{0.3, 0.4}, []float32{-0.3, -0.4}},
	}
	for i, tt := range tests {
		frame, err := s.ReadFrames()
		if err != nil {
			t.Fatalf("block %d: ReadFrames failed: %v", i, err)
		}
		if len(frame) != 2 {
			t.Fatalf("block %d: expected 2 channels, got %d", i, len(frame))
		}
		for j := range tt.left {
			if frame[0][j] != tt.left[j] || frame[1][j] != tt.right[j] {
				t.Errorf("block %d sample %d: got (%v, %v), want (%v, %v)",
					i, j, frame[0][j], frame[1][j], tt.left[j], tt.right[j])
			}
		}
	}

	if _, err := s.ReadFrames(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after last block, got: %v", err)
	}
}

func TestStream_TrackReportsChannels(t *testing.T) {
	closed := 0
	s := newStream(bytes.NewReader(nil), 2, 44100, 8)
	s.closeFn = func() error { closed++; return nil }

	n, err := capture.ChannelCount(s)
	if err != nil || n != 2 {
		t.Errorf("Expected 2 channels, got %d (%v)", n, err)
	}

	s.Tracks()[0].Stop()
	_ = s.Close()
	if closed != 1 {
		t.Errorf("Expected close to run once, ran %d times", closed)
	}
}
