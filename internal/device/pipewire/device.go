// Package pipewire captures audio by reading raw float samples from pw-record.
package pipewire

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"sync"

	"github.com/audiolibrelab/mp3rec/internal/capture"
)

const defaultBinary = "pw-record"

// Config selects the PipeWire source and stream format.
type Config struct {
	Source          string
	SampleRate      int
	FramesPerBuffer int
	// Binary overrides the pw-record executable.
	Binary string
}

// Device is a capture.Device backed by a pw-record child process.
type Device struct {
	cfg    Config
	pw     *PipeWire
	logger *slog.Logger
}

// NewDevice creates a Device. A nil pw uses pw-link from PATH.
func NewDevice(cfg Config, pw *PipeWire, logger *slog.Logger) *Device {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if pw == nil {
		pw = NewPipeWire()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{cfg: cfg, pw: pw, logger: logger}
}

// Supported reports whether pw-record is installed.
func (d *Device) Supported() bool {
	_, err := exec.LookPath(d.cfg.Binary)
	return err == nil
}

// Acquire starts pw-record on the configured source. Processing constraints
// other than the channel count are not available through pw-record and are
// ignored.
func (d *Device) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.pw.ValidatePort(ctx, d.cfg.Source); err != nil {
		return nil, err
	}

	channels := 1
	if c.ChannelCount != nil {
		channels = *c.ChannelCount
	}
	if c.AutoGainControl != nil || c.EchoCancellation != nil || c.NoiseSuppression != nil {
		d.logger.Debug("pw-record ignores processing constraints",
			"agc", c.AutoGainControl != nil, "echo", c.EchoCancellation != nil, "noise", c.NoiseSuppression != nil)
	}

	args := []string{
		"--rate", strconv.Itoa(d.cfg.SampleRate),
		"--channels", strconv.Itoa(channels),
		"--format", "f32",
	}
	if d.cfg.Source != "" {
		args = append(args, "--target", d.cfg.Source)
	}
	args = append(args, "-")

	// Not bound to ctx: the stream outlives the acquisition call.
	cmd := exec.Command(d.cfg.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pw-record pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", d.cfg.Binary, err)
	}
	d.logger.Info("pw-record started", "pid", cmd.Process.Pid, "source", d.cfg.Source, "channels", channels, "rate", d.cfg.SampleRate)

	s := newStream(stdout, channels, d.cfg.SampleRate, d.cfg.FramesPerBuffer)
	s.closeFn = func() error {
		_ = cmd.Process.Kill()
		err := cmd.Wait()
		d.logger.Debug("pw-record exited", "error", err)
		return nil
	}
	return s, nil
}

// Stream reads interleaved little-endian float32 samples.
type Stream struct {
	r          io.Reader
	channels   int
	sampleRate int
	buf        []byte

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

func newStream(r io.Reader, channels, sampleRate, framesPerBuffer int) *Stream {
	return &Stream{
		r:          r,
		channels:   channels,
		sampleRate: sampleRate,
		buf:        make([]byte, framesPerBuffer*channels*4),
	}
}

func (s *Stream) Tracks() []capture.Track { return []capture.Track{track{s}} }

func (s *Stream) SampleRate() int { return s.sampleRate }

// ReadFrames reads one block and splits it into channels.
func (s *Stream) ReadFrames() ([][]float32, error) {
	if _, err := io.ReadFull(s.r, s.buf); err != nil {
		return nil, err
	}
	n := len(s.buf) / 4 / s.channels
	frame := make([][]float32, s.channels)
	for ch := range frame {
		frame[ch] = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < s.channels; ch++ {
			off := (i*s.channels + ch) * 4
			frame[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(s.buf[off:]))
		}
	}
	return frame, nil
}

// Close stops pw-record and releases the pipe.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

type track struct{ s *Stream }

func (t track) Kind() string { return capture.TrackKindAudio }

func (t track) Settings() capture.TrackSettings {
	return capture.TrackSettings{ChannelCount: t.s.channels}
}

func (t track) Stop() { _ = t.s.Close() }
