// Package portaudio captures audio from a PortAudio input device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/mp3rec/internal/capture"
)

// queued blocks kept for a reader before the callback starts dropping
const readQueue = 16

// Config selects the input device and buffer size.
type Config struct {
	// DeviceName is matched against device names. Empty selects the
	// default input.
	DeviceName      string
	SampleRate      int
	FramesPerBuffer int
}

// DeviceInfo describes one input device.
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Device is a capture.Device backed by PortAudio.
type Device struct {
	cfg    Config
	logger *slog.Logger
}

func NewDevice(cfg Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{cfg: cfg, logger: logger}
}

// Supported reports whether PortAudio initializes and has an input device.
func (d *Device) Supported() bool {
	if err := portaudio.Initialize(); err != nil {
		return false
	}
	defer portaudio.Terminate()
	_, err := portaudio.DefaultInputDevice()
	return err == nil
}

// ListDevices returns the input devices PortAudio can see.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var infos []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		info := DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			Default:           def != nil && dev.Name == def.Name,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// Acquire opens and starts an input stream. The channel count is clamped
// to what the device offers; PortAudio has no processing constraints so
// those are ignored.
func (d *Device) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	dev, err := findDevice(d.cfg.DeviceName)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("no input device: %w", err)
	}

	channels := 1
	if c.ChannelCount != nil {
		channels = *c.ChannelCount
	}
	channels = clampChannels(channels, dev.MaxInputChannels)
	if c.AutoGainControl != nil || c.EchoCancellation != nil || c.NoiseSuppression != nil {
		d.logger.Debug("portaudio ignores processing constraints", "device", dev.Name)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(d.cfg.SampleRate)
	params.FramesPerBuffer = d.cfg.FramesPerBuffer

	s := &Stream{
		channels:   channels,
		sampleRate: d.cfg.SampleRate,
		frames:     make(chan [][]float32, readQueue),
		closed:     make(chan struct{}),
	}
	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start capture: %w", err)
	}
	s.stream = stream

	d.logger.Info("portaudio capture started", "device", dev.Name, "channels", channels, "rate", d.cfg.SampleRate)
	return s, nil
}

func clampChannels(want, max int) int {
	if max > 0 && want > max {
		return max
	}
	if want < 1 {
		return 1
	}
	return want
}

// Stream delivers PortAudio buffers either to an installed handler or,
// without one, to ReadFrames.
type Stream struct {
	stream     *portaudio.Stream
	channels   int
	sampleRate int

	mu      sync.Mutex
	handler capture.FrameHandler

	frames    chan [][]float32
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *Stream) callback(in [][]float32) {
	// PortAudio reuses its buffers.
	frame := make([][]float32, len(in))
	for ch := range in {
		frame[ch] = append([]float32(nil), in[ch]...)
	}
	s.deliver(frame)
}

func (s *Stream) deliver(frame [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		s.handler(frame)
		return
	}
	select {
	case s.frames <- frame:
	default:
	}
}

func (s *Stream) SetFrameHandler(h capture.FrameHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Stream) ReadFrames() ([][]float32, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *Stream) Tracks() []capture.Track { return []capture.Track{track{s}} }

func (s *Stream) SampleRate() int { return s.sampleRate }

// Close stops the stream and releases PortAudio.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.stream == nil {
			return
		}
		s.closeErr = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	})
	return s.closeErr
}

type track struct{ s *Stream }

func (t track) Kind() string { return capture.TrackKindAudio }

func (t track) Settings() capture.TrackSettings {
	return capture.TrackSettings{ChannelCount: t.s.channels}
}

func (t track) Stop() { _ = t.s.Close() }
