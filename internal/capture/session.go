package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Session owns the resources of one capture: the device stream, the frame
// transport and the source → gain → sink graph. A session is used for a
// single recording and torn down exactly once.
type Session struct {
	device        Device
	forceFallback bool
	logger        *slog.Logger

	mu        sync.Mutex
	stream    Stream
	transport Transport
	graph     *graph
	gain      float64
	torn      bool
}

// NewSession creates an empty session on device.
func NewSession(device Device, gain float64, forceFallback bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		device:        device,
		forceFallback: forceFallback,
		logger:        logger,
		gain:          gain,
	}
}

// Acquire opens the device stream.
func (s *Session) Acquire(ctx context.Context, c Constraints) error {
	stream, err := Acquire(ctx, s.device, c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		releaseStream(stream, s.logger)
		return ErrSessionClosed
	}
	s.stream = stream
	s.logger.Debug("Capture stream acquired", "sample_rate", stream.SampleRate(), "tracks", len(stream.Tracks()))
	return nil
}

// PrepareTransport selects the frame transport and runs the stream's module
// setup when the callback transport needs one. It reports whether such a
// setup step ran.
func (s *Session) PrepareTransport(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return false, ErrNoAudioTrack
	}

	transport, err := SelectTransport(stream, s.forceFallback, s.logger)
	if err != nil {
		return false, err
	}

	prepared := false
	if transport.Name() == TransportPush {
		if preparer, ok := stream.(ModulePreparer); ok {
			if err := preparer.PrepareModule(ctx); err != nil {
				return false, fmt.Errorf("prepare capture module: %w", err)
			}
			prepared = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return prepared, ErrSessionClosed
	}
	s.transport = transport
	s.logger.Debug("Frame transport selected", "transport", transport.Name())
	return prepared, nil
}

// ChannelCount returns the negotiated channel count of the acquired stream.
func (s *Session) ChannelCount() (int, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return 0, ErrNoAudioTrack
	}
	return ChannelCount(stream)
}

// SampleRate returns the stream's sample rate, or 0 before Acquire.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return 0
	}
	return s.stream.SampleRate()
}

// BuildGraph connects the stream to handler through the gain stage and
// starts frame delivery.
func (s *Session) BuildGraph(handler FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torn {
		return ErrSessionClosed
	}
	if s.stream == nil {
		return ErrNoAudioTrack
	}
	if s.transport == nil {
		transport, err := SelectTransport(s.stream, s.forceFallback, s.logger)
		if err != nil {
			return err
		}
		s.transport = transport
	}

	g := newGraph(s.stream.SampleRate(), s.gain, handler)
	if err := s.transport.attach(g.source.process); err != nil {
		g.release()
		return fmt.Errorf("attach %s transport: %w", s.transport.Name(), err)
	}
	s.graph = g
	return nil
}

// Transport returns the name of the selected transport, or "" before one
// was selected.
func (s *Session) Transport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Name()
}

// SetGain stores v and ramps the live gain stage towards it.
func (s *Session) SetGain(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = v
	if s.graph != nil && !s.graph.released {
		s.graph.gain.setTarget(v)
	}
}

// Gain returns the requested gain.
func (s *Session) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Teardown stops the tracks, detaches the transport and releases the graph.
// When it returns no further frame reaches the handler. It is safe to call
// more than once and at any point of setup.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	stream, transport, g := s.stream, s.transport, s.graph
	s.stream, s.transport, s.graph = nil, nil, nil
	s.mu.Unlock()

	if stream != nil {
		releaseStream(stream, s.logger)
	}
	if g != nil {
		g.sink.detach()
		if transport != nil {
			transport.detach()
		}
		g.release()
	}
	s.logger.Debug("Capture session torn down")
}

func releaseStream(stream Stream, logger *slog.Logger) {
	for _, track := range stream.Tracks() {
		track.Stop()
	}
	if closer, ok := stream.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Debug("Failed to close capture stream", "error", err)
		}
	}
}
