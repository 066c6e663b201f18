package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceAcquisition wraps any failure to obtain a stream from the device.
	ErrDeviceAcquisition = errors.New("audio device acquisition failed")
	// ErrNoAudioTrack is returned when an acquired stream has no audio track.
	ErrNoAudioTrack = errors.New("stream has no audio track")
	// ErrNoTransport is returned when a stream can neither push nor be read.
	ErrNoTransport = errors.New("stream supports no frame transport")
	// ErrSessionClosed is returned by operations on a torn down session.
	ErrSessionClosed = errors.New("capture session torn down")
)

// TrackKindAudio is the Kind of audio tracks.
const TrackKindAudio = "audio"

// Constraints are the processing hints passed to the device. A nil field
// leaves the choice to the device.
type Constraints struct {
	ChannelCount     *int  `json:"channel_count,omitempty" yaml:"channel_count,omitempty"`
	AutoGainControl  *bool `json:"auto_gain_control,omitempty" yaml:"auto_gain_control,omitempty"`
	EchoCancellation *bool `json:"echo_cancellation,omitempty" yaml:"echo_cancellation,omitempty"`
	NoiseSuppression *bool `json:"noise_suppression,omitempty" yaml:"noise_suppression,omitempty"`
}

// Permissive reports whether no constraint is set.
func (c Constraints) Permissive() bool {
	return c.ChannelCount == nil && c.AutoGainControl == nil &&
		c.EchoCancellation == nil && c.NoiseSuppression == nil
}

// Device is an audio input that can be opened as a stream.
type Device interface {
	Supported() bool
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open capture stream. Streams that implement io.Closer are
// closed on teardown after their tracks are stopped.
type Stream interface {
	Tracks() []Track
	SampleRate() int
}

// TrackSettings are the values the device actually negotiated.
type TrackSettings struct {
	ChannelCount int
}

// Track is one media track of a stream.
type Track interface {
	Kind() string
	Settings() TrackSettings
	Stop()
}

// FrameHandler receives one block of samples, one slice per channel.
type FrameHandler func(frame [][]float32)

// FramePusher is implemented by streams that deliver frames through a callback.
type FramePusher interface {
	// SetFrameHandler installs h. A nil h stops delivery.
	SetFrameHandler(h FrameHandler)
}

// FrameReader is implemented by streams that are read block by block.
type FrameReader interface {
	// ReadFrames blocks for the next block. It returns an error once the
	// stream is closed.
	ReadFrames() ([][]float32, error)
}

// ModulePreparer is implemented by push streams that need an asynchronous
// setup step before a frame handler can be installed.
type ModulePreparer interface {
	PrepareModule(ctx context.Context) error
}

// Acquire opens a stream on device.
func Acquire(ctx context.Context, device Device, c Constraints) (Stream, error) {
	stream, err := device.Acquire(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceAcquisition, err)
	}
	return stream, nil
}

// ChannelCount returns the negotiated channel count of the first audio
// track, or 1 when the device does not report one.
func ChannelCount(stream Stream) (int, error) {
	for _, track := range stream.Tracks() {
		if track.Kind() != TrackKindAudio {
			continue
		}
		if n := track.Settings().ChannelCount; n > 0 {
			return n, nil
		}
		return 1, nil
	}
	return 0, ErrNoAudioTrack
}
