// Package device picks the capture backend named in the configuration.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/mp3rec/internal/capture"
	"github.com/audiolibrelab/mp3rec/internal/config"
	"github.com/audiolibrelab/mp3rec/internal/device/pipewire"
	"github.com/audiolibrelab/mp3rec/internal/device/portaudio"
)

// Source is one capture source as reported by a backend.
type Source struct {
	Backend  string
	Name     string
	Detail   string
	Default  bool
	Channels int
}

// prober reports whether a backend can be used on this machine.
type prober interface {
	Supported() bool
}

// New returns the capture device for cfg and the backend it resolved to.
func New(cfg config.CaptureConfig, logger *slog.Logger) (capture.Device, string) {
	pa := portaudio.NewDevice(portaudio.Config{
		DeviceName:      cfg.Source,
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, logger)
	pw := pipewire.NewDevice(pipewire.Config{
		Source:          cfg.Source,
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, nil, logger)

	backend := determineBackend(cfg.Backend, pa, pw)
	logger.Debug("Capture backend selected", "configured", cfg.Backend, "backend", backend)
	if backend == config.BackendPipeWire {
		return pw, backend
	}
	return pa, backend
}

// determineBackend resolves "auto" to the first supported backend,
// PortAudio first.
func determineBackend(configured string, pa, pw prober) string {
	switch strings.ToLower(configured) {
	case config.BackendPortAudio:
		return config.BackendPortAudio
	case config.BackendPipeWire:
		return config.BackendPipeWire
	}
	if pa.Supported() {
		return config.BackendPortAudio
	}
	if pw.Supported() {
		return config.BackendPipeWire
	}
	return config.BackendPortAudio
}

// ListSources returns the sources of every available backend. A backend
// that fails to list is logged and skipped.
func ListSources(ctx context.Context, logger *slog.Logger) ([]Source, error) {
	var sources []Source
	var errs []string

	devices, err := portaudio.ListDevices()
	if err != nil {
		logger.Debug("PortAudio listing failed", "error", err)
		errs = append(errs, err.Error())
	}
	for _, d := range devices {
		sources = append(sources, Source{
			Backend:  config.BackendPortAudio,
			Name:     d.Name,
			Detail:   fmt.Sprintf("%s, %.0f Hz", d.HostAPI, d.DefaultSampleRate),
			Default:  d.Default,
			Channels: d.MaxInputChannels,
		})
	}

	ports, err := pipewire.NewPipeWire().ListPorts(ctx)
	if err != nil {
		logger.Debug("PipeWire listing failed", "error", err)
		errs = append(errs, err.Error())
	}
	for _, p := range ports {
		sources = append(sources, Source{Backend: config.BackendPipeWire, Name: p, Detail: "port"})
	}

	if len(sources) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("no capture backend available: %s", strings.Join(errs, "; "))
	}
	return sources, nil
}
