package capture

import (
	"log/slog"
	"sync"
	"time"
)

// Transport names.
const (
	TransportPush = "push"
	TransportPull = "pull"
)

const detachTimeout = 2 * time.Second

// Transport moves frames from a stream into the graph.
type Transport interface {
	Name() string
	attach(h FrameHandler) error
	detach()
}

// SelectTransport picks the callback transport when the stream supports it,
// unless forceFallback asks for the read loop. A forced fallback on a stream
// that cannot be read still uses the callback.
func SelectTransport(stream Stream, forceFallback bool, logger *slog.Logger) (Transport, error) {
	pusher, canPush := stream.(FramePusher)
	reader, canPull := stream.(FrameReader)

	switch {
	case canPush && (!forceFallback || !canPull):
		return &pushTransport{pusher: pusher}, nil
	case canPull:
		return &pullTransport{reader: reader, logger: logger}, nil
	default:
		return nil, ErrNoTransport
	}
}

type pushTransport struct {
	pusher FramePusher
}

func (t *pushTransport) Name() string { return TransportPush }

func (t *pushTransport) attach(h FrameHandler) error {
	t.pusher.SetFrameHandler(h)
	return nil
}

func (t *pushTransport) detach() {
	t.pusher.SetFrameHandler(nil)
}

type pullTransport struct {
	reader FrameReader
	logger *slog.Logger

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (t *pullTransport) Name() string { return TransportPull }

func (t *pullTransport) attach(h FrameHandler) error {
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(h)
	return nil
}

func (t *pullTransport) loop(h FrameHandler) {
	defer close(t.done)
	for {
		frame, err := t.reader.ReadFrames()
		select {
		case <-t.stop:
			return
		default:
		}
		if err != nil {
			t.logger.Debug("Frame reader ended", "error", err)
			return
		}
		h(frame)
	}
}

// detach waits for the read loop to notice the stop. A reader blocked in
// ReadFrames only returns once its stream is closed.
func (t *pullTransport) detach() {
	if t.stop == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
	select {
	case <-t.done:
	case <-time.After(detachTimeout):
		t.logger.Warn("Frame reader did not stop in time")
	}
}
