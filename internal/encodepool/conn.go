package encodepool

import (
	"context"
	"errors"
	"log/slog"

	"github.com/audiolibrelab/mp3rec/internal/encoder"
)

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("encoder connection closed")

// Conn is the message channel to a loaded encoder.
type Conn interface {
	Send(cmd encoder.Command) error
	// Events is closed when the encoder goes away.
	Events() <-chan encoder.Event
	Close() error
}

// Loader loads the encoder identified by locator. ctx lives as long as the pool.
type Loader func(ctx context.Context, locator string) (Conn, error)

// Resolver maps a locator to the codec factory the worker should use.
type Resolver func(locator string) (encoder.CodecFactory, error)

// LameResolver resolves locator as the path of the lame binary.
func LameResolver(locator string) (encoder.CodecFactory, error) {
	path, err := encoder.LookupLame(locator)
	if err != nil {
		return nil, err
	}
	return encoder.LameFactory(path), nil
}

// WorkerLoader returns a Loader that runs an encoder.Worker on its own goroutine.
func WorkerLoader(resolve Resolver, logger *slog.Logger) Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, locator string) (Conn, error) {
		factory, err := resolve(locator)
		if err != nil {
			return nil, err
		}
		return startWorkerConn(ctx, encoder.NewWorker(factory, logger)), nil
	}
}

type workerConn struct {
	commands chan encoder.Command
	events   chan encoder.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func startWorkerConn(parent context.Context, w *encoder.Worker) *workerConn {
	ctx, cancel := context.WithCancel(parent)
	c := &workerConn{
		commands: make(chan encoder.Command, 256),
		events:   make(chan encoder.Event, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		w.Run(ctx, c.commands, c.events)
	}()
	return c
}

func (c *workerConn) Send(cmd encoder.Command) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

func (c *workerConn) Events() <-chan encoder.Event {
	return c.events
}

func (c *workerConn) Close() error {
	c.cancel()
	<-c.done
	return nil
}
