package encodepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/mp3rec/internal/encoder"
	"github.com/audiolibrelab/mp3rec/internal/metrics"
)

// Readiness is the loading state of the shared encoder.
type Readiness int

const (
	Inactive Readiness = iota
	Loading
	Ready
	Failed
)

func (r Readiness) String() string {
	switch r {
	case Inactive:
		return "inactive"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrEncoderLoad reports that loading the encoder failed. Calling
	// WaitReady again retries the load.
	ErrEncoderLoad = errors.New("mp3 encoder failed to load")
	// ErrTransport is passed to registered jobs when the encoder goes away.
	ErrTransport = errors.New("mp3 encoder transport failed")
	// ErrNotReady is returned when sending while no encoder is loaded.
	ErrNotReady = errors.New("mp3 encoder not ready")
	// ErrPoolClosed is returned to waiters when the pool is closed.
	ErrPoolClosed = errors.New("encoder pool closed")
)

// Pool owns the one encoder shared by every recorder and routes its events
// to jobs by job id.
type Pool struct {
	loader Loader
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     Readiness
	locator   string
	preloaded bool
	closed    bool
	waiters   []chan error
	conn      Conn
	jobs      map[string]*Job
}

// New creates a pool that loads the encoder with loader.
func New(loader Loader, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	metrics.SetEncoderReadiness(Inactive.String())
	return &Pool{
		loader: loader,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job),
	}
}

// Readiness returns the current loading state.
func (p *Pool) Readiness() Readiness {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Preloaded reports whether Preload has been called at least once.
func (p *Pool) Preloaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preloaded
}

// Preload starts loading the encoder unless it is already loading or ready.
func (p *Pool) Preload(locator string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.locator = locator
	p.preloaded = true
	p.preloadLocked()
}

func (p *Pool) preloadLocked() {
	if p.closed || (p.state != Inactive && p.state != Failed) {
		return
	}
	p.setStateLocked(Loading)
	p.logger.Debug("Loading mp3 encoder", "locator", p.locator)

	p.wg.Add(1)
	go p.load(p.locator)
}

// WaitReady blocks until the encoder is ready. A failed or inactive pool
// starts a new load attempt first.
func (p *Pool) WaitReady(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Ready {
		p.mu.Unlock()
		return nil
	}
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.preloadLocked()
	ch := make(chan error, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the encoder down. Registered jobs are dropped without callbacks.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	waiters := p.waiters
	p.waiters = nil
	for id, job := range p.jobs {
		delete(p.jobs, id)
		metrics.JobUnregistered()
		job.end()
	}
	p.setStateLocked(Inactive)
	p.mu.Unlock()

	notify(waiters, ErrPoolClosed)
	p.cancel()
	if conn != nil {
		conn.Close()
	}
	p.wg.Wait()
	return nil
}

func (p *Pool) load(locator string) {
	defer p.wg.Done()

	conn, err := p.loader(p.ctx, locator)
	if err != nil {
		p.logger.Error("Failed to load mp3 encoder", "locator", locator, "error", err)
		p.settle(Failed, fmt.Errorf("%w: %v", ErrEncoderLoad, err))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.conn = conn
	p.mu.Unlock()

	p.dispatch(conn)
}

// dispatch routes encoder events until the connection ends.
func (p *Pool) dispatch(conn Conn) {
	for ev := range conn.Events() {
		switch ev.Message {
		case encoder.MessageReady:
			p.logger.Debug("mp3 encoder ready")
			p.settle(Ready, nil)

		case encoder.MessageEncoded:
			if job := p.lookup(ev.JobID); job != nil {
				job.acknowledge(ev.Consumed)
			}

		case encoder.MessageData:
			if job := p.lookup(ev.JobID); job != nil {
				metrics.AddEncodedBytes(len(ev.Bytes))
				job.deliver(ev.Bytes)
			}

		case encoder.MessageStopped:
			if job := p.unregister(ev.JobID); job != nil {
				job.finish()
			}

		case encoder.MessageError:
			if ev.JobID == "" {
				p.transportLost(conn, ev.Err)
				return
			}
			if job := p.unregister(ev.JobID); job != nil {
				job.fail(ev.Err)
			}

		default:
			p.logger.Debug("Ignoring unknown encoder message", "message", ev.Message, "job_id", ev.JobID)
		}
	}
	p.transportLost(conn, ErrConnClosed)
}

// transportLost moves the pool to Failed and fails everything waiting on conn.
func (p *Pool) transportLost(conn Conn, cause error) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.setStateLocked(Failed)
	waiters := p.waiters
	p.waiters = nil
	jobs := p.jobs
	p.jobs = make(map[string]*Job)
	p.mu.Unlock()

	p.logger.Error("mp3 encoder transport failed", "error", cause, "jobs", len(jobs))
	conn.Close()

	notify(waiters, fmt.Errorf("%w: %v", ErrEncoderLoad, cause))
	for _, job := range jobs {
		metrics.JobUnregistered()
		job.fail(fmt.Errorf("%w: %v", ErrTransport, cause))
	}
}

// settle records the outcome of a load attempt and wakes every waiter.
func (p *Pool) settle(state Readiness, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.setStateLocked(state)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	notify(waiters, err)
}

func notify(waiters []chan error, err error) {
	for _, ch := range waiters {
		ch <- err
	}
}

func (p *Pool) setStateLocked(state Readiness) {
	p.state = state
	metrics.SetEncoderReadiness(state.String())
}

// send posts a command to the loaded encoder.
func (p *Pool) send(cmd encoder.Command) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return ErrNotReady
	}
	return conn.Send(cmd)
}

func (p *Pool) register(job *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job.id] = job
	metrics.JobRegistered()
}

func (p *Pool) lookup(id string) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[id]
}

func (p *Pool) unregister(id string) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return nil
	}
	delete(p.jobs, id)
	metrics.JobUnregistered()
	return job
}

// Jobs returns the number of registered jobs.
func (p *Pool) Jobs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}
