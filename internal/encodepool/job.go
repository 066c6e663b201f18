package encodepool

import (
	"sync"

	"github.com/google/uuid"

	"github.com/audiolibrelab/mp3rec/internal/encoder"
	"github.com/audiolibrelab/mp3rec/internal/metrics"
)

// JobHandlers receive the results of one job. They are called from the
// pool's dispatch goroutine and must not block on the pool.
type JobHandlers struct {
	OnData    func(chunk []byte)
	OnStopped func()
	OnError   func(err error)
}

// Job is one encoding session on the shared encoder.
type Job struct {
	pool     *Pool
	id       string
	opts     encoder.Options
	handlers JobHandlers

	mu     sync.Mutex
	queued int
	ended  bool
}

// NewJob registers a job with a fresh id. Events for it are routed to
// handlers until it stops or fails.
func (p *Pool) NewJob(opts encoder.Options, handlers JobHandlers) *Job {
	job := &Job{
		pool:     p,
		id:       uuid.NewString(),
		opts:     opts,
		handlers: handlers,
	}
	p.register(job)
	return job
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Start asks the encoder to create the job's codec.
func (j *Job) Start() error {
	opts := j.opts
	err := j.pool.send(encoder.Command{
		Command: encoder.CommandStart,
		JobID:   j.id,
		Options: &opts,
	})
	if err != nil {
		j.pool.unregister(j.id)
		j.end()
	}
	return err
}

// SendData posts one block of per-channel samples. Empty blocks are ignored.
func (j *Job) SendData(buffers [][]float32) error {
	if len(buffers) == 0 || len(buffers[0]) == 0 {
		return nil
	}

	n := len(buffers[0])
	j.mu.Lock()
	if j.ended {
		j.mu.Unlock()
		return nil
	}
	j.queued += n
	j.mu.Unlock()
	metrics.AddBacklog(n)

	return j.pool.send(encoder.Command{
		Command: encoder.CommandData,
		JobID:   j.id,
		Buffers: buffers,
	})
}

// Stop asks the encoder to flush and end the job. OnStopped follows the
// last OnData.
func (j *Job) Stop() error {
	return j.pool.send(encoder.Command{
		Command: encoder.CommandStop,
		JobID:   j.id,
	})
}

// QueuedDataLen returns the number of samples per channel sent but not
// yet acknowledged by the encoder.
func (j *Job) QueuedDataLen() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.queued
}

func (j *Job) acknowledge(consumed int) {
	j.mu.Lock()
	before := j.queued
	j.queued = max(j.queued-consumed, 0)
	delta := j.queued - before
	j.mu.Unlock()
	metrics.AddBacklog(delta)
}

func (j *Job) deliver(chunk []byte) {
	if j.handlers.OnData != nil {
		j.handlers.OnData(chunk)
	}
}

func (j *Job) finish() {
	if !j.end() {
		return
	}
	if j.handlers.OnStopped != nil {
		j.handlers.OnStopped()
	}
}

func (j *Job) fail(err error) {
	if !j.end() {
		return
	}
	if j.handlers.OnError != nil {
		j.handlers.OnError(err)
	}
}

// end marks the job finished and returns false if it already was.
func (j *Job) end() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ended {
		return false
	}
	j.ended = true
	metrics.AddBacklog(-j.queued)
	j.queued = 0
	return true
}
