package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/mp3rec/internal/capture"
	"github.com/audiolibrelab/mp3rec/internal/encodepool"
	"github.com/audiolibrelab/mp3rec/internal/encoder"
	"github.com/audiolibrelab/mp3rec/internal/metrics"
	"github.com/audiolibrelab/mp3rec/internal/stopwatch"
)

// State represents the current state of the recorder
type State string

const (
	StateStopped   State = "STOPPED"
	StateStarting  State = "STARTING"
	StateRecording State = "RECORDING"
	StatePaused    State = "PAUSED"
	StateStopping  State = "STOPPING"
)

var (
	// ErrInvalidState is returned by Start and Stop when called in a state
	// that does not allow them.
	ErrInvalidState = errors.New("operation not valid in current recorder state")
	// ErrNotPreloaded is returned by Start before the encoder was preloaded.
	ErrNotPreloaded = errors.New("encoder has not been preloaded")
	// ErrStartCancelled is returned by Start when Stop was called before the
	// start finished. The stop itself completes normally with no artifact.
	ErrStartCancelled = errors.New("start cancelled by stop")
)

// Options configures a recorder. Start from DefaultOptions: zero BitRate and
// ChunkBufferSize fall back to the encoder defaults, but a zero Gain is kept
// and records silence.
type Options struct {
	Gain                   float64
	BitRate                int
	Streaming              bool
	ChunkBufferSize        int
	ForceFallbackTransport bool
	Constraints            capture.Constraints
}

// DefaultOptions returns mono capture with automatic gain control, echo
// cancellation and noise suppression enabled, encoded at 96 kbit/s.
func DefaultOptions() Options {
	channels := 1
	on := true
	return Options{
		Gain:            1,
		BitRate:         96,
		ChunkBufferSize: 50000,
		Constraints: capture.Constraints{
			ChannelCount:     &channels,
			AutoGainControl:  &on,
			EchoCancellation: &on,
			NoiseSuppression: &on,
		},
	}
}

// Recorder drives one capture device through recording sessions, feeding
// the frames to a job on the shared encoder.
type Recorder struct {
	pool   *encodepool.Pool
	device capture.Device
	opts   Options
	logger *slog.Logger
	watch  *stopwatch.Stopwatch
	subs   subscribers
	events eventQueue

	mu      sync.Mutex
	state   State
	gain    float64
	session *capture.Session
	job     *encodepool.Job
	chunks  [][]byte
	pending *pendingStop
}

// New creates a stopped recorder.
func New(pool *encodepool.Pool, device capture.Device, opts Options, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BitRate <= 0 {
		opts.BitRate = encoder.DefaultOptions.BitRate
	}
	if opts.ChunkBufferSize <= 0 {
		opts.ChunkBufferSize = encoder.DefaultOptions.BufferSize
	}
	return &Recorder{
		pool:   pool,
		device: device,
		opts:   opts,
		logger: logger,
		watch:  stopwatch.New(),
		state:  StateStopped,
		gain:   opts.Gain,
	}
}

// IsSupported reports whether the capture device can be used.
func (r *Recorder) IsSupported() bool {
	return r.device != nil && r.device.Supported()
}

// Subscribe registers fn for every future event and returns a function
// removing it. Events are delivered in order on a goroutine owned by the
// recorder. Subscribers may call back into the recorder: Stop called from a
// subscriber starts the stop and returns at once with a nil artifact, and
// the Stopped event follows once the subscriber returns.
func (r *Recorder) Subscribe(fn func(Event)) (unsubscribe func()) {
	return r.subs.add(fn)
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the recorded time, excluding pauses.
func (r *Recorder) Elapsed() time.Duration {
	return r.watch.Elapsed()
}

// BacklogEstimate returns the number of samples per channel handed to the
// encoder and not yet encoded.
func (r *Recorder) BacklogEstimate() int {
	r.mu.Lock()
	job := r.job
	r.mu.Unlock()
	if job == nil {
		return 0
	}
	return job.QueuedDataLen()
}

// JobID returns the id of the active encoding job, or "".
func (r *Recorder) JobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job == nil {
		return ""
	}
	return r.job.ID()
}

// Transport returns the frame transport of the live session, or "".
func (r *Recorder) Transport() string {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return ""
	}
	return session.Transport()
}

// Gain returns the requested input gain.
func (r *Recorder) Gain() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gain
}

// SetGain changes the input gain. A live capture ramps to the new value.
func (r *Recorder) SetGain(v float64) {
	r.mu.Lock()
	r.gain = v
	session := r.session
	r.mu.Unlock()

	if session != nil {
		session.SetGain(v)
	}
}

// Pause stops forwarding frames to the encoder. It does nothing unless recording.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return
	}
	r.watch.Stop()
	r.state = StatePaused
	r.logger.Debug("Recording paused")
}

// Resume continues a paused recording. It does nothing unless paused.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return
	}
	r.watch.Start()
	r.state = StateRecording
	r.logger.Debug("Recording resumed")
}

// Start opens the device and starts a new encoding job. With beginPaused the
// recorder ends up paused, ready to be resumed. Start blocks until the
// session is running, has failed, or was cancelled by Stop.
func (r *Recorder) Start(ctx context.Context, beginPaused bool) error {
	r.mu.Lock()
	if r.state != StateStopped {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, state)
	}
	if !r.pool.Preloaded() {
		r.mu.Unlock()
		return ErrNotPreloaded
	}
	r.state = StateStarting
	r.chunks = nil
	session := capture.NewSession(r.device, r.gain, r.opts.ForceFallbackTransport, r.logger)
	r.session = session
	r.mu.Unlock()

	r.logger.Debug("Starting recording", "paused", beginPaused, "streaming", r.opts.Streaming)

	if err := r.start(ctx, session, beginPaused); err != nil {
		return r.abortStart(session, err)
	}

	r.logger.Info("Recording started", "paused", beginPaused, "transport", session.Transport(),
		"sample_rate", session.SampleRate())
	r.deliver(Event{Type: EventStarted}, nil)
	r.flush()
	return nil
}

// deliver queues ev for the subscribers. then, if set, runs after all of
// them have seen it.
func (r *Recorder) deliver(ev Event, then func()) {
	r.events.post(func() {
		r.subs.emit(ev)
		if then != nil {
			then()
		}
	})
}

// flush waits until every queued event reached the subscribers. Called from
// a subscriber it returns at once.
func (r *Recorder) flush() {
	if r.events.onRunner() {
		return
	}
	done := make(chan struct{})
	r.events.post(func() { close(done) })
	<-done
}

// checkCancelled fails once Stop has been called during the start.
func (r *Recorder) checkCancelled() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkCancelledLocked()
}

func (r *Recorder) checkCancelledLocked() error {
	if r.state != StateStarting {
		return ErrStartCancelled
	}
	return nil
}

func (r *Recorder) start(ctx context.Context, session *capture.Session, beginPaused bool) error {
	if err := r.pool.WaitReady(ctx); err != nil {
		return err
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	if err := session.Acquire(ctx, r.opts.Constraints); err != nil {
		return err
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	prepared, err := session.PrepareTransport(ctx)
	if err != nil {
		return err
	}
	if prepared {
		if err := r.checkCancelled(); err != nil {
			return err
		}
	}

	channels, err := session.ChannelCount()
	if err != nil {
		return err
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	job := r.newJob(encoder.Options{
		SampleRate:   session.SampleRate(),
		ChannelCount: channels,
		BitRate:      r.opts.BitRate,
		BufferSize:   r.opts.ChunkBufferSize,
	})
	// The send can block on a full encoder queue, so it happens unlocked.
	if err := job.Start(); err != nil {
		return fmt.Errorf("start encoding job: %w", err)
	}

	// From here on the start finishes without suspending, so a concurrent
	// Stop observes either STARTING or the final state. The job is published
	// first so that a cancelled start stops it.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job = job
	if err := r.checkCancelledLocked(); err != nil {
		return err
	}

	if err := session.BuildGraph(r.frameHandler(job)); err != nil {
		return fmt.Errorf("build capture graph: %w", err)
	}

	r.watch.ResetAndStart()
	if beginPaused {
		r.watch.Stop()
		r.state = StatePaused
	} else {
		r.state = StateRecording
	}
	return nil
}

// abortStart releases everything a failed start acquired and settles a stop
// that was waiting for it.
func (r *Recorder) abortStart(session *capture.Session, err error) error {
	session.Teardown()

	r.mu.Lock()
	job := r.job
	pending := r.pending
	r.job = nil
	r.session = nil
	r.pending = nil
	r.chunks = nil
	r.state = StateStopped
	r.mu.Unlock()

	if job != nil {
		// The job's stopped event finds no recorder state to update.
		if stopErr := job.Stop(); stopErr != nil {
			r.logger.Debug("Failed to stop abandoned job", "job_id", job.ID(), "error", stopErr)
		}
	}

	if pending != nil {
		r.deliver(Event{Type: EventStopped}, func() { pending.settle(nil, nil) })
	}

	if errors.Is(err, ErrStartCancelled) {
		r.logger.Info("Recording start cancelled")
		metrics.IncRecordings("cancelled")
	} else {
		r.logger.Error("Failed to start recording", "error", err)
		metrics.IncRecordings("failed")
		r.deliver(Event{Type: EventError, Err: err}, nil)
	}
	r.flush()
	return err
}

// Stop ends the session. It waits for the encoder to flush and returns the
// artifact in batch mode, or nil in streaming mode. Subscribers have seen
// the final event by the time Stop returns, unless Stop was called from a
// subscriber. Stop during a start cancels it and returns a nil artifact. Cancelling ctx abandons only the wait; the
// session still stops.
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	r.mu.Lock()
	switch r.state {
	case StateStopped:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidState, StateStopped)

	case StateStopping:
		pending := r.pending
		r.mu.Unlock()
		return r.wait(ctx, pending)

	case StateStarting:
		pending := newPendingStop()
		r.pending = pending
		r.state = StateStopping
		r.mu.Unlock()
		r.logger.Debug("Stop requested during start")
		return r.wait(ctx, pending)
	}

	r.watch.Stop()
	pending := newPendingStop()
	r.pending = pending
	r.state = StateStopping
	session, job := r.session, r.job
	r.session = nil
	r.mu.Unlock()

	r.logger.Debug("Stopping recording", "job_id", job.ID(), "elapsed", r.watch.Elapsed())

	// Teardown returns after the last frame went out, so the stop command
	// follows all data for the job.
	session.Teardown()
	if err := job.Stop(); err != nil {
		err = fmt.Errorf("stop encoding job: %w", err)
		r.events.post(func() { r.failJob(job, err) })
	}
	return r.wait(ctx, pending)
}

func (r *Recorder) wait(ctx context.Context, pending *pendingStop) (*Artifact, error) {
	// The stop settles on the goroutine running this subscriber.
	if r.events.onRunner() {
		return nil, nil
	}
	select {
	case <-pending.done:
		return pending.artifact, pending.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Recorder) newJob(opts encoder.Options) *encodepool.Job {
	var job *encodepool.Job
	job = r.pool.NewJob(opts, encodepool.JobHandlers{
		OnData:    func(chunk []byte) { r.events.post(func() { r.onData(job, chunk) }) },
		OnStopped: func() { r.events.post(func() { r.onStopped(job) }) },
		OnError:   func(err error) { r.events.post(func() { r.failJob(job, err) }) },
	})
	return job
}

// frameHandler forwards frames to job while recording.
func (r *Recorder) frameHandler(job *encodepool.Job) capture.FrameHandler {
	return func(frame [][]float32) {
		r.mu.Lock()
		active := r.state == StateRecording && r.job == job
		r.mu.Unlock()
		if !active {
			return
		}
		if err := job.SendData(frame); err != nil {
			r.logger.Debug("Dropping frame", "job_id", job.ID(), "error", err)
		}
	}
}

func (r *Recorder) onData(job *encodepool.Job, chunk []byte) {
	r.mu.Lock()
	if r.job != job {
		r.mu.Unlock()
		return
	}
	if !r.opts.Streaming {
		r.chunks = append(r.chunks, chunk)
	}
	r.mu.Unlock()

	if r.opts.Streaming {
		r.subs.emit(Event{Type: EventDataAvailable, Chunk: chunk})
	}
}

func (r *Recorder) onStopped(job *encodepool.Job) {
	r.mu.Lock()
	if r.job != job {
		r.mu.Unlock()
		return
	}
	var artifact *Artifact
	if !r.opts.Streaming {
		artifact = newArtifact(r.chunks)
	}
	pending := r.pending
	r.job = nil
	r.pending = nil
	r.chunks = nil
	r.state = StateStopped
	r.mu.Unlock()

	r.logger.Info("Recording stopped", "job_id", job.ID(), "bytes", artifact.Size(), "elapsed", r.watch.Elapsed())
	metrics.IncRecordings("completed")
	r.subs.emit(Event{Type: EventStopped, Artifact: artifact})
	if pending != nil {
		pending.settle(artifact, nil)
	}
}

// failJob ends the session after an encoder failure. There is no recovery;
// the caller has to start a new session. Like onData and onStopped it runs
// on the event queue.
func (r *Recorder) failJob(job *encodepool.Job, err error) {
	r.mu.Lock()
	if r.job != job {
		r.mu.Unlock()
		return
	}
	session, pending := r.session, r.pending
	r.job = nil
	r.session = nil
	r.pending = nil
	r.chunks = nil
	r.state = StateStopped
	r.mu.Unlock()

	r.watch.Stop()
	if session != nil {
		session.Teardown()
	}

	r.logger.Error("Recording failed", "job_id", job.ID(), "error", err)
	metrics.IncRecordings("failed")
	r.subs.emit(Event{Type: EventError, Err: err})
	if pending != nil {
		pending.settle(nil, err)
	}
}
