package encoder

import (
	"context"
	"fmt"
	"log/slog"
)

// Worker hosts the per-job codecs. It runs on its own goroutine and talks to
// the controller only through the command and event channels.
type Worker struct {
	factory CodecFactory
	logger  *slog.Logger
	jobs    map[string]*job
}

// NewWorker creates a worker that builds codecs with factory.
func NewWorker(factory CodecFactory, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		factory: factory,
		logger:  logger,
		jobs:    make(map[string]*job),
	}
}

// Run announces readiness and then serves commands until ctx is done or
// commands is closed. It closes events on return.
func (w *Worker) Run(ctx context.Context, commands <-chan Command, events chan<- Event) {
	defer close(events)
	defer w.closeAll()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(Event{Message: MessageReady}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if !w.handle(cmd, emit) {
				return
			}
		}
	}
}

func (w *Worker) handle(cmd Command, emit func(Event) bool) bool {
	switch cmd.Command {
	case CommandStart:
		opts := DefaultOptions
		if cmd.Options != nil {
			opts = cmd.Options.withDefaults()
		}
		codec, err := w.factory(opts)
		if err != nil {
			w.logger.Error("Failed to create codec", "job_id", cmd.JobID, "error", err)
			return emit(Event{Message: MessageError, JobID: cmd.JobID, Err: fmt.Errorf("create codec: %w", err)})
		}
		w.jobs[cmd.JobID] = newJob(cmd.JobID, opts, codec)
		w.logger.Debug("Encoding job started", "job_id", cmd.JobID, "channels", opts.ChannelCount,
			"sample_rate", opts.SampleRate, "bit_rate", opts.BitRate)
		return true

	case CommandData:
		j, ok := w.jobs[cmd.JobID]
		if !ok {
			w.logger.Debug("Dropping data for unknown job", "job_id", cmd.JobID)
			return true
		}
		chunks, err := j.encode(cmd.Buffers)
		for _, chunk := range chunks {
			if !emit(Event{Message: MessageData, JobID: j.id, Bytes: chunk}) {
				return false
			}
		}
		if err != nil {
			return w.fail(j, err, emit)
		}
		consumed := 0
		if len(cmd.Buffers) > 0 {
			consumed = len(cmd.Buffers[0])
		}
		return emit(Event{Message: MessageEncoded, JobID: j.id, Consumed: consumed})

	case CommandStop:
		j, ok := w.jobs[cmd.JobID]
		if !ok {
			w.logger.Debug("Dropping stop for unknown job", "job_id", cmd.JobID)
			return true
		}
		chunks, err := j.finish()
		for _, chunk := range chunks {
			if !emit(Event{Message: MessageData, JobID: j.id, Bytes: chunk}) {
				return false
			}
		}
		if err != nil {
			return w.fail(j, err, emit)
		}
		delete(w.jobs, j.id)
		j.close(w.logger)
		w.logger.Debug("Encoding job stopped", "job_id", j.id)
		return emit(Event{Message: MessageStopped, JobID: j.id})

	default:
		w.logger.Warn("Unknown encoder command", "command", cmd.Command, "job_id", cmd.JobID)
		return true
	}
}

func (w *Worker) fail(j *job, err error, emit func(Event) bool) bool {
	w.logger.Error("Encoding job failed", "job_id", j.id, "error", err)
	delete(w.jobs, j.id)
	j.close(w.logger)
	return emit(Event{Message: MessageError, JobID: j.id, Err: err})
}

func (w *Worker) closeAll() {
	for id, j := range w.jobs {
		j.close(w.logger)
		delete(w.jobs, id)
	}
}

// job buffers encoded output into chunks of opts.BufferSize bytes.
type job struct {
	id    string
	opts  Options
	codec Codec

	buf  []byte
	used int
}

func newJob(id string, opts Options, codec Codec) *job {
	return &job{
		id:    id,
		opts:  opts,
		codec: codec,
		buf:   make([]byte, opts.BufferSize),
	}
}

// encode converts and encodes one block, returning any chunks that filled up.
func (j *job) encode(buffers [][]float32) ([][]byte, error) {
	// Only left and right are encoded, extra channels are ignored.
	channels := min(j.opts.ChannelCount, 2, len(buffers))
	if channels == 0 {
		return nil, nil
	}

	left := convertBuffer(buffers[0])
	var right []int16
	if channels > 1 {
		right = convertBuffer(buffers[1])
	}

	data, err := j.codec.Encode(left, right)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return j.collect(data, nil), nil
}

// finish flushes the codec and drains the partially filled chunk.
func (j *job) finish() ([][]byte, error) {
	last, err := j.codec.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	chunks := j.collect(last, nil)
	if chunk := j.drain(); chunk != nil {
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// collect copies data into the chunk buffer, splitting it across as many
// chunks as needed.
func (j *job) collect(data []byte, chunks [][]byte) [][]byte {
	for len(data) > 0 {
		n := copy(j.buf[j.used:], data)
		j.used += n
		data = data[n:]

		if j.used >= len(j.buf) {
			chunks = append(chunks, j.drain())
		}
	}
	return chunks
}

func (j *job) drain() []byte {
	if j.used == 0 {
		return nil
	}
	chunk := make([]byte, j.used)
	copy(chunk, j.buf[:j.used])
	j.used = 0
	return chunk
}

func (j *job) close(logger *slog.Logger) {
	if err := j.codec.Close(); err != nil {
		logger.Debug("Codec close failed", "job_id", j.id, "error", err)
	}
}
