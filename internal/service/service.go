package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/audiolibrelab/mp3rec/internal/capture"
	"github.com/audiolibrelab/mp3rec/internal/config"
	"github.com/audiolibrelab/mp3rec/internal/device"
	"github.com/audiolibrelab/mp3rec/internal/encodepool"
	"github.com/audiolibrelab/mp3rec/internal/inspect"
	"github.com/audiolibrelab/mp3rec/internal/output"
	"github.com/audiolibrelab/mp3rec/internal/play"
	"github.com/audiolibrelab/mp3rec/internal/recorder"
)

// BacklogWarning is the backlog, in samples per channel, above which the
// encoder is considered to be falling behind.
const BacklogWarning = 1000

const closeTimeout = 10 * time.Second

// ErrTakeInProgress is returned by Start while a take is being recorded.
var ErrTakeInProgress = errors.New("a take is already in progress")

// Service represents the core mp3rec service interface
type Service interface {
	// Recording operations
	Start(ctx context.Context, takeName string, paused bool) error
	Stop(ctx context.Context) (*TakeResult, error)
	Pause() error
	Resume() error
	SetGain(gain float64) error
	Status() Status

	// Playback and inspection of finished takes
	Play(ctx context.Context, takeName string) error
	Inspect(takeName string) (*TakeInfo, error)

	GetConfig() *config.Config
	GetLastError() string
	Close() error
}

// TakeResult describes a take written to disk.
type TakeResult struct {
	Name           string  `json:"name"`
	File           string  `json:"file"`
	Size           int64   `json:"size"`
	SizeHuman      string  `json:"size_human"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// TakeInfo is the decoded view of a take on disk.
type TakeInfo struct {
	File       string  `json:"file"`
	SampleRate int     `json:"sample_rate"`
	Duration   string  `json:"duration"`
	Seconds    float64 `json:"seconds"`
	SizeHuman  string  `json:"size_human"`
}

// Status is a snapshot of the recorder and encoder.
type Status struct {
	State          recorder.State `json:"state"`
	Take           string         `json:"take,omitempty"`
	File           string         `json:"file,omitempty"`
	Elapsed        string         `json:"elapsed"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Backlog        int            `json:"backlog"`
	BacklogWarning bool           `json:"backlog_warning"`
	Encoder        string         `json:"encoder"`
	Backend        string         `json:"backend"`
	Transport      string         `json:"transport,omitempty"`
	Gain           float64        `json:"gain"`
	Streaming      bool           `json:"streaming"`
	Written        string         `json:"written,omitempty"`
	Profile        string         `json:"profile"`
	LastTake       *TakeResult    `json:"last_take,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

type take struct {
	name   string
	path   string
	stream *output.StreamFile
}

// RecorderService is the main service implementation
type RecorderService struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *encodepool.Pool
	recorder *recorder.Recorder
	player   *play.Player
	backend  string

	mu   sync.Mutex
	take *take
	last *TakeResult

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates the service for cfg and starts loading the encoder in the
// background.
func New(cfg *config.Config, logger *slog.Logger) *RecorderService {
	if logger == nil {
		logger = slog.Default()
	}
	pool := encodepool.New(encodepool.WorkerLoader(encodepool.LameResolver, logger), logger)
	dev, backend := device.New(cfg.Capture, logger)
	s := newService(cfg, pool, dev, backend, logger)
	pool.Preload(cfg.Encoder.LamePath)
	return s
}

func newService(cfg *config.Config, pool *encodepool.Pool, dev capture.Device, backend string, logger *slog.Logger) *RecorderService {
	s := &RecorderService{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		recorder: recorder.New(pool, dev, recorderOptions(cfg), logger),
		player:   play.New(cfg.Output.Directory, logger),
		backend:  backend,
	}
	s.recorder.Subscribe(s.onEvent)
	return s
}

func recorderOptions(cfg *config.Config) recorder.Options {
	rec := cfg.Recording
	dc := rec.DeviceConstraints
	return recorder.Options{
		Gain:                   rec.Gain,
		BitRate:                rec.BitRate,
		Streaming:              rec.Streaming,
		ChunkBufferSize:        rec.ChunkBufferSize,
		ForceFallbackTransport: rec.ForceFallbackTransport,
		Constraints: capture.Constraints{
			ChannelCount:     &dc.ChannelCount,
			AutoGainControl:  &dc.AutoGainControl,
			EchoCancellation: &dc.EchoCancellation,
			NoiseSuppression: &dc.NoiseSuppression,
		},
	}
}

// Start begins a take named takeName.
func (s *RecorderService) Start(ctx context.Context, takeName string, paused bool) error {
	slog.Debug("Service.Start called", "take", takeName, "paused", paused)
	s.clearLastError() // Clear any previous errors when starting a new operation

	path, err := output.Path(s.cfg.Output.Directory, takeName)
	if err != nil {
		return err
	}

	t := &take{name: takeName, path: path}
	s.mu.Lock()
	if s.take != nil {
		current := s.take.name
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTakeInProgress, current)
	}
	if s.cfg.Recording.Streaming {
		if t.stream, err = output.CreateStream(path); err != nil {
			s.mu.Unlock()
			s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
			return err
		}
	}
	s.take = t
	s.mu.Unlock()

	if err := s.recorder.Start(ctx, paused); err != nil {
		s.discardTake(t)
		if !errors.Is(err, recorder.ErrStartCancelled) {
			slog.Error("Service.Start failed", "error", err)
			s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		}
		return err
	}
	s.logger.Info("Take started", "take", takeName, "file", path)
	return nil
}

// Stop ends the take and returns what was written. A stop that cancels a
// pending start returns a nil result.
func (s *RecorderService) Stop(ctx context.Context) (*TakeResult, error) {
	if _, err := s.recorder.Stop(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *RecorderService) Pause() error {
	if state := s.recorder.State(); state != recorder.StateRecording {
		return fmt.Errorf("%w: pause while %s", recorder.ErrInvalidState, state)
	}
	s.recorder.Pause()
	return nil
}

func (s *RecorderService) Resume() error {
	if state := s.recorder.State(); state != recorder.StatePaused {
		return fmt.Errorf("%w: resume while %s", recorder.ErrInvalidState, state)
	}
	s.recorder.Resume()
	return nil
}

func (s *RecorderService) SetGain(gain float64) error {
	if gain < 0 {
		return fmt.Errorf("gain must be >= 0, got: %.2f", gain)
	}
	s.recorder.SetGain(gain)
	return nil
}

func (s *RecorderService) Status() Status {
	elapsed := s.recorder.Elapsed()
	backlog := s.recorder.BacklogEstimate()
	st := Status{
		State:          s.recorder.State(),
		Elapsed:        elapsed.Round(time.Second).String(),
		ElapsedSeconds: elapsed.Seconds(),
		Backlog:        backlog,
		BacklogWarning: backlog > BacklogWarning,
		Encoder:        s.pool.Readiness().String(),
		Backend:        s.backend,
		Transport:      s.recorder.Transport(),
		Gain:           s.recorder.Gain(),
		Streaming:      s.cfg.Recording.Streaming,
		Profile:        s.cfg.Profile,
		LastError:      s.GetLastError(),
	}

	s.mu.Lock()
	if s.take != nil {
		st.Take = s.take.name
		st.File = s.take.path
		if s.take.stream != nil {
			st.Written = humanize.Bytes(uint64(s.take.stream.Size()))
		}
	}
	st.LastTake = s.last
	s.mu.Unlock()
	return st
}

func (s *RecorderService) Play(ctx context.Context, takeName string) error {
	return s.player.Play(ctx, takeName)
}

func (s *RecorderService) Inspect(takeName string) (*TakeInfo, error) {
	path, err := output.Path(s.cfg.Output.Directory, takeName)
	if err != nil {
		return nil, err
	}
	info, err := inspect.InspectFile(path)
	if err != nil {
		return nil, err
	}
	return NewTakeInfo(path, info), nil
}

// NewTakeInfo formats decoded file info for display.
func NewTakeInfo(path string, info inspect.Info) *TakeInfo {
	return &TakeInfo{
		File:       path,
		SampleRate: info.SampleRate,
		Duration:   info.Duration.Round(10 * time.Millisecond).String(),
		Seconds:    info.Duration.Seconds(),
		SizeHuman:  humanize.Bytes(uint64(info.Size)),
	}
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// Close stops a running take and unloads the encoder.
func (s *RecorderService) Close() error {
	if s.recorder.State() != recorder.StateStopped {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if _, err := s.Stop(ctx); err != nil {
			s.logger.Warn("Stopping take on close failed", "error", err)
		}
	}
	return s.pool.Close()
}

func (s *RecorderService) onEvent(ev recorder.Event) {
	switch ev.Type {
	case recorder.EventDataAvailable:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.take == nil || s.take.stream == nil {
			return
		}
		if _, err := s.take.stream.Write(ev.Chunk); err != nil {
			s.logger.Error("Writing chunk failed", "file", s.take.path, "error", err)
			s.setLastError(fmt.Sprintf("Failed to write chunk: %v", err))
		}
	case recorder.EventError:
		s.logger.Error("Recording failed", "error", ev.Err)
		s.setLastError(fmt.Sprintf("Recording failed: %v", ev.Err))
		if s.recorder.State() == recorder.StateStopped {
			s.mu.Lock()
			t := s.take
			s.mu.Unlock()
			if t != nil {
				s.discardTake(t)
			}
		}
	case recorder.EventStopped:
		s.finishTake(ev.Artifact)
	}
}

// finishTake writes the take that just stopped. A stream with no data and
// a missing batch artifact leave no file behind.
func (s *RecorderService) finishTake(artifact *recorder.Artifact) {
	s.mu.Lock()
	t := s.take
	s.take = nil
	s.mu.Unlock()
	if t == nil {
		return
	}

	var size int64
	var err error
	switch {
	case t.stream != nil && t.stream.Size() > 0:
		size = t.stream.Size()
		err = t.stream.Commit()
	case t.stream != nil:
		err = t.stream.Discard()
	case artifact.Size() > 0:
		size = int64(artifact.Size())
		err = output.WriteFile(t.path, artifact.Data)
	}
	if err != nil {
		s.logger.Error("Writing take failed", "file", t.path, "error", err)
		s.setLastError(fmt.Sprintf("Failed to write take: %v", err))
	}

	var result *TakeResult
	if size > 0 && err == nil {
		result = &TakeResult{
			Name:           t.name,
			File:           t.path,
			Size:           size,
			SizeHuman:      humanize.Bytes(uint64(size)),
			ElapsedSeconds: s.recorder.Elapsed().Seconds(),
		}
		s.logger.Info("Take written", "file", t.path, "size", result.SizeHuman)
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
}

// discardTake drops t if a failed start left it in place.
func (s *RecorderService) discardTake(t *take) {
	s.mu.Lock()
	owned := s.take == t
	if owned {
		s.take = nil
	}
	s.mu.Unlock()

	if owned && t.stream != nil {
		if err := t.stream.Discard(); err != nil {
			s.logger.Debug("Discarding stream file failed", "file", t.path, "error", err)
		}
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *RecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
	slog.Debug("Service error set", "error", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *RecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
