package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolibrelab/mp3rec/internal/capture"
	"github.com/audiolibrelab/mp3rec/internal/config"
	"github.com/audiolibrelab/mp3rec/internal/encodepool"
	"github.com/audiolibrelab/mp3rec/internal/encoder"
	"github.com/audiolibrelab/mp3rec/internal/recorder"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTrack struct{}

func (fakeTrack) Kind() string                     { return capture.TrackKindAudio }
func (fakeTrack) Settings() capture.TrackSettings { return capture.TrackSettings{ChannelCount: 1} }
func (fakeTrack) Stop()                            {}

type fakeStream struct {
	mu      sync.Mutex
	handler capture.FrameHandler
}

func (s *fakeStream) Tracks() []capture.Track { return []capture.Track{fakeTrack{}} }
func (s *fakeStream) SampleRate() int         { return 44100 }

func (s *fakeStream) SetFrameHandler(h capture.FrameHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *fakeStream) push(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		s.handler([][]float32{make([]float32, n)})
	}
}

type fakeDevice struct {
	mu     sync.Mutex
	err    error
	stream *fakeStream
}

func (d *fakeDevice) Supported() bool { return true }

func (d *fakeDevice) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.stream = &fakeStream{}
	return d.stream, nil
}

func (d *fakeDevice) current() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// seqCodec emits one byte per sample, numbered from zero.
type seqCodec struct{ n byte }

func (c *seqCodec) Encode(left, right []int16) ([]byte, error) {
	out := make([]byte, len(left))
	for i := range out {
		out[i] = c.n
		c.n++
	}
	return out, nil
}
func (c *seqCodec) Flush() ([]byte, error) { return nil, nil }
func (c *seqCodec) Close() error           { return nil }

func testConfig(t *testing.T, streaming bool) *config.Config {
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	cfg.Recording.ChunkBufferSize = 4
	cfg.Recording.Streaming = streaming
	return cfg
}

// failCodec rejects every block of samples.
type failCodec struct{}

func (failCodec) Encode(left, right []int16) ([]byte, error) { return nil, errors.New("lame: bad input") }
func (failCodec) Flush() ([]byte, error)                    { return nil, nil }
func (failCodec) Close() error                              { return nil }

func newTestService(t *testing.T, cfg *config.Config) (*RecorderService, *fakeDevice) {
	t.Helper()
	return newTestServiceWithCodec(t, cfg, func() encoder.Codec { return &seqCodec{} })
}

func newTestServiceWithCodec(t *testing.T, cfg *config.Config, newCodec func() encoder.Codec) (*RecorderService, *fakeDevice) {
	t.Helper()
	resolve := func(string) (encoder.CodecFactory, error) {
		return func(encoder.Options) (encoder.Codec, error) { return newCodec(), nil }, nil
	}
	pool := encodepool.New(encodepool.WorkerLoader(resolve, nil), nil)
	dev := &fakeDevice{}
	s := newService(cfg, pool, dev, "fake", nil)
	pool.Preload("fake")
	t.Cleanup(func() { _ = s.Close() })
	return s, dev
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestService_BatchTakeIsWrittenOnStop(t *testing.T) {
	s, dev := newTestService(t, testConfig(t, false))
	ctx := testContext(t)

	require.NoError(t, s.Start(ctx, "First Take", false))
	status := s.Status()
	assert.Equal(t, recorder.StateRecording, status.State)
	assert.Equal(t, "First Take", status.Take)
	assert.Equal(t, "fake", status.Backend)

	dev.current().push(5)
	dev.current().push(3)

	result, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)

	want := filepath.Join(s.cfg.Output.Directory, "First_Take.mp3")
	assert.Equal(t, want, result.File)
	assert.Equal(t, int64(8), result.Size)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, data)

	status = s.Status()
	assert.Equal(t, recorder.StateStopped, status.State)
	assert.Empty(t, status.Take)
	assert.Equal(t, result, status.LastTake)
}

func TestService_StreamingTakeAppendsChunks(t *testing.T) {
	s, dev := newTestService(t, testConfig(t, true))
	ctx := testContext(t)

	require.NoError(t, s.Start(ctx, "live", false))
	dev.current().push(6)
	dev.current().push(3)

	result, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)

	data, err := os.ReadFile(result.File)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}, data)

	entries, err := os.ReadDir(s.cfg.Output.Directory)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files may remain")
}

func TestService_EmptyTakeLeavesNoFile(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		s, _ := newTestService(t, testConfig(t, streaming))
		ctx := testContext(t)

		require.NoError(t, s.Start(ctx, "silence", true))
		result, err := s.Stop(ctx)
		require.NoError(t, err)
		assert.Nil(t, result)

		entries, err := os.ReadDir(s.cfg.Output.Directory)
		require.NoError(t, err)
		assert.Empty(t, entries, "streaming=%v", streaming)
	}
}

func TestService_StartValidation(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, false))
	ctx := testContext(t)

	assert.Error(t, s.Start(ctx, "???", false))

	require.NoError(t, s.Start(ctx, "one", false))
	assert.ErrorIs(t, s.Start(ctx, "two", false), ErrTakeInProgress)

	_, err := s.Stop(ctx)
	require.NoError(t, err)
}

func TestService_DeviceErrorIsTracked(t *testing.T) {
	s, dev := newTestService(t, testConfig(t, true))
	ctx := testContext(t)
	dev.err = errors.New("permission denied")

	err := s.Start(ctx, "denied", false)
	assert.ErrorIs(t, err, capture.ErrDeviceAcquisition)
	assert.Contains(t, s.GetLastError(), "permission denied")
	assert.Equal(t, recorder.StateStopped, s.Status().State)

	entries, err := os.ReadDir(s.cfg.Output.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The failed take does not block the next one.
	dev.err = nil
	require.NoError(t, s.Start(ctx, "retry", false))
	assert.Empty(t, s.GetLastError())
	_, err = s.Stop(ctx)
	require.NoError(t, err)
}

func TestService_EncoderFailureReleasesTake(t *testing.T) {
	s, dev := newTestServiceWithCodec(t, testConfig(t, true), func() encoder.Codec { return failCodec{} })
	ctx := testContext(t)

	require.NoError(t, s.Start(ctx, "broken", false))
	dev.current().push(8)

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.State == recorder.StateStopped && st.Take == ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, s.GetLastError(), "bad input")

	entries, err := os.ReadDir(s.cfg.Output.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.Start(ctx, "again", false))
	result, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestService_PauseResumeAndGain(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, false))
	ctx := testContext(t)

	assert.ErrorIs(t, s.Pause(), recorder.ErrInvalidState)
	assert.ErrorIs(t, s.Resume(), recorder.ErrInvalidState)

	require.NoError(t, s.Start(ctx, "take", false))
	require.NoError(t, s.Pause())
	assert.Equal(t, recorder.StatePaused, s.Status().State)
	assert.ErrorIs(t, s.Pause(), recorder.ErrInvalidState)
	require.NoError(t, s.Resume())
	assert.Equal(t, recorder.StateRecording, s.Status().State)

	assert.Error(t, s.SetGain(-1))
	require.NoError(t, s.SetGain(0.5))
	assert.Equal(t, 0.5, s.Status().Gain)

	_, err := s.Stop(ctx)
	require.NoError(t, err)
}

func TestService_StopWhenIdle(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, false))

	_, err := s.Stop(testContext(t))
	assert.ErrorIs(t, err, recorder.ErrInvalidState)
	assert.NotEmpty(t, s.GetLastError())
}

func TestService_InspectMissingTake(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, false))

	_, err := s.Inspect("nothing here")
	assert.True(t, os.IsNotExist(err))
}

func TestRecorderOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Recording.DeviceConstraints.ChannelCount = 2
	cfg.Recording.DeviceConstraints.EchoCancellation = false

	opts := recorderOptions(cfg)
	require.NotNil(t, opts.Constraints.ChannelCount)
	assert.Equal(t, 2, *opts.Constraints.ChannelCount)
	assert.False(t, *opts.Constraints.EchoCancellation)
	assert.True(t, *opts.Constraints.NoiseSuppression)
	assert.Equal(t, 96, opts.BitRate)
}
