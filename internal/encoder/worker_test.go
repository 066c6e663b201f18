package encoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteCodec emits one byte per input frame and a fixed tail on flush.
type byteCodec struct {
	tail     []byte
	failOn   int
	calls    int
	channels [][]int16
	closed   bool
}

func (c *byteCodec) Encode(left, right []int16) ([]byte, error) {
	c.calls++
	if c.failOn > 0 && c.calls == c.failOn {
		return nil, errors.New("codec crashed")
	}
	c.channels = [][]int16{left, right}
	out := make([]byte, len(left))
	for i := range out {
		out[i] = byte(c.calls)
	}
	return out, nil
}

func (c *byteCodec) Flush() ([]byte, error) { return c.tail, nil }

func (c *byteCodec) Close() error {
	c.closed = true
	return nil
}

type workerHarness struct {
	commands chan Command
	events   chan Event
	cancel   context.CancelFunc
	done     chan struct{}
}

func startWorker(t *testing.T, factory CodecFactory) *workerHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &workerHarness{
		commands: make(chan Command, 16),
		events:   make(chan Event, 64),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		NewWorker(factory, nil).Run(ctx, h.commands, h.events)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	ev := h.next(t)
	require.Equal(t, MessageReady, ev.Message)
	return h
}

func (h *workerHarness) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev, ok := <-h.events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker event")
		return Event{}
	}
}

func samples(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5
	}
	return out
}

func TestWorker_ChunksAndFinalFlush(t *testing.T) {
	codec := &byteCodec{tail: []byte{9, 9, 9}}
	h := startWorker(t, func(Options) (Codec, error) { return codec, nil })

	opts := Options{SampleRate: 44100, ChannelCount: 1, BitRate: 96, BufferSize: 10}
	h.commands <- Command{Command: CommandStart, JobID: "job-1", Options: &opts}
	h.commands <- Command{Command: CommandData, JobID: "job-1", Buffers: [][]float32{samples(25)}}

	var chunks [][]byte
	for i := 0; i < 2; i++ {
		ev := h.next(t)
		require.Equal(t, MessageData, ev.Message)
		chunks = append(chunks, ev.Bytes)
	}
	ack := h.next(t)
	assert.Equal(t, MessageEncoded, ack.Message)
	assert.Equal(t, 25, ack.Consumed)

	h.commands <- Command{Command: CommandStop, JobID: "job-1"}
	final := h.next(t)
	require.Equal(t, MessageData, final.Message)
	chunks = append(chunks, final.Bytes)

	stopped := h.next(t)
	assert.Equal(t, MessageStopped, stopped.Message)
	assert.Equal(t, "job-1", stopped.JobID)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	// 5 bytes left over from encoding plus the 3 byte flush tail
	assert.Len(t, chunks[2], 8)
	assert.True(t, codec.closed)
}

func TestWorker_UnknownJobIsDropped(t *testing.T) {
	h := startWorker(t, func(Options) (Codec, error) { return &byteCodec{}, nil })

	h.commands <- Command{Command: CommandData, JobID: "missing", Buffers: [][]float32{samples(4)}}
	h.commands <- Command{Command: CommandStop, JobID: "missing"}

	opts := Options{ChannelCount: 1, BufferSize: 100}
	h.commands <- Command{Command: CommandStart, JobID: "real", Options: &opts}
	h.commands <- Command{Command: CommandStop, JobID: "real"}

	// The only event is the real job's stop acknowledgment
	ev := h.next(t)
	assert.Equal(t, MessageStopped, ev.Message)
	assert.Equal(t, "real", ev.JobID)
}

func TestWorker_EncodesAtMostTwoChannels(t *testing.T) {
	codec := &byteCodec{}
	h := startWorker(t, func(Options) (Codec, error) { return codec, nil })

	opts := Options{ChannelCount: 4, BufferSize: 100}
	h.commands <- Command{Command: CommandStart, JobID: "j", Options: &opts}
	h.commands <- Command{Command: CommandData, JobID: "j", Buffers: [][]float32{
		{1.5, -2}, {0.5, -0.5}, {0.1, 0.1}, {0.2, 0.2},
	}}

	ev := h.next(t)
	require.Equal(t, MessageEncoded, ev.Message)

	require.Len(t, codec.channels, 2)
	assert.Equal(t, []int16{0x7FFF, -0x8000}, codec.channels[0])
	assert.Equal(t, []int16{16383, -16384}, codec.channels[1])
}

func TestWorker_CodecErrorFailsJob(t *testing.T) {
	codec := &byteCodec{failOn: 2}
	h := startWorker(t, func(Options) (Codec, error) { return codec, nil })

	opts := Options{ChannelCount: 1, BufferSize: 100}
	h.commands <- Command{Command: CommandStart, JobID: "j", Options: &opts}
	h.commands <- Command{Command: CommandData, JobID: "j", Buffers: [][]float32{samples(3)}}
	h.commands <- Command{Command: CommandData, JobID: "j", Buffers: [][]float32{samples(3)}}

	assert.Equal(t, MessageEncoded, h.next(t).Message)
	ev := h.next(t)
	assert.Equal(t, MessageError, ev.Message)
	assert.Equal(t, "j", ev.JobID)
	assert.Error(t, ev.Err)
	assert.True(t, codec.closed)
}

func TestWorker_FactoryError(t *testing.T) {
	h := startWorker(t, func(Options) (Codec, error) { return nil, errors.New("no lame") })

	h.commands <- Command{Command: CommandStart, JobID: "j"}
	ev := h.next(t)
	assert.Equal(t, MessageError, ev.Message)
	assert.Equal(t, "j", ev.JobID)
}

func TestFloatTo16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 0x7FFF},
		{-1, -0x8000},
		{2, 0x7FFF},
		{-3, -0x8000},
		{0.25, 8191},
	}
	for _, tt := range tests {
		if got := floatTo16(tt.in); got != tt.want {
			t.Errorf("floatTo16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLameArgs(t *testing.T) {
	args := lameArgs(Options{SampleRate: 44100, ChannelCount: 2, BitRate: 128})
	assert.Contains(t, args, "44.1")
	assert.Contains(t, args, "128")
	assert.Contains(t, args, "j")

	mono := lameArgs(Options{SampleRate: 48000, ChannelCount: 1, BitRate: 96})
	assert.Contains(t, mono, "48")
	assert.Contains(t, mono, "m")
}
