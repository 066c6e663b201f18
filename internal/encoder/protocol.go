package encoder

// Commands sent from the controller to the worker.
const (
	CommandStart = "start"
	CommandData  = "data"
	CommandStop  = "stop"
)

// Messages sent from the worker back to the controller.
const (
	MessageReady   = "ready"
	MessageEncoded = "encoded"
	MessageData    = "data"
	MessageStopped = "stopped"
	MessageError   = "error"
)

// Options configures one encoding job.
type Options struct {
	SampleRate   int `json:"sample_rate" yaml:"sample_rate"`
	ChannelCount int `json:"channel_count" yaml:"channel_count"`
	BitRate      int `json:"bit_rate" yaml:"bit_rate"`
	// BufferSize is the number of encoded bytes collected before a data event is emitted.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// DefaultOptions mirrors the recorder defaults.
var DefaultOptions = Options{
	SampleRate:   44100,
	ChannelCount: 1,
	BitRate:      96,
	BufferSize:   50000,
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultOptions.SampleRate
	}
	if o.ChannelCount <= 0 {
		o.ChannelCount = DefaultOptions.ChannelCount
	}
	if o.BitRate <= 0 {
		o.BitRate = DefaultOptions.BitRate
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultOptions.BufferSize
	}
	return o
}

// Command is a controller to worker message.
type Command struct {
	Command string
	JobID   string
	Options *Options
	// Buffers holds one slice of float samples per channel.
	Buffers [][]float32
}

// Event is a worker to controller message.
type Event struct {
	Message string
	JobID   string
	// Consumed is the number of source samples per channel encoded by the
	// data command being acknowledged.
	Consumed int
	Bytes    []byte
	// Err is set on error events. An error event without a JobID reports a
	// failure of the worker itself.
	Err error
}
