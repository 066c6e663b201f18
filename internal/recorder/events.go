package recorder

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// MIMETypeMP3 is the media type of recorded artifacts.
const MIMETypeMP3 = "audio/mpeg"

// Artifact is the finished recording of a batch mode session.
type Artifact struct {
	MIMEType string
	Data     []byte
}

func newArtifact(chunks [][]byte) *Artifact {
	return &Artifact{
		MIMEType: MIMETypeMP3,
		Data:     bytes.Join(chunks, nil),
	}
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// EventType identifies a recorder notification.
type EventType string

const (
	EventStarted       EventType = "started"
	EventStopped       EventType = "stopped"
	EventError         EventType = "error"
	EventDataAvailable EventType = "data_available"
)

// Event is a recorder notification. Artifact is set on EventStopped in
// batch mode, Err on EventError and Chunk on EventDataAvailable.
type Event struct {
	Type     EventType
	Artifact *Artifact
	Err      error
	Chunk    []byte
}

type subscriber struct {
	id int
	fn func(Event)
}

// subscribers is the set of event listeners of a recorder.
type subscribers struct {
	mu   sync.Mutex
	next int
	list []subscriber
}

func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.list = append(s.list, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.list {
			if sub.id == id {
				s.list = append(s.list[:i:i], s.list[i+1:]...)
				return
			}
		}
	}
}

// emit calls every listener in subscription order.
func (s *subscribers) emit(ev Event) {
	s.mu.Lock()
	list := make([]subscriber, len(s.list))
	copy(list, s.list)
	s.mu.Unlock()

	for _, sub := range list {
		sub.fn(ev)
	}
}

// eventQueue runs posted functions one at a time in posting order. A
// goroutine is started when work arrives and exits once the queue is empty,
// so the encoder's dispatch loop never waits on a subscriber.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	runner  uint64
}

func (q *eventQueue) post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		go q.run()
	}
}

func (q *eventQueue) run() {
	id := curGoroutineID()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.runner = 0
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.runner = id
		q.mu.Unlock()

		fn()
	}
}

// onRunner reports whether the caller is inside a function run by q.
func (q *eventQueue) onRunner() bool {
	q.mu.Lock()
	runner := q.runner
	q.mu.Unlock()
	return runner != 0 && runner == curGoroutineID()
}

var goroutineSpace = []byte("goroutine ")

// curGoroutineID parses the id from the header of the current stack trace.
func curGoroutineID() uint64 {
	buf := make([]byte, 64)
	b := buf[:runtime.Stack(buf, false)]
	b = bytes.TrimPrefix(b, goroutineSpace)
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		panic(fmt.Sprintf("no space found in %q", b))
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("failed to parse goroutine id from %q: %v", b, err))
	}
	return id
}

// pendingStop is the result of a stop that is waiting for the encoder.
type pendingStop struct {
	once     sync.Once
	done     chan struct{}
	artifact *Artifact
	err      error
}

func newPendingStop() *pendingStop {
	return &pendingStop{done: make(chan struct{})}
}

func (p *pendingStop) settle(artifact *Artifact, err error) {
	p.once.Do(func() {
		p.artifact = artifact
		p.err = err
		close(p.done)
	})
}
