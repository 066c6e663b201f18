package capture

import (
	"math"
	"sync"
)

// gainTimeConstant is the time constant of the gain ramp, in seconds.
const gainTimeConstant = 0.01

// node is one processing stage. Frames flow from the source to the sink.
type node interface {
	process(frame [][]float32)
	connect(next node)
	disconnect()
}

// link holds the downstream node of a stage.
type link struct {
	mu   sync.Mutex
	next node
}

func (l *link) connect(next node) {
	l.mu.Lock()
	l.next = next
	l.mu.Unlock()
}

func (l *link) disconnect() {
	l.mu.Lock()
	l.next = nil
	l.mu.Unlock()
}

func (l *link) forward(frame [][]float32) {
	l.mu.Lock()
	next := l.next
	l.mu.Unlock()
	if next != nil {
		next.process(frame)
	}
}

// sourceNode is fed by the transport.
type sourceNode struct {
	link
}

func (n *sourceNode) process(frame [][]float32) { n.forward(frame) }

// gainNode scales every sample, approaching its target exponentially.
type gainNode struct {
	link

	gmu     sync.Mutex
	current float64
	target  float64
	alpha   float64
}

func newGainNode(gain float64, sampleRate int) *gainNode {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &gainNode{
		current: gain,
		target:  gain,
		alpha:   1 - math.Exp(-1/(gainTimeConstant*float64(sampleRate))),
	}
}

func (n *gainNode) setTarget(v float64) {
	n.gmu.Lock()
	n.target = v
	n.gmu.Unlock()
}

func (n *gainNode) value() float64 {
	n.gmu.Lock()
	defer n.gmu.Unlock()
	return n.current
}

func (n *gainNode) process(frame [][]float32) {
	out := make([][]float32, len(frame))
	for ch := range frame {
		out[ch] = make([]float32, len(frame[ch]))
	}
	frames := 0
	if len(frame) > 0 {
		frames = len(frame[0])
	}

	n.gmu.Lock()
	cur, target := n.current, n.target
	for i := 0; i < frames; i++ {
		if cur != target {
			cur += (target - cur) * n.alpha
			if math.Abs(target-cur) < 1e-6 {
				cur = target
			}
		}
		for ch := range frame {
			if i < len(frame[ch]) {
				out[ch][i] = frame[ch][i] * float32(cur)
			}
		}
	}
	n.current = cur
	n.gmu.Unlock()

	n.forward(out)
}

// sinkNode hands frames to the installed handler. It holds its lock across
// the call so that detach returns only after in-flight delivery finished.
type sinkNode struct {
	mu      sync.Mutex
	handler FrameHandler
}

func (n *sinkNode) process(frame [][]float32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handler != nil {
		n.handler(frame)
	}
}

func (n *sinkNode) connect(node) {}

func (n *sinkNode) disconnect() {
	n.detach()
}

func (n *sinkNode) detach() {
	n.mu.Lock()
	n.handler = nil
	n.mu.Unlock()
}

// graph is the processing context. It is released exactly once.
type graph struct {
	source *sourceNode
	gain   *gainNode
	sink   *sinkNode

	sampleRate int
	released   bool
}

func newGraph(sampleRate int, gain float64, handler FrameHandler) *graph {
	g := &graph{
		source:     &sourceNode{},
		gain:       newGainNode(gain, sampleRate),
		sink:       &sinkNode{handler: handler},
		sampleRate: sampleRate,
	}
	g.source.connect(g.gain)
	g.gain.connect(g.sink)
	return g
}

func (g *graph) nodes() []node {
	return []node{g.source, g.gain, g.sink}
}

func (g *graph) release() {
	if g.released {
		return
	}
	for _, n := range g.nodes() {
		n.disconnect()
	}
	g.released = true
}
