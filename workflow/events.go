package workflow

import (
	"sync"
	"time"
)

// EventKind identifies a lifecycle event emitted during a run.
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventRunFinished    EventKind = "run_finished"
	EventRunSuspended   EventKind = "run_suspended"
	EventRunResumed     EventKind = "run_resumed"
	EventRunCancelled   EventKind = "run_cancelled"
	EventNodeEntered    EventKind = "node_entered"
	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventStageFailed    EventKind = "stage_failed"
	EventHumanRequested EventKind = "human_input_requested"
	EventToolCalled     EventKind = "tool_called"
)

// Event is one engine lifecycle notification. Consumers receive a value copy
// and may retain it.
type Event struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id,omitempty"`
	Workflow  string    `json:"workflow,omitempty"`
	Node      string    `json:"node,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter receives engine events. Emit is called inline on the run path and
// must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function into an Emitter.
type EmitterFunc func(Event)

// Emit calls the wrapped function.
func (f EmitterFunc) Emit(e Event) { f(e) }

// ChanEmitter forwards events into a buffered channel, dropping events when
// the buffer is full so a slow consumer never stalls the run.
type ChanEmitter struct {
	ch chan Event

	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewChanEmitter creates an emitter with the given buffer size.
func NewChanEmitter(buffer int) *ChanEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanEmitter{ch: make(chan Event, buffer)}
}

// Emit enqueues the event or drops it when the buffer is full.
func (c *ChanEmitter) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

// Events returns the receive side of the channel.
func (c *ChanEmitter) Events() <-chan Event { return c.ch }

// Dropped reports how many events were discarded due to backpressure.
func (c *ChanEmitter) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the channel. Emit becomes a no-op afterwards.
func (c *ChanEmitter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// multiEmitter fans one event out to several emitters.
type multiEmitter []Emitter

func (m multiEmitter) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}

// CombineEmitters merges emitters, skipping nils. Returns nil when none
// remain so callers can keep their fast path.
func CombineEmitters(emitters ...Emitter) Emitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, em := range emitters {
		if em != nil {
			out = append(out, em)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
