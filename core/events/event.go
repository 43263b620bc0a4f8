package events

import (
	"sync"

	"custodychain/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can render the generic representation.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects the events emitted while a single call executes. The
// processor drains it only once the call has been accepted, so a rejected call
// never publishes anything.
type Buffer struct {
	events []types.Event
}

// Emit implements the Emitter interface. Events that cannot render a generic
// payload are dropped.
func (b *Buffer) Emit(evt Event) {
	typed, ok := evt.(Typed)
	if !ok {
		return
	}
	payload := typed.Event()
	if payload == nil {
		return
	}
	b.events = append(b.events, payload.Clone())
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []types.Event {
	out := b.events
	b.events = nil
	return out
}

// Reset discards buffered events.
func (b *Buffer) Reset() {
	b.events = nil
}

// Published is a journaled event as delivered to subscribers.
type Published struct {
	Sequence  uint64      `json:"sequence"`
	Contract  [20]byte    `json:"contract"`
	Timestamp int64       `json:"timestamp"`
	Event     types.Event `json:"event"`
}

// EventType implements Event.
func (p Published) EventType() string { return p.Event.Type }

// Fanout delivers published events to every registered subscriber. Slow
// subscribers drop events rather than stall the ledger.
type Fanout struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Published
	sinks  []Emitter
}

// NewFanout constructs an empty fan-out hub.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[int]chan Published)}
}

// AddSink registers a synchronous emitter (e.g. the SQL indexer).
func (f *Fanout) AddSink(sink Emitter) {
	if sink == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
}

// Subscribe returns a buffered channel of published events and a cancel
// function that unregisters and closes it.
func (f *Fanout) Subscribe(buffer int) (<-chan Published, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Published, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	published, ok := evt.(Published)
	if !ok {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sink := range f.sinks {
		sink.Emit(published)
	}
	for _, ch := range f.subs {
		select {
		case ch <- published:
		default:
		}
	}
}
