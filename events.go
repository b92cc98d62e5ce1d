package duckchat

import "sync"

// EventType identifies a notification emitted during a completion call.
type EventType string

const (
	// EventCompletion carries one content delta.
	EventCompletion EventType = "completion"
	// EventError reports a failed request or stream.
	EventError EventType = "error"
	// EventDone carries the final result.
	EventDone EventType = "done"
)

// Event is a single notification. Delta is set for completion events, Err
// for error events and Result for the done event.
type Event struct {
	CallID string
	Type   EventType
	Delta  string
	Err    error
	Result *CompletionResult
}

// Observer receives the notifications of a completion call. OnEvent is
// called synchronously from the producing goroutine, in order, so a slow
// observer stalls the stream.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(Event) {}

type multiObserver []Observer

func (m multiObserver) OnEvent(e Event) {
	for _, o := range m {
		o.OnEvent(e)
	}
}

// Observers fans events out to each non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return NoOpObserver{}
	case 1:
		return out[0]
	}
	return out
}

// Emitter dispatches events to listeners registered per event type.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]func(Event)
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventType][]func(Event))}
}

// On registers a listener for an event type.
func (e *Emitter) On(t EventType, fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]func(Event))
	}
	e.listeners[t] = append(e.listeners[t], fn)
}

// OnEvent implements Observer.
func (e *Emitter) OnEvent(ev Event) {
	e.mu.RLock()
	listeners := e.listeners[ev.Type]
	e.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
