package sync

import stdsync "sync"

// Event names emitted on a helper's bus. One terminal event is emitted
// per item, strictly after its outcome is final.
const (
	EventPulled       = "pulled"
	EventPushed       = "pushed"
	EventPulledError  = "pulled-error"
	EventPushedError  = "pushed-error"
	EventDeleted      = "deleted"
	EventDeletedError = "deleted-error"
	// EventRewrote signals that a local metadata document was rewritten
	// with the server's post-push view.
	EventRewrote = "rewrote"
)

// Event is one progress notification.
type Event struct {
	Name string
	Path string
	Err  error
}

// EventBus delivers events synchronously to listeners in registration
// order. Listener panics are not recovered; a listener blocking blocks
// the emitting worker.
type EventBus struct {
	mu        stdsync.Mutex
	listeners map[string][]func(Event)
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[string][]func(Event))}
}

// On registers a listener for the named event.
func (b *EventBus) On(name string, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners[name] = append(b.listeners[name], fn)
}

// Emit delivers the event to every listener registered for its name, in
// registration order. The listener slice is copied under the lock so
// listeners may register further listeners without deadlocking.
func (b *EventBus) Emit(ev Event) {
	b.mu.Lock()
	fns := make([]func(Event), len(b.listeners[ev.Name]))
	copy(fns, b.listeners[ev.Name])
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
