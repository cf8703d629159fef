// Package notifier implements a synchronous list of event listeners.
package notifier

import (
	"slices"
	"sync"
)

// Listener receives the events of a [Notifier].  Implementations must be
// comparable, which in practice means pointer types.
type Listener[E any] interface {
	// Notify is called for every triggered event.  It must not block for
	// long, since triggering waits for all listeners.
	Notify(e E)
}

// ListenerFunc adapts a function to the [Listener] interface.  Since
// functions aren't comparable, use it through a pointer:
//
//	l := &notifier.ListenerFunc[Event]{F: handle}
//	n.AddListener(l)
type ListenerFunc[E any] struct {
	F func(e E)
}

// type check
var _ Listener[struct{}] = (*ListenerFunc[struct{}])(nil)

// Notify implements the [Listener] interface for *ListenerFunc.
func (l *ListenerFunc[E]) Notify(e E) {
	l.F(e)
}

// Notifier delivers events to its listeners in the order they were added.  It
// is safe for concurrent use.
type Notifier[E any] struct {
	// mu protects listeners.
	mu *sync.Mutex

	listeners []Listener[E]
}

// New returns a new properly initialized *Notifier.
func New[E any]() (n *Notifier[E]) {
	return &Notifier[E]{
		mu: &sync.Mutex{},
	}
}

// AddListener adds l to the end of the listener list.  Adding the same
// listener twice has no effect.
func (n *Notifier[E]) AddListener(l Listener[E]) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if slices.Contains(n.listeners, l) {
		return
	}

	n.listeners = append(n.listeners, l)
}

// RemoveListener removes l.  It does nothing if l isn't a listener.
func (n *Notifier[E]) RemoveListener(l Listener[E]) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if i := slices.Index(n.listeners, l); i >= 0 {
		n.listeners = slices.Delete(n.listeners, i, i+1)
	}
}

// Len returns the number of listeners.
func (n *Notifier[E]) Len() (l int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.listeners)
}

// Trigger calls every listener with e.  Listeners added or removed by other
// listeners during the call take effect with the next event.
func (n *Notifier[E]) Trigger(e E) {
	n.mu.Lock()
	snapshot := slices.Clone(n.listeners)
	n.mu.Unlock()

	for _, l := range snapshot {
		l.Notify(e)
	}
}
