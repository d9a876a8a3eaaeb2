package concurrency

import (
	"sync"
	"time"
)

// ShutdownEvent composes an own signal with an optional parent and an
// optional external event so cancellation propagates down a tree of
// ConcurrencyGroups (spec §4.1).
type ShutdownEvent struct {
	mu       sync.Mutex
	ch       chan struct{}
	set      bool
	parent   *ShutdownEvent
	external *ShutdownEvent
}

// NewShutdownEvent creates a standalone event with no parent.
func NewShutdownEvent() *ShutdownEvent {
	return &ShutdownEvent{ch: make(chan struct{})}
}

// Child returns a new ShutdownEvent whose IsSet is true whenever the
// child's own signal, the parent's, or the given external event's is set.
func (e *ShutdownEvent) Child(external *ShutdownEvent) *ShutdownEvent {
	return &ShutdownEvent{ch: make(chan struct{}), parent: e, external: external}
}

// Set marks this event (and only this event) as fired.
func (e *ShutdownEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// IsSet reports the disjunction of own/parent/external state.
func (e *ShutdownEvent) IsSet() bool {
	e.mu.Lock()
	own := e.set
	e.mu.Unlock()
	if own {
		return true
	}
	if e.parent != nil && e.parent.IsSet() {
		return true
	}
	if e.external != nil && e.external.IsSet() {
		return true
	}
	return false
}

// Done returns a channel that is closed once IsSet() would return true.
// Composed events spawn a new watcher goroutine on each call; callers
// that never call Done pay no goroutine cost.
func (e *ShutdownEvent) Done() <-chan struct{} {
	if e.parent == nil && e.external == nil {
		return e.ch
	}
	out := make(chan struct{})
	go func() {
		defer close(out)
		cases := []<-chan struct{}{e.ch}
		if e.parent != nil {
			cases = append(cases, e.parent.Done())
		}
		if e.external != nil {
			cases = append(cases, e.external.Done())
		}
		waitAny(cases)
	}()
	return out
}

// Wait blocks until IsSet() would return true or the timeout elapses (a
// zero or negative timeout waits forever), returning the final state.
func (e *ShutdownEvent) Wait(timeout time.Duration) bool {
	if e.IsSet() {
		return true
	}
	if timeout <= 0 {
		<-e.Done()
		return true
	}
	select {
	case <-e.Done():
		return true
	case <-time.After(timeout):
		return e.IsSet()
	}
}

func waitAny(chans []<-chan struct{}) {
	switch len(chans) {
	case 1:
		<-chans[0]
	case 2:
		select {
		case <-chans[0]:
		case <-chans[1]:
		}
	default:
		select {
		case <-chans[0]:
		case <-chans[1]:
		case <-chans[2]:
		}
	}
}

// CompoundEvent is a ShutdownEvent that is set iff any of its registered
// children are set, and wakes every waiter on whichever fires first.
type CompoundEvent struct {
	*ShutdownEvent
	children []*ShutdownEvent
}

// NewCompoundEvent returns a CompoundEvent over the given children.
func NewCompoundEvent(children ...*ShutdownEvent) *CompoundEvent {
	c := &CompoundEvent{ShutdownEvent: NewShutdownEvent(), children: children}
	for _, child := range children {
		go func(ch *ShutdownEvent) {
			<-ch.Done()
			c.Set()
		}(child)
	}
	return c
}

// IsSet overrides the embedded check to also consider children directly,
// so a CompoundEvent built before a child fires still reflects new state
// even if the watcher goroutine hasn't woken yet.
func (c *CompoundEvent) IsSet() bool {
	if c.ShutdownEvent.IsSet() {
		return true
	}
	for _, ch := range c.children {
		if ch.IsSet() {
			return true
		}
	}
	return false
}
