// Package concurrency implements the scoped subprocess/goroutine owner and
// the composable shutdown signal that every engine-layer operation runs
// inside (spec §4.1, §5).
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConcurrencyGroupError is a group-level teardown failure; it is never
// fatal to the enclosing façade call unless the caller re-raises it.
type ConcurrencyGroupError struct {
	Op  string
	Err error
}

func (e *ConcurrencyGroupError) Error() string { return fmt.Sprintf("concurrency group %s: %v", e.Op, e.Err) }
func (e *ConcurrencyGroupError) Unwrap() error { return e.Err }

// GracePeriod is how long a Group waits after signaling a spawned process
// to terminate before killing it outright.
const GracePeriod = 5 * time.Second

// Group is a scoped owner of concurrent work: every process it spawns and
// every goroutine it starts is torn down when the group exits.
type Group struct {
	ctx      context.Context
	shutdown *ShutdownEvent

	mu        sync.Mutex
	processes []*BackgroundProcess
	wg        sync.WaitGroup
	closed    bool
}

// New creates a root Group. parentShutdown, if non-nil, is composed into
// this group's ShutdownEvent so an ancestor's cancellation propagates down.
func New(ctx context.Context, parentShutdown *ShutdownEvent) *Group {
	own := NewShutdownEvent()
	var evt *ShutdownEvent
	if parentShutdown != nil {
		evt = parentShutdown.Child(own)
	} else {
		evt = own.Child(nil)
	}
	return &Group{ctx: ctx, shutdown: evt}
}

// Spawn creates a child Group whose ShutdownEvent composes with this
// group's, per spec §4.1 ("child groups inherit and compose with their
// parent's event").
func (g *Group) Spawn() *Group {
	return New(g.ctx, g.shutdown)
}

// ShutdownEvent returns this group's composed shutdown signal.
func (g *Group) ShutdownEvent() *ShutdownEvent { return g.shutdown }

// Context returns the context the group was created with. Close does not
// cancel it; teardown reaches spawned work through ShutdownEvent instead.
func (g *Group) Context() context.Context { return g.ctx }

// RunProcessToCompletion runs spec to completion within the group,
// tracking it for teardown.
func (g *Group) RunProcessToCompletion(spec ProcessSpec) (*ProcessResult, error) {
	return RunToCompletion(g.ctx, g.shutdown, spec)
}

// RunProcessInBackground starts spec without waiting, tracking it so Close
// terminates it if still running.
func (g *Group) RunProcessInBackground(spec ProcessSpec) (*BackgroundProcess, error) {
	bp, err := RunInBackground(g.ctx, g.shutdown, spec)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.processes = append(g.processes, bp)
	g.mu.Unlock()
	return bp, nil
}

// Go runs fn in a tracked goroutine; fn should observe
// g.ShutdownEvent().Done() to exit promptly on teardown.
func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Close signals shutdown, waits GracePeriod for spawned processes to exit
// on their own, then kills stragglers. All tracked goroutines are expected
// to observe ShutdownEvent().Done() and exit; Close waits for them too.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	procs := append([]*BackgroundProcess(nil), g.processes...)
	g.mu.Unlock()

	g.shutdown.Set()

	for _, p := range procs {
		_ = p.Signal(SignalTerm)
	}

	exited := make(chan struct{})
	go func() {
		for _, p := range procs {
			_, _ = p.Wait()
		}
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(GracePeriod):
		for _, p := range procs {
			_ = p.Signal(SignalKill)
		}
	}

	goroutinesDone := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(goroutinesDone)
	}()
	select {
	case <-goroutinesDone:
	case <-time.After(GracePeriod):
		return &ConcurrencyGroupError{Op: "close", Err: fmt.Errorf("goroutines did not observe shutdown within grace period")}
	}

	return nil
}
