package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownEventOwnSet(t *testing.T) {
	e := NewShutdownEvent()
	assert.False(t, e.IsSet())
	e.Set()
	assert.True(t, e.IsSet())
}

func TestShutdownEventChildReflectsParent(t *testing.T) {
	parent := NewShutdownEvent()
	child := parent.Child(nil)
	assert.False(t, child.IsSet())
	parent.Set()
	assert.True(t, child.IsSet())
}

func TestShutdownEventChildReflectsExternal(t *testing.T) {
	external := NewShutdownEvent()
	child := NewShutdownEvent().Child(external)
	assert.False(t, child.IsSet())
	external.Set()
	assert.True(t, child.IsSet())
}

func TestShutdownEventWaitTimesOutWithoutSignal(t *testing.T) {
	e := NewShutdownEvent()
	start := time.Now()
	result := e.Wait(30 * time.Millisecond)
	assert.False(t, result)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestShutdownEventWaitReturnsTrueWhenSet(t *testing.T) {
	e := NewShutdownEvent()
	go func() {
		time.Sleep(5 * time.Millisecond)
		e.Set()
	}()
	require.True(t, e.Wait(time.Second))
}

func TestCompoundEventSetByAnyChild(t *testing.T) {
	a := NewShutdownEvent()
	b := NewShutdownEvent()
	compound := NewCompoundEvent(a, b)
	assert.False(t, compound.IsSet())
	b.Set()
	assert.Eventually(t, func() bool { return compound.IsSet() }, time.Second, time.Millisecond)
}
