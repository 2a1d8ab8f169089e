package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapFiresNoEarlierThanPeriod(t *testing.T) {
	h := New()
	start := time.Now()
	fired := make(chan time.Time, 1)
	h.Add(30*time.Millisecond, func() { fired <- time.Now() }, false)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		var out []func()
		out = h.CollectExpired(out)
		for _, cb := range out {
			cb()
		}
		if len(fired) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	require.Len(t, fired, 1)
	assert.GreaterOrEqual(t, (<-fired).Sub(start), 30*time.Millisecond)
}

func TestHeapPeriodicRearmsAndCancelStopsIt(t *testing.T) {
	h := New()
	var count int
	timer := h.Add(5*time.Millisecond, func() { count++ }, true)

	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		var out []func()
		out = h.CollectExpired(out)
		for _, cb := range out {
			cb()
		}
		time.Sleep(1 * time.Millisecond)
	}
	assert.Greater(t, count, 1)

	timer.Cancel()
	after := count
	time.Sleep(20 * time.Millisecond)
	var out []func()
	out = h.CollectExpired(out)
	for _, cb := range out {
		cb()
	}
	assert.Equal(t, after, count)
}

func TestConditionTimerSkippedWhenDead(t *testing.T) {
	h := New()
	cond := NewCondition()
	fired := false
	h.AddCondition(1*time.Millisecond, func() { fired = true }, cond, false)
	cond.Disarm()

	time.Sleep(5 * time.Millisecond)
	var out []func()
	out = h.CollectExpired(out)
	for _, cb := range out {
		cb()
	}
	assert.False(t, fired)
}

func TestBackwardClockJumpExpiresEverythingImmediately(t *testing.T) {
	h := New()
	h.prevNow = time.Now()
	fired := false
	h.Add(10*time.Second, func() { fired = true }, false)

	// Simulate the wall clock having jumped back more than an hour by
	// forging prevNow far in the future relative to "now".
	h.prevNow = time.Now().Add(2 * time.Hour)

	var out []func()
	out = h.CollectExpired(out)
	for _, cb := range out {
		cb()
	}
	assert.True(t, fired)
}

func TestNextDeadlineReportsNeverWhenEmpty(t *testing.T) {
	h := New()
	_, ok := h.NextDeadline()
	assert.False(t, ok)

	h.Add(time.Second, func() {}, false)
	d, ok := h.NextDeadline()
	assert.True(t, ok)
	assert.Greater(t, d, time.Duration(0))
}

func TestOnFrontInsertedFiresOnlyForNewFront(t *testing.T) {
	h := New()
	var calls int
	h.SetOnFrontInserted(func() { calls++ })

	h.Add(100*time.Millisecond, func() {}, false)
	assert.Equal(t, 1, calls)

	// A later deadline does not become the new front.
	h.Add(200*time.Millisecond, func() {}, false)
	assert.Equal(t, 1, calls)

	// The tickled flag suppresses a second hook call for a new, earlier
	// front until NextDeadline is consulted again.
	h.Add(10*time.Millisecond, func() {}, false)
	assert.Equal(t, 1, calls)

	h.NextDeadline() // clears tickled

	h.Add(1*time.Millisecond, func() {}, false)
	assert.Equal(t, 2, calls)
}
