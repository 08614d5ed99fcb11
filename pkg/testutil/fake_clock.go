package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/killallgit/flowchat/pkg/typewriter"
)

// FakeClock is a virtual clock. Timers only fire from Advance or
// FireAll, on the calling goroutine.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *FakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewFakeClock creates a clock starting at a fixed instant
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// AfterFunc implements typewriter.Clock
func (c *FakeClock) AfterFunc(d time.Duration, f func()) typewriter.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Now returns the virtual time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of armed timers
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// next pops the earliest armed timer due at or before deadline
func (c *FakeClock) next(deadline time.Time, bounded bool) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	if len(live) == 0 {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})
	t := live[0]
	if bounded && t.at.After(deadline) {
		return nil
	}
	t.fired = true
	if t.at.After(c.now) {
		c.now = t.at
	}
	return t
}

// Advance moves time forward by d, firing every timer that comes due,
// including timers armed by the callbacks themselves.
func (c *FakeClock) Advance(d time.Duration) {
	deadline := c.Now().Add(d)
	for {
		t := c.next(deadline, true)
		if t == nil {
			break
		}
		t.f()
	}
	c.mu.Lock()
	if deadline.After(c.now) {
		c.now = deadline
	}
	c.mu.Unlock()
}

// FireAll runs timers in order until none are armed or limit callbacks
// have run. It returns the number of callbacks run.
func (c *FakeClock) FireAll(limit int) int {
	n := 0
	for n < limit {
		t := c.next(time.Time{}, false)
		if t == nil {
			break
		}
		t.f()
		n++
	}
	return n
}
