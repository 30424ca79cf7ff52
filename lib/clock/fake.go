// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. After channels and
// tickers fire during Advance, in deadline order. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	changed *sync.Cond

	// schedule is kept sorted by deadline. Stopped tickers are removed
	// eagerly, so every entry is live.
	schedule []*timer
}

type timer struct {
	deadline time.Time
	period   time.Duration // zero for one-shot After timers
	out      chan time.Time
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	out := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		out <- c.now
		return out
	}
	c.insertLocked(&timer{deadline: c.now.Add(d), out: out})
	return out
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker called with a non-positive period")
	}
	out := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &timer{deadline: c.now.Add(d), period: d, out: out}
	c.insertLocked(entry)
	return &Ticker{C: out, stop: func() { c.remove(entry) }}
}

func (c *FakeClock) insertLocked(entry *timer) {
	index, _ := slices.BinarySearchFunc(c.schedule, entry.deadline, func(t *timer, deadline time.Time) int {
		// Equal deadlines sort after existing entries so registration
		// order breaks ties.
		if t.deadline.After(deadline) {
			return 1
		}
		return -1
	})
	c.schedule = slices.Insert(c.schedule, index, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) remove(entry *timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedule = slices.DeleteFunc(c.schedule, func(t *timer) bool { return t == entry })
}

// Advance moves the clock forward by d. Each timer due at or before the
// new time fires once per elapsed period; sends never block, so a
// ticker with a full buffer drops the extra ticks and keeps its phase.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		entry := c.popDue(target)
		if entry == nil {
			return
		}
		select {
		case entry.out <- target:
		default:
		}
	}
}

// popDue takes the earliest timer due by target off the schedule. A
// ticker goes back on at its next deadline.
func (c *FakeClock) popDue(target time.Time) *timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.schedule) == 0 || c.schedule[0].deadline.After(target) {
		return nil
	}
	entry := c.schedule[0]
	c.schedule = c.schedule[1:]
	if entry.period > 0 {
		entry.deadline = entry.deadline.Add(entry.period)
		c.insertLocked(entry)
	}
	return entry
}

// WaitForTimers blocks until n timers are scheduled. Tests call it
// before Advance when the code under test registers its timer from
// another goroutine:
//
//	go session.RunTicker(ctx, fakeClock, time.Second, bus)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.schedule) < n {
		c.changed.Wait()
	}
}

// PendingCount reports how many timers are scheduled.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.schedule)
}
