// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source of the session core. Message timestamps,
// the liveness ticker and dial deadlines all read from it.
type Clock interface {
	Now() time.Time

	// After delivers one value once d has elapsed. A non-positive d
	// delivers at once.
	After(d time.Duration) <-chan time.Time

	// NewTicker panics if d <= 0, as time.NewTicker does.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C, a channel of capacity one. A
// slow reader misses ticks rather than queueing them.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends delivery. C is left open.
func (t *Ticker) Stop() { t.stop() }

// Real returns the wall clock.
func Real() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (wallClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
