// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// The orchestrator stamps local messages with Clock.Now, and the
// liveness loop in cmd/cabin drives Tick events from Clock.NewTicker.
// Tests replace both with a [FakeClock] so that idle and dead peer
// timeouts can be crossed deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go session.RunTicker(ctx, c, interval, bus)
//	c.WaitForTimers(1)      // wait for the ticker to register
//	c.Advance(interval)     // fire exactly one tick
package clock
