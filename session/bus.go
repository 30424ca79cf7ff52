// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/cabin-chat/cabin/lib/clock"
)

// Bus is an unbounded FIFO of events with many producers and one
// consumer. Publish never blocks, so a slow consumer cannot stall a
// connection's read loop and a producer cannot stall the consumer.
// Events from one producer goroutine are delivered in publish order.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	ready  chan struct{}
}

// NewBus returns an open, empty bus.
func NewBus() *Bus {
	return &Bus{ready: make(chan struct{}, 1)}
}

// Publish appends event. It returns false, dropping the event, once
// the bus is closed.
func (b *Bus) Publish(event Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, event)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after Publish. A signal may find the queue
// already drained; consumers must tolerate an empty Drain.
func (b *Bus) Ready() <-chan struct{} { return b.ready }

// Drain removes and returns every queued event in FIFO order.
func (b *Bus) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.queue
	b.queue = nil
	return events
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting events and discards the queue. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queue = nil
}

// RunTicker publishes a Tick every interval until ctx is cancelled or
// the bus closes.
func RunTicker(ctx context.Context, c clock.Clock, interval time.Duration, bus *Bus) error {
	ticker := c.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if !bus.Publish(Tick{Now: now}) {
				return nil
			}
		}
	}
}
