// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cabin-chat/cabin/lib/clock"
	"github.com/cabin-chat/cabin/lib/identity"
	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/lib/testutil"
	"github.com/cabin-chat/cabin/protocol"
	"github.com/cabin-chat/cabin/transport"
)

const (
	testKeyHex  = "11aa22bb33cc44dd55ee66ff778899000112233445566778899aabbccddeeff0"
	waitTimeout = 10 * time.Second
	twoWeeks    = 14 * 24 * time.Hour
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// harness runs one orchestrator with a gossip engine per cabal and
// records every snapshot it renders.
type harness struct {
	t            *testing.T
	identity     *identity.Identity
	clock        *clock.FakeClock
	orchestrator *Orchestrator
	cancel       context.CancelFunc
	done         chan error

	waitOnce sync.Once
	result   error

	mu        sync.Mutex
	snapshots []Snapshot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	self, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h := &harness{t: t, identity: self, clock: clock.Fake(testEpoch), done: make(chan error, 1)}

	orchestrator, err := New(Config{
		Signer: self,
		Engines: func(ref.CabalKey) (protocol.Engine, error) {
			return protocol.NewGossip(protocol.GossipConfig{
				Signer:        self,
				Store:         protocol.NewMemoryStore(),
				Clock:         h.clock,
				HistoryWindow: twoWeeks,
			})
		},
		Dialer:           &transport.TCPDialer{Timeout: 5 * time.Second},
		Renderer:         RenderFunc(h.record),
		Clock:            h.clock,
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      30 * time.Second,
		DeadTimeout:      90 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orchestrator = orchestrator

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- orchestrator.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) record(snapshot Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, snapshot)
}

// wait blocks until Run returns and yields its result.
func (h *harness) wait() error {
	h.t.Helper()
	h.waitOnce.Do(func() {
		select {
		case h.result = <-h.done:
		case <-time.After(waitTimeout):
			h.t.Errorf("orchestrator did not stop within %v", waitTimeout)
		}
	})
	return h.result
}

// stop cancels Run and waits for it. Safe to call more than once.
func (h *harness) stop() {
	h.t.Helper()
	h.cancel()
	if err := h.wait(); err != nil {
		h.t.Errorf("Run returned %v", err)
	}
}

func (h *harness) input(lines ...string) {
	for _, line := range lines {
		if !h.orchestrator.Bus().Publish(UserInput{Line: line}) {
			h.t.Fatalf("bus closed before input %q", line)
		}
	}
}

func (h *harness) latest() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.snapshots) == 0 {
		return Snapshot{}
	}
	return h.snapshots[len(h.snapshots)-1]
}

func (h *harness) all() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Snapshot(nil), h.snapshots...)
}

// waitFor polls the latest snapshot until condition holds.
func (h *harness) waitFor(description string, condition func(Snapshot) bool) Snapshot {
	h.t.Helper()
	var matched Snapshot
	testutil.RequireEventually(h.t, waitTimeout, func() bool {
		snapshot := h.latest()
		if snapshot.Seq == 0 || !condition(snapshot) {
			return false
		}
		matched = snapshot
		return true
	}, description)
	return matched
}

// waitForStatus waits for a status line containing substring.
func (h *harness) waitForStatus(substring string) Snapshot {
	h.t.Helper()
	return h.waitFor("status line containing "+substring, func(snapshot Snapshot) bool {
		return hasStatus(snapshot, substring)
	})
}

func hasStatus(snapshot Snapshot, substring string) bool {
	for _, line := range statusLines(snapshot) {
		if strings.Contains(line, substring) {
			return true
		}
	}
	return false
}

func statusLines(snapshot Snapshot) []string {
	window, _ := snapshot.Window(StatusWindow)
	lines := make([]string, 0, len(window.Lines))
	for _, line := range window.Lines {
		lines = append(lines, line.Body)
	}
	return lines
}

// listenAddress starts a listener on the active cabal and returns the
// bound address.
func (h *harness) listenAddress() string {
	h.t.Helper()
	h.input("/listen 127.0.0.1:0")
	snapshot := h.waitFor("listener bound", func(snapshot Snapshot) bool {
		for _, cabal := range snapshot.Cabals {
			if cabal.Active && len(cabal.Listeners) > 0 {
				return true
			}
		}
		return false
	})
	for _, cabal := range snapshot.Cabals {
		if cabal.Active {
			return cabal.Listeners[0]
		}
	}
	panic("unreachable")
}

func activeCabal(snapshot Snapshot) (CabalView, bool) {
	for _, cabal := range snapshot.Cabals {
		if cabal.Active {
			return cabal, true
		}
	}
	return CabalView{}, false
}

// rawPeer is a test-controlled peer speaking the wire protocol directly.
type rawPeer struct {
	t        *testing.T
	identity *identity.Identity
	conn     net.Conn
	frames   chan protocol.Frame
}

// dialRawPeer connects to address and completes the handshake as
// signer. Frames the orchestrator sends are collected on frames until
// the socket closes.
func dialRawPeer(t *testing.T, address string, signer *identity.Identity) *rawPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", address, err)
	}
	if _, err := transport.Handshake(conn, signer, ref.MustParseCabalKey(testKeyHex), 5*time.Second); err != nil {
		conn.Close()
		t.Fatalf("handshake: %v", err)
	}
	peer := &rawPeer{t: t, identity: signer, conn: conn, frames: make(chan protocol.Frame, 64)}
	go peer.readLoop()
	t.Cleanup(func() { conn.Close() })
	return peer
}

func (p *rawPeer) readLoop() {
	defer close(p.frames)
	for {
		payload, err := transport.ReadFrame(p.conn)
		if err != nil {
			return
		}
		frame, err := protocol.DecodeFrame(payload)
		if err != nil {
			return
		}
		select {
		case p.frames <- frame:
		default:
		}
	}
}

// expectFrame reads frames until one of type frameType arrives.
func (p *rawPeer) expectFrame(frameType protocol.FrameType) protocol.Frame {
	p.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				p.t.Fatalf("connection closed while waiting for a %s frame", frameType)
			}
			if frame.Type == frameType {
				return frame
			}
		case <-deadline:
			p.t.Fatalf("timed out waiting for a %s frame", frameType)
		}
	}
}

// expectClosed waits for the orchestrator to close the socket.
func (p *rawPeer) expectClosed() {
	p.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-p.frames:
			if !ok {
				return
			}
		case <-deadline:
			p.t.Fatal("orchestrator did not close the connection")
		}
	}
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	generated, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return generated
}
