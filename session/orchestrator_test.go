// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/lib/testutil"
	"github.com/cabin-chat/cabin/protocol"
	"github.com/cabin-chat/cabin/transport"
)

func TestNewRequiresSignerAndEngines(t *testing.T) {
	if _, err := New(Config{Engines: nopEngines}); err == nil {
		t.Error("New without a signer succeeded")
	}
	if _, err := New(Config{Signer: newIdentity(t)}); err == nil {
		t.Error("New without an engine factory succeeded")
	}
}

func TestRunTwiceFails(t *testing.T) {
	h := newHarness(t)
	h.stop()
	if err := h.orchestrator.Run(t.Context()); err == nil {
		t.Error("second Run succeeded")
	}
}

func TestInitialSnapshotHasStatusWindow(t *testing.T) {
	h := newHarness(t)
	snapshot := h.waitFor("initial snapshot", func(Snapshot) bool { return true })
	if snapshot.Active != StatusWindow || len(snapshot.Windows) != 1 {
		t.Errorf("initial windows = %+v, active %d; want only the status window", snapshot.Windows, snapshot.Active)
	}
	if snapshot.Self != h.identity.PeerID() {
		t.Errorf("Self = %s, want %s", snapshot.Self.Short(), h.identity.PeerID().Short())
	}
}

func TestAddJoinTopic(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add "+testKeyHex, "/join myco", "/topic hello")

	snapshot := h.waitFor("topic applied", func(snapshot Snapshot) bool {
		return snapshot.ActiveWindow().Topic == "hello"
	})
	cabal, ok := activeCabal(snapshot)
	if !ok || cabal.Key != ref.MustParseCabalKey(testKeyHex) {
		t.Fatalf("active cabal = %+v, want %s", cabal, testKeyHex[:8])
	}
	if !slices.Contains(cabal.Channels, "myco") {
		t.Errorf("cabal channels = %v, want myco", cabal.Channels)
	}
	window := snapshot.ActiveWindow()
	if window.Channel != "myco" || window.Index != 1 || !window.Joined {
		t.Errorf("active window = %+v, want joined #myco at index 1", window)
	}
	if len(window.Members) != 1 || window.Members[0].Peer != h.identity.PeerID() {
		t.Errorf("members = %+v, want just ourselves", window.Members)
	}

	h.input("/topic")
	h.waitForStatus("topic for #myco: hello")
}

func TestSwitchToMissingWindowKeepsFocus(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add "+testKeyHex, "/join a", "/join b", "/win 1")
	h.waitFor("window 1 focused", func(snapshot Snapshot) bool {
		return len(snapshot.Windows) == 3 && snapshot.Active == 1
	})

	h.input("/win 5")
	snapshot := h.waitForStatus("no such window: 5")
	if snapshot.Active != 1 {
		t.Errorf("active window = %d after /win 5, want 1", snapshot.Active)
	}

	h.input("/w b")
	h.waitFor("fuzzy switch to #b", func(snapshot Snapshot) bool { return snapshot.Active == 2 })
}

func TestCloseStatusWindowIsRejected(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add "+testKeyHex, "/join a")
	before := h.waitFor("joined", func(snapshot Snapshot) bool { return len(snapshot.Windows) == 2 })

	h.input("/close 0")
	after := h.waitForStatus("the status window cannot be closed")
	if len(after.Windows) != len(before.Windows) {
		t.Errorf("windows after /close 0 = %d, want %d", len(after.Windows), len(before.Windows))
	}

	h.input("/close")
	closed := h.waitFor("window 1 closed", func(snapshot Snapshot) bool { return len(snapshot.Windows) == 1 })
	if closed.Active != StatusWindow {
		t.Errorf("active after closing the only channel window = %d, want 0", closed.Active)
	}

	h.input("/join a")
	reopened := h.waitFor("window reopened", func(snapshot Snapshot) bool { return len(snapshot.Windows) == 2 })
	if reopened.Active != 2 {
		t.Errorf("reopened window index = %d, want 2", reopened.Active)
	}
	if len(reopened.ActiveWindow().Lines) == 0 {
		t.Error("channel log was lost when its window closed")
	}
}

func TestClosingFocusedWindowActivatesNextCabal(t *testing.T) {
	h := newHarness(t)
	first, second := testCabalKey(1), testCabalKey(2)
	h.input("/cabal add "+first.String(), "/join a", "/cabal add "+second.String(), "/join b")
	h.waitFor("both windows open", func(snapshot Snapshot) bool {
		active, ok := activeCabal(snapshot)
		return len(snapshot.Windows) == 3 && snapshot.Active == 2 && ok && active.Key == second
	})

	h.input("/close")
	closed := h.waitFor("window 2 closed", func(snapshot Snapshot) bool { return len(snapshot.Windows) == 2 })
	if closed.Active != 1 {
		t.Fatalf("active window after close = %d, want 1", closed.Active)
	}
	active, ok := activeCabal(closed)
	if !ok || active.Key != first {
		t.Errorf("active cabal after close = %s, want %s", active.Key.Short(), first.Short())
	}
}

func TestTextInStatusWindow(t *testing.T) {
	h := newHarness(t)
	h.input("hello")
	h.waitForStatus("can't post text in status window. see /help")
}

func TestCommandFailuresBecomeStatusLines(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		line string
		want string
	}{
		{"/join myco", "no active cabal"},
		{"/connect 127.0.0.1:1", "no active cabal"},
		{"/listen 0", "no active cabal"},
		{"/frobnicate", "unknown command /frobnicate"},
		{"/jion x", "did you mean /join?"},
		{"/cabal set " + testKeyHex, "unknown cabal"},
		{"/topic x", "can't show or set a topic in status window"},
		{"/members", "can't list members in status window"},
	}
	for _, test := range tests {
		h.input(test.line)
		h.waitForStatus(test.want)
	}

	h.input("/cabal add "+testKeyHex, "/cabal add "+testKeyHex)
	h.waitForStatus("already added")
	h.input("/members nowhere", "/part nowhere")
	h.waitForStatus("unknown channel nowhere")
	h.waitForStatus("not joined to nowhere")
}

func TestLogsAreAppendOnly(t *testing.T) {
	h := newHarness(t)
	h.input(
		"/cabal add "+testKeyHex,
		"/nick alice",
		"/join myco",
		"first",
		"/topic lunch",
		"/win 0",
		"/help",
		"/win 1",
		"second",
		"/part",
	)
	h.waitForStatus("left #myco")

	previous := make(map[int][]Line)
	for _, snapshot := range h.all() {
		for _, window := range snapshot.Windows {
			before := previous[window.Index]
			if len(window.Lines) < len(before) {
				t.Fatalf("snapshot %d: window %d shrank from %d to %d lines", snapshot.Seq, window.Index, len(before), len(window.Lines))
			}
			for i := range before {
				if window.Lines[i] != before[i] {
					t.Fatalf("snapshot %d: window %d line %d changed from %q to %q",
						snapshot.Seq, window.Index, i, before[i].Body, window.Lines[i].Body)
				}
			}
			previous[window.Index] = window.Lines
		}
	}

	var bodies []string
	for _, line := range previous[1] {
		if line.Kind == LineMessage {
			bodies = append(bodies, line.Body)
		}
	}
	if !slices.Equal(bodies, []string{"first", "second"}) {
		t.Errorf("channel messages = %q, want [first second]", bodies)
	}
}

func TestSnapshotsInvalidateEachWindowOnce(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add "+testKeyHex, "/join myco", "hello")
	h.waitFor("message posted", func(snapshot Snapshot) bool {
		return len(snapshot.ActiveWindow().Lines) >= 2
	})
	for _, snapshot := range h.all() {
		if !slices.IsSorted(snapshot.Invalidated) || len(slices.Compact(slices.Clone(snapshot.Invalidated))) != len(snapshot.Invalidated) {
			t.Errorf("snapshot %d: Invalidated = %v, want ascending without duplicates", snapshot.Seq, snapshot.Invalidated)
		}
	}
}

func TestUnfinishedHandshakeLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	before := h.latest()

	conn, err := net.Dial("tcp", address)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	h.waitFor("inbound connection handshaking", func(snapshot Snapshot) bool {
		cabal, _ := activeCabal(snapshot)
		return len(cabal.Connections) == 1 && cabal.Connections[0].State == StateHandshaking
	})

	h.clock.Advance(11 * time.Second)
	h.orchestrator.Bus().Publish(Tick{Now: h.clock.Now()})

	after := h.waitFor("connection discarded", func(snapshot Snapshot) bool {
		cabal, _ := activeCabal(snapshot)
		return len(cabal.Connections) == 0 && len(snapshot.Lifecycle) > 0 &&
			snapshot.Lifecycle[len(snapshot.Lifecycle)-1].State.Terminal()
	})

	cabal, _ := activeCabal(after)
	if len(cabal.Peers) != 0 {
		t.Errorf("registry = %v, want empty", cabal.Peers)
	}
	if len(cabal.Channels) != 0 {
		t.Errorf("channels = %v, want none", cabal.Channels)
	}
	if !slices.Equal(statusLines(after), statusLines(before)) {
		t.Errorf("status lines changed:\nbefore %q\nafter  %q", statusLines(before), statusLines(after))
	}
	last := after.Lifecycle[len(after.Lifecycle)-1]
	if last.Direction != Inbound || last.State != StateClosed || !strings.Contains(last.Err, "handshake did not complete") {
		t.Errorf("last lifecycle entry = %+v, want inbound closed after handshake timeout", last)
	}
}

func TestDuplicateIdentityKeepsFirstLink(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	peerIdentity := newIdentity(t)

	first := dialRawPeer(t, address, peerIdentity)
	first.expectFrame(protocol.FrameChannelsRequest)

	second := dialRawPeer(t, address, peerIdentity)
	second.expectClosed()

	snapshot := h.waitFor("duplicate torn down", func(snapshot Snapshot) bool {
		cabal, _ := activeCabal(snapshot)
		return len(cabal.Connections) == 1
	})
	cabal, _ := activeCabal(snapshot)
	if len(cabal.Peers) != 1 || cabal.Peers[0] != peerIdentity.PeerID() {
		t.Fatalf("registered peers = %v, want exactly %s", cabal.Peers, peerIdentity.PeerID().Short())
	}
	if cabal.Connections[0].ID != 1 {
		t.Errorf("surviving connection = %d, want the first (1)", cabal.Connections[0].ID)
	}
	var secondStates []State
	for _, entry := range snapshot.Lifecycle {
		if entry.Connection == 2 {
			secondStates = append(secondStates, entry.State)
		}
	}
	wantStates := []State{StateConnecting, StateHandshaking, StateEstablished, StateClosing, StateClosed}
	if !slices.Equal(secondStates, wantStates) {
		t.Errorf("second connection lifecycle = %v, want %v", secondStates, wantStates)
	}
	if count := strings.Count(strings.Join(statusLines(snapshot), "\n"), "connected to "+peerIdentity.PeerID().Short()); count != 1 {
		t.Errorf("%d connect status lines, want 1", count)
	}

	first.send(protocol.Frame{Type: protocol.FramePing, Nonce: 7})
	if pong := first.expectFrame(protocol.FramePong); pong.Nonce != 7 {
		t.Errorf("pong nonce = %d, want 7", pong.Nonce)
	}
}

func TestTwoClientsExchangeMessages(t *testing.T) {
	alice := newHarness(t)
	bob := newHarness(t)

	alice.input("/cabal add "+testKeyHex, "/nick alice")
	address := alice.listenAddress()
	bob.input("/cabal add "+testKeyHex, "/nick bob", "/connect "+address)

	for _, h := range []*harness{alice, bob} {
		h.waitFor("peer registered", func(snapshot Snapshot) bool {
			cabal, _ := activeCabal(snapshot)
			return len(cabal.Peers) == 1
		})
	}

	alice.input("/join myco", "hello from alice")
	bob.input("/join myco")

	snapshot := bob.waitFor("alice's message delivered", func(snapshot Snapshot) bool {
		window := snapshot.ActiveWindow()
		if window.Channel != "myco" {
			return false
		}
		for _, line := range window.Lines {
			if line.Kind == LineMessage && line.Body == "hello from alice" {
				return true
			}
		}
		return false
	})
	var count int
	for _, line := range snapshot.ActiveWindow().Lines {
		if line.Kind == LineMessage && line.Body == "hello from alice" {
			count++
			if line.Author != alice.identity.PeerID() {
				t.Errorf("author = %s, want alice %s", line.Author.Short(), alice.identity.PeerID().Short())
			}
			// alice set her nick before bob connected.
			if line.Nick != "alice" {
				t.Errorf("nick = %q, want alice", line.Nick)
			}
		}
	}
	if count != 1 {
		t.Errorf("message appears %d times, want once", count)
	}
	bob.waitFor("alice listed with her nick", func(snapshot Snapshot) bool {
		for _, member := range snapshot.ActiveWindow().Members {
			if member.Peer == alice.identity.PeerID() && member.Nick == "alice" {
				return true
			}
		}
		return false
	})

	bob.input("hi alice")
	alice.waitFor("bob's reply delivered", func(snapshot Snapshot) bool {
		for _, line := range snapshot.ActiveWindow().Lines {
			if line.Body == "hi alice" && line.Author == bob.identity.PeerID() {
				return true
			}
		}
		return false
	})

	bob.input("/exit")
	if err := bob.wait(); err != nil {
		t.Fatalf("bob Run: %v", err)
	}
	alice.waitForStatus("disconnected from")
}

func TestPerPeerPostOrderSurvivesInterleaving(t *testing.T) {
	const perPeer = 50
	h := newHarness(t)
	h.input("/cabal add "+testKeyHex, "/join myco")
	address := h.listenAddress()
	peers := []*rawPeer{
		dialRawPeer(t, address, newIdentity(t)),
		dialRawPeer(t, address, newIdentity(t)),
	}
	h.waitFor("both peers registered", func(snapshot Snapshot) bool {
		cabal, _ := activeCabal(snapshot)
		return len(cabal.Peers) == len(peers)
	})

	// Same timestamp on every post, so only arrival order can order them.
	sent := make(chan error, len(peers))
	for _, peer := range peers {
		go func() {
			for sequence := range perPeer {
				post := protocol.Post{Channel: "myco", Kind: protocol.KindText, Time: testEpoch.UnixMilli(), Body: strconv.Itoa(sequence)}
				if err := post.Sign(peer.identity); err != nil {
					sent <- err
					return
				}
				payload, compression, err := protocol.EncodeFrame(protocol.Frame{Type: protocol.FramePost, Post: &post})
				if err == nil {
					err = transport.WriteFrame(peer.conn, payload, compression)
				}
				if err != nil {
					sent <- err
					return
				}
			}
			sent <- nil
		}()
	}
	for range peers {
		if err := testutil.RequireReceive(t, sent, waitTimeout, "sending posts"); err != nil {
			t.Fatalf("sending posts: %v", err)
		}
	}

	snapshot := h.waitFor("every post applied", func(snapshot Snapshot) bool {
		var count int
		for _, line := range snapshot.ActiveWindow().Lines {
			if line.Kind == LineMessage {
				count++
			}
		}
		return count == perPeer*len(peers)
	})
	next := make(map[ref.PeerID]int)
	for _, line := range snapshot.ActiveWindow().Lines {
		if line.Kind != LineMessage {
			continue
		}
		if want := strconv.Itoa(next[line.Author]); line.Body != want {
			t.Fatalf("post from %s applied as %q, want %q", line.Author.Short(), line.Body, want)
		}
		next[line.Author]++
	}
}

func TestIdlePeerIsPingedThenDropped(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	peer := dialRawPeer(t, address, newIdentity(t))
	peer.expectFrame(protocol.FrameChannelsRequest)

	h.clock.Advance(31 * time.Second)
	h.orchestrator.Bus().Publish(Tick{Now: h.clock.Now()})
	if ping := peer.expectFrame(protocol.FramePing); ping.Nonce == 0 {
		t.Error("ping carried no nonce")
	}

	h.clock.Advance(60 * time.Second)
	h.orchestrator.Bus().Publish(Tick{Now: h.clock.Now()})
	peer.expectClosed()

	snapshot := h.waitForStatus("peer stopped responding")
	cabal, _ := activeCabal(snapshot)
	if len(cabal.Peers) != 0 {
		t.Errorf("peers after liveness failure = %v, want none", cabal.Peers)
	}
}

func TestMalformedFrameDropsPeer(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	peer := dialRawPeer(t, address, newIdentity(t))
	peer.expectFrame(protocol.FrameChannelsRequest)

	if err := transport.WriteFrame(peer.conn, []byte{0xff, 0xfe, 0xfd}, transport.CompressionNone); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	peer.expectClosed()
	snapshot := h.waitForStatus("protocol error")
	cabal, _ := activeCabal(snapshot)
	if len(cabal.Peers) != 0 {
		t.Errorf("peers after protocol error = %v, want none", cabal.Peers)
	}
}

func TestBrokenFramingIsProtocolError(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	peer := dialRawPeer(t, address, newIdentity(t))
	peer.expectFrame(protocol.FrameChannelsRequest)

	// A zero length prefix is a framing violation, not a socket failure.
	if _, err := peer.conn.Write([]byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	peer.expectClosed()
	h.waitFor("framing violation reported as a protocol error", func(snapshot Snapshot) bool {
		for _, line := range statusLines(snapshot) {
			if strings.Contains(line, "protocol error") && strings.Contains(line, "empty frame") {
				return true
			}
		}
		return false
	})
}

func TestConnectFailureReported(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	h := newHarness(t)
	h.input("/cabal add "+testKeyHex, "/connect "+address)
	h.waitForStatus("connect to " + address + " failed")
}

func TestListenAddressInUse(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	h.input("/listen " + address)
	h.waitForStatus("can't listen")
}

func TestListingsAndWhoami(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal list")
	h.waitForStatus("no cabals")

	h.input("/cabal add "+testKeyHex, "/join myco", "/nick carol")
	h.input("/cabal list", "/channels", "/connections", "/whoami", "/members myco")
	snapshot := h.waitForStatus("members of #myco (1): carol")
	for _, want := range []string{
		"*  " + testKeyHex,
		"#myco",
		"no connections in cabal " + testKeyHex[:8],
		"you are " + h.identity.PeerID().String() + " (carol)",
	} {
		if !hasStatus(snapshot, want) {
			t.Errorf("status window missing %q:\n%s", want, strings.Join(statusLines(snapshot), "\n"))
		}
	}
}

func TestExitDrainsConnections(t *testing.T) {
	h := newHarness(t)
	h.input("/cabal add " + testKeyHex)
	address := h.listenAddress()
	peer := dialRawPeer(t, address, newIdentity(t))
	peer.expectFrame(protocol.FrameChannelsRequest)

	h.input("/quit")
	if err := h.wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	peer.expectClosed()
	if h.orchestrator.Bus().Publish(UserInput{Line: "/help"}) {
		t.Error("bus still accepts events after Run returned")
	}
	final := h.latest()
	if !final.ShuttingDown {
		t.Error("final snapshot not marked as shutting down")
	}
	cabal, _ := activeCabal(final)
	if len(cabal.Connections) != 0 || len(cabal.Listeners) != 0 {
		t.Errorf("final snapshot still has connections %v or listeners %v", cabal.Connections, cabal.Listeners)
	}
}

func (p *rawPeer) send(frame protocol.Frame) {
	p.t.Helper()
	payload, compression, err := protocol.EncodeFrame(frame)
	if err != nil {
		p.t.Fatalf("EncodeFrame: %v", err)
	}
	if err := transport.WriteFrame(p.conn, payload, compression); err != nil {
		p.t.Fatalf("WriteFrame: %v", err)
	}
}
