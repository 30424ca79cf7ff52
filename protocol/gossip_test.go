// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/cabin-chat/cabin/lib/clock"
	"github.com/cabin-chat/cabin/lib/identity"
	"github.com/cabin-chat/cabin/lib/ref"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const twoWeeks = 14 * 24 * time.Hour

// node is one engine in an in-memory test network.
type node struct {
	signer *identity.Identity
	engine *Gossip
	store  *MemoryStore
	events []Event
}

// network delivers outbound frames between nodes synchronously.
type network struct {
	t     *testing.T
	clock *clock.FakeClock
	nodes map[ref.PeerID]*node
}

func newNetwork(t *testing.T) *network {
	return &network{t: t, clock: clock.Fake(epoch), nodes: make(map[ref.PeerID]*node)}
}

func (n *network) add() *node {
	n.t.Helper()
	signer := newSigner(n.t)
	store := NewMemoryStore()
	engine, err := NewGossip(GossipConfig{Signer: signer, Store: store, Clock: n.clock, HistoryWindow: twoWeeks})
	if err != nil {
		n.t.Fatalf("NewGossip: %v", err)
	}
	created := &node{signer: signer, engine: engine, store: store}
	n.nodes[signer.PeerID()] = created
	return created
}

type delivery struct {
	from     ref.PeerID
	outbound Outbound
}

// run records result's events on origin and delivers its frames until
// the network is quiet.
func (n *network) run(origin *node, result Result) {
	n.t.Helper()
	origin.events = append(origin.events, result.Events...)
	queue := make([]delivery, 0, len(result.Outbound))
	for _, outbound := range result.Outbound {
		queue = append(queue, delivery{origin.signer.PeerID(), outbound})
	}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 1000 {
			n.t.Fatal("gossip did not converge")
		}
		next := queue[0]
		queue = queue[1:]
		target := n.nodes[next.outbound.To]
		received, err := target.engine.Ingest(next.from, next.outbound.Frame)
		if err != nil {
			n.t.Fatalf("Ingest: %v", err)
		}
		target.events = append(target.events, received.Events...)
		for _, outbound := range received.Outbound {
			queue = append(queue, delivery{target.signer.PeerID(), outbound})
		}
	}
}

func (n *network) link(a, b *node) {
	n.t.Helper()
	n.run(a, a.engine.Join(b.signer.PeerID()))
	n.run(b, b.engine.Join(a.signer.PeerID()))
}

func (n *network) joinChannel(target *node, channel string) {
	n.t.Helper()
	result, err := target.engine.JoinChannel(channel)
	if err != nil {
		n.t.Fatalf("JoinChannel: %v", err)
	}
	n.run(target, result)
}

func messages(events []Event) []Message {
	var found []Message
	for _, event := range events {
		if posted, ok := event.(MessagePosted); ok {
			found = append(found, posted.Message)
		}
	}
	return found
}

func TestGossipPostRequiresJoin(t *testing.T) {
	net := newNetwork(t)
	alone := net.add()
	if _, err := alone.engine.Post("default", "hi"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("Post before join = %v, want ErrNotJoined", err)
	}
	if _, err := alone.engine.SetTopic("default", "t"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("SetTopic before join = %v, want ErrNotJoined", err)
	}
	if _, err := alone.engine.JoinChannel("has space"); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("JoinChannel(invalid) = %v, want ErrInvalidChannel", err)
	}
}

func TestGossipFloodAppliesOnce(t *testing.T) {
	net := newNetwork(t)
	a, b, c := net.add(), net.add(), net.add()
	net.link(a, b)
	net.link(b, c)
	net.link(a, c)
	for _, member := range []*node{a, b, c} {
		net.joinChannel(member, "default")
	}
	c.events = nil

	result, err := a.engine.Post("default", "hello triangle")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	net.run(a, result)

	got := messages(c.events)
	if len(got) != 1 {
		t.Fatalf("c received %d messages, want exactly 1", len(got))
	}
	if got[0].Body != "hello triangle" || got[0].Author != a.signer.PeerID() {
		t.Errorf("message = %+v", got[0])
	}
	if len(messages(a.events)) == 0 {
		t.Error("author did not see a local echo")
	}
}

func TestGossipHistoryOnJoin(t *testing.T) {
	net := newNetwork(t)
	a, b := net.add(), net.add()

	net.joinChannel(a, "default")
	for _, body := range []string{"first", "second"} {
		result, err := a.engine.Post("default", body)
		if err != nil {
			t.Fatal(err)
		}
		net.run(a, result)
		net.clock.Advance(time.Minute)
	}

	net.joinChannel(b, "default")
	net.link(a, b)

	got := messages(b.events)
	if len(got) != 2 || got[0].Body != "first" || got[1].Body != "second" {
		t.Fatalf("b history = %+v, want first and second in order", got)
	}
	var discovered bool
	for _, event := range b.events {
		if changed, ok := event.(MembershipChanged); ok && changed.Peer == a.signer.PeerID() && changed.Joined {
			discovered = true
		}
	}
	if !discovered {
		t.Error("b did not learn that a is a member of default")
	}
}

func TestGossipJoinReplaysStoreWithinWindow(t *testing.T) {
	net := newNetwork(t)
	a := net.add()
	author := newSigner(t)

	old := signedPost(t, author, Post{Channel: "default", Kind: KindText, Body: "ancient", Time: epoch.Add(-3 * twoWeeks).UnixMilli()})
	recent := signedPost(t, author, Post{Channel: "default", Kind: KindText, Body: "recent", Time: epoch.Add(-time.Hour).UnixMilli()})
	for _, post := range []Post{old, recent} {
		id, _ := post.ID()
		a.store.Put(id, post)
	}

	net.joinChannel(a, "default")
	got := messages(a.events)
	if len(got) != 1 || got[0].Body != "recent" {
		t.Errorf("replayed %+v, want only the recent post", got)
	}
}

func TestGossipTopicAndNick(t *testing.T) {
	net := newNetwork(t)
	a, b := net.add(), net.add()
	net.link(a, b)
	net.joinChannel(a, "default")
	net.joinChannel(b, "default")

	net.run(a, a.engine.SetNick("alice"))
	result, err := a.engine.SetTopic("default", "planning")
	if err != nil {
		t.Fatal(err)
	}
	net.run(a, result)

	var sawNick, sawTopic bool
	for _, event := range b.events {
		switch event := event.(type) {
		case NickChanged:
			sawNick = event.Nick == "alice" && event.Peer == a.signer.PeerID()
		case TopicChanged:
			sawTopic = event.Topic == "planning" && event.Nick == "alice"
		}
	}
	if !sawNick {
		t.Error("b did not see a's nick")
	}
	if !sawTopic {
		t.Error("b did not see the topic attributed to alice")
	}

	if again := a.engine.SetNick("alice"); len(again.Events)+len(again.Outbound) != 0 {
		t.Error("setting the same nick again produced effects")
	}
}

func TestGossipNickReachesLaterPeers(t *testing.T) {
	net := newNetwork(t)
	a, b, c := net.add(), net.add(), net.add()
	net.run(a, a.engine.SetNick("alice"))

	net.link(a, b)
	net.joinChannel(a, "default")
	net.joinChannel(b, "default")
	result, err := a.engine.Post("default", "hi")
	if err != nil {
		t.Fatal(err)
	}
	net.run(a, result)

	got := messages(b.events)
	if len(got) != 1 || got[0].Nick != "alice" {
		t.Fatalf("b messages = %+v, want one from alice", got)
	}

	// c never talks to a; b passes alice's nick on.
	net.link(b, c)
	var relayed bool
	for _, event := range c.events {
		if changed, ok := event.(NickChanged); ok && changed.Peer == a.signer.PeerID() && changed.Nick == "alice" {
			relayed = true
		}
	}
	if !relayed {
		t.Error("c did not learn alice's nick from b")
	}
}

func TestGossipNewestNickWins(t *testing.T) {
	net := newNetwork(t)
	a := net.add()
	author := newSigner(t)
	newer := signedPost(t, author, Post{Kind: KindInfo, Body: "new", Time: epoch.UnixMilli()})
	older := signedPost(t, author, Post{Kind: KindInfo, Body: "old", Time: epoch.Add(-time.Hour).UnixMilli()})

	if _, err := a.engine.Ingest(author.PeerID(), Frame{Type: FrameHistoryResponse, Posts: []Post{newer, older}}); err != nil {
		t.Fatal(err)
	}
	if got := a.engine.nicks[author.PeerID()]; got != "new" {
		t.Errorf("nick = %q, want the newest, %q", got, "new")
	}
}

func TestGossipRestoresNicksFromStore(t *testing.T) {
	net := newNetwork(t)
	a := net.add()
	net.run(a, a.engine.SetNick("alice"))

	restarted, err := NewGossip(GossipConfig{Signer: a.signer, Store: a.store, Clock: net.clock, HistoryWindow: twoWeeks})
	if err != nil {
		t.Fatalf("NewGossip: %v", err)
	}
	if again := restarted.SetNick("alice"); len(again.Events)+len(again.Outbound) != 0 {
		t.Error("restored engine republished an unchanged nick")
	}
	peer := newSigner(t).PeerID()
	joined := restarted.Join(peer)
	if len(joined.Outbound) == 0 || joined.Outbound[0].Frame.Type != FrameHistoryResponse {
		t.Fatalf("Join outbound = %+v, want the stored nick first", joined.Outbound)
	}
	if posts := joined.Outbound[0].Frame.Posts; len(posts) != 1 || posts[0].Body != "alice" {
		t.Errorf("nick posts = %+v, want alice's", posts)
	}
}

func TestGossipRejectsForgedPost(t *testing.T) {
	net := newNetwork(t)
	a, b := net.add(), net.add()
	net.link(a, b)

	post := signedPost(t, b.signer, Post{Channel: "default", Kind: KindText, Body: "real", Time: 1})
	post.Body = "forged"
	if _, err := a.engine.Ingest(b.signer.PeerID(), Frame{Type: FramePost, Post: &post}); !errors.Is(err, ErrBadPost) {
		t.Errorf("Ingest(forged) = %v, want ErrBadPost", err)
	}
}

func TestGossipPingPong(t *testing.T) {
	net := newNetwork(t)
	a, b := net.add(), net.add()
	net.link(a, b)

	result, err := a.engine.Ingest(b.signer.PeerID(), Frame{Type: FramePing, Nonce: 99})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Outbound) != 1 || result.Outbound[0].Frame.Type != FramePong || result.Outbound[0].Frame.Nonce != 99 {
		t.Errorf("ping result = %+v, want one pong echoing the nonce", result.Outbound)
	}
}

func TestGossipLeaveDropsMembership(t *testing.T) {
	net := newNetwork(t)
	a, b := net.add(), net.add()
	net.link(a, b)
	net.joinChannel(a, "default")
	net.joinChannel(b, "default")

	result := a.engine.Leave(b.signer.PeerID())
	var left bool
	for _, event := range result.Events {
		if changed, ok := event.(MembershipChanged); ok && changed.Peer == b.signer.PeerID() && !changed.Joined {
			left = true
		}
	}
	if !left {
		t.Errorf("Leave events = %+v, want b leaving default", result.Events)
	}
	if again := a.engine.Leave(b.signer.PeerID()); len(again.Events) != 0 {
		t.Error("second Leave produced events")
	}
}

func TestGossipChannelDiscovery(t *testing.T) {
	net := newNetwork(t)
	a, b := net.add(), net.add()
	net.joinChannel(a, "secret-plans")
	net.link(a, b)

	var discovered bool
	for _, event := range b.events {
		if found, ok := event.(ChannelDiscovered); ok && found.Channel == "secret-plans" {
			discovered = true
		}
	}
	if !discovered {
		t.Error("b did not discover a's channel")
	}
}
