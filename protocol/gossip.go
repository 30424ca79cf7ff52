// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cabin-chat/cabin/lib/clock"
	"github.com/cabin-chat/cabin/lib/ref"
)

// GossipConfig configures a Gossip engine.
type GossipConfig struct {
	Signer Signer
	Store  Store
	Clock  clock.Clock
	Logger *slog.Logger

	// HistoryWindow is how far back JoinChannel replays stored posts
	// and how far back peers are asked for history.
	HistoryWindow time.Duration
}

// Gossip is a flooding engine: every previously unseen post is stored,
// applied and forwarded to every peer except the one it came from.
type Gossip struct {
	signer        Signer
	self          ref.PeerID
	store         Store
	clock         clock.Clock
	logger        *slog.Logger
	historyWindow time.Duration

	peers   []ref.PeerID
	joined  map[string]bool
	members map[string]map[ref.PeerID]bool
	topics  map[string]string
	nicks   map[ref.PeerID]string
	known   map[string]bool
	nick    string

	// profiles holds the newest info post per author. Info posts have
	// no channel, so history requests never carry them; Join hands
	// them to each new peer instead.
	profiles map[ref.PeerID]Post
}

var _ Engine = (*Gossip)(nil)

// NewGossip returns an engine with no peers and no joined channels.
func NewGossip(config GossipConfig) (*Gossip, error) {
	if config.Signer == nil || config.Store == nil || config.Clock == nil {
		return nil, errors.New("gossip engine requires a signer, a store and a clock")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	engine := &Gossip{
		signer:        config.Signer,
		self:          config.Signer.PeerID(),
		store:         config.Store,
		clock:         config.Clock,
		logger:        logger,
		historyWindow: config.HistoryWindow,
		joined:        make(map[string]bool),
		members:       make(map[string]map[ref.PeerID]bool),
		topics:        make(map[string]string),
		nicks:         make(map[ref.PeerID]string),
		known:         make(map[string]bool),
		profiles:      make(map[ref.PeerID]Post),
	}
	stored, err := config.Store.Range("", 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("loading stored nicknames: %w", err)
	}
	var restored Result
	for i := range stored {
		engine.apply(&stored[i], &restored)
	}
	engine.nick = engine.nicks[engine.self]

	channels, err := config.Store.Channels()
	if err != nil {
		return nil, fmt.Errorf("listing stored channels: %w", err)
	}
	for _, channel := range channels {
		engine.known[channel] = true
	}
	return engine, nil
}

// Join implements Engine.
func (g *Gossip) Join(peer ref.PeerID) Result {
	var result Result
	if slices.Contains(g.peers, peer) {
		return result
	}
	g.peers = append(g.peers, peer)
	result.emit(PeerVerified{Peer: peer})
	profiles := g.profilePosts()
	for len(profiles) > 0 {
		batch := profiles[:min(len(profiles), MaxHistoryPosts)]
		profiles = profiles[len(batch):]
		result.send(peer, Frame{Type: FrameHistoryResponse, Posts: batch})
	}
	result.send(peer, Frame{Type: FrameChannelsRequest})
	for _, channel := range g.joinedChannels() {
		result.send(peer, Frame{Type: FrameHistoryRequest, Request: g.historyRequest(channel)})
	}
	return result
}

// Leave implements Engine.
func (g *Gossip) Leave(peer ref.PeerID) Result {
	var result Result
	index := slices.Index(g.peers, peer)
	if index < 0 {
		return result
	}
	g.peers = slices.Delete(g.peers, index, index+1)
	for _, channel := range g.sortedMemberChannels() {
		if g.members[channel][peer] {
			delete(g.members[channel], peer)
			result.emit(MembershipChanged{Channel: channel, Peer: peer, Nick: g.nicks[peer], Joined: false, Time: g.clock.Now()})
		}
	}
	return result
}

// JoinChannel implements Engine.
func (g *Gossip) JoinChannel(channel string) (Result, error) {
	if err := ValidateChannel(channel); err != nil {
		return Result{}, err
	}
	var result Result
	if g.joined[channel] {
		return result, nil
	}
	g.joined[channel] = true

	since := g.clock.Now().Add(-g.historyWindow).UnixMilli()
	stored, err := g.store.Range(channel, since, 0, MaxHistoryPosts)
	if err != nil {
		g.logger.Warn("replaying stored history failed", "channel", channel, "error", err)
	}
	for i := range stored {
		g.apply(&stored[i], &result)
	}

	if _, err := g.publish(Post{Channel: channel, Kind: KindJoin}, &result); err != nil {
		return Result{}, err
	}
	for _, peer := range g.peers {
		result.send(peer, Frame{Type: FrameHistoryRequest, Request: g.historyRequest(channel)})
	}
	return result, nil
}

// LeaveChannel implements Engine.
func (g *Gossip) LeaveChannel(channel string) (Result, error) {
	if !g.joined[channel] {
		return Result{}, fmt.Errorf("%w: %s", ErrNotJoined, channel)
	}
	var result Result
	if _, err := g.publish(Post{Channel: channel, Kind: KindLeave}, &result); err != nil {
		return Result{}, err
	}
	delete(g.joined, channel)
	return result, nil
}

// Post implements Engine.
func (g *Gossip) Post(channel, body string) (Result, error) {
	if !g.joined[channel] {
		return Result{}, fmt.Errorf("%w: %s", ErrNotJoined, channel)
	}
	if len(body) > MaxBodySize {
		return Result{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrBodyTooLarge, len(body), MaxBodySize)
	}
	var result Result
	_, err := g.publish(Post{Channel: channel, Kind: KindText, Body: body}, &result)
	return result, err
}

// RequestHistory implements Engine.
func (g *Gossip) RequestHistory(channel string, span Range) Result {
	var result Result
	request := &HistoryRequest{Channel: channel, Since: span.Since.UnixMilli()}
	if !span.Until.IsZero() {
		request.Until = span.Until.UnixMilli()
	}
	for _, peer := range g.peers {
		result.send(peer, Frame{Type: FrameHistoryRequest, Request: request})
	}
	return result
}

// SetTopic implements Engine.
func (g *Gossip) SetTopic(channel, topic string) (Result, error) {
	if !g.joined[channel] {
		return Result{}, fmt.Errorf("%w: %s", ErrNotJoined, channel)
	}
	if len(topic) > MaxBodySize {
		return Result{}, fmt.Errorf("%w: topic is %d bytes", ErrBodyTooLarge, len(topic))
	}
	var result Result
	_, err := g.publish(Post{Channel: channel, Kind: KindTopic, Body: topic}, &result)
	return result, err
}

// SetNick implements Engine.
func (g *Gossip) SetNick(nick string) Result {
	var result Result
	if nick == g.nick {
		return result
	}
	if _, err := g.publish(Post{Kind: KindInfo, Body: nick}, &result); err != nil {
		g.logger.Error("publishing nick failed", "error", err)
		return Result{}
	}
	g.nick = nick
	return result
}

// Ingest implements Engine.
func (g *Gossip) Ingest(peer ref.PeerID, frame Frame) (Result, error) {
	var result Result
	switch frame.Type {
	case FramePost:
		if err := g.receive(frame.Post, peer, true, &result); err != nil {
			return Result{}, err
		}

	case FrameHistoryResponse:
		for i := range frame.Posts {
			if err := g.receive(&frame.Posts[i], peer, false, &result); err != nil {
				return Result{}, err
			}
		}

	case FrameHistoryRequest:
		request := frame.Request
		limit := request.Limit
		if limit <= 0 || limit > MaxHistoryPosts {
			limit = MaxHistoryPosts
		}
		posts, err := g.store.Range(request.Channel, request.Since, request.Until, limit)
		if err != nil {
			g.logger.Warn("serving history failed", "channel", request.Channel, "error", err)
			return result, nil
		}
		if len(posts) > 0 {
			result.send(peer, Frame{Type: FrameHistoryResponse, Posts: posts})
		}

	case FrameChannelsRequest:
		result.send(peer, Frame{Type: FrameChannelsResponse, Channels: g.channelList()})

	case FrameChannelsResponse:
		for _, channel := range frame.Channels {
			g.discover(channel, &result)
		}

	case FramePing:
		result.send(peer, Frame{Type: FramePong, Nonce: frame.Nonce})

	case FramePong:

	default:
		return Result{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, frame.Type)
	}
	return result, nil
}

// publish signs, stores, applies and broadcasts a local post.
func (g *Gossip) publish(post Post, result *Result) (PostID, error) {
	post.Time = g.clock.Now().UnixMilli()
	if err := post.Sign(g.signer); err != nil {
		return PostID{}, err
	}
	id, err := post.ID()
	if err != nil {
		return PostID{}, err
	}
	if _, err := g.store.Put(id, post); err != nil {
		return PostID{}, fmt.Errorf("storing post: %w", err)
	}
	g.applyWithID(&post, id, result)
	for _, peer := range g.peers {
		result.send(peer, Frame{Type: FramePost, Post: &post})
	}
	return id, nil
}

// receive handles a post from the network. Posts already stored are
// dropped; new ones are verified, stored, applied and, when forward is
// set, relayed to every other peer.
func (g *Gossip) receive(post *Post, from ref.PeerID, forward bool, result *Result) error {
	id, err := post.ID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPost, err)
	}
	if g.store.Has(id) {
		return nil
	}
	if err := post.Verify(); err != nil {
		return err
	}
	if _, err := g.store.Put(id, *post); err != nil {
		g.logger.Error("storing received post failed", "post", id.Short(), "error", err)
		return nil
	}
	g.applyWithID(post, id, result)
	if !forward {
		return nil
	}
	for _, peer := range g.peers {
		if peer != from {
			result.send(peer, Frame{Type: FramePost, Post: post})
		}
	}
	return nil
}

func (g *Gossip) apply(post *Post, result *Result) {
	id, err := post.ID()
	if err != nil {
		g.logger.Warn("stored post does not encode", "error", err)
		return
	}
	g.applyWithID(post, id, result)
}

// applyWithID turns a post into events and updates engine state.
func (g *Gossip) applyWithID(post *Post, id PostID, result *Result) {
	when := post.Timestamp()
	switch post.Kind {
	case KindInfo:
		if latest, ok := g.profiles[post.Author]; ok && latest.Time > post.Time {
			return
		}
		g.profiles[post.Author] = *post
		if g.nicks[post.Author] != post.Body {
			g.nicks[post.Author] = post.Body
			result.emit(NickChanged{Peer: post.Author, Nick: post.Body})
		}
		return

	case KindText:
		g.discover(post.Channel, result)
		g.addMember(post.Channel, post.Author, when, result)
		result.emit(MessagePosted{
			Channel: post.Channel,
			Message: Message{ID: id, Author: post.Author, Nick: g.nicks[post.Author], Time: when, Body: post.Body},
		})

	case KindJoin:
		g.discover(post.Channel, result)
		g.addMember(post.Channel, post.Author, when, result)

	case KindLeave:
		if g.members[post.Channel][post.Author] {
			delete(g.members[post.Channel], post.Author)
			result.emit(MembershipChanged{Channel: post.Channel, Peer: post.Author, Nick: g.nicks[post.Author], Joined: false, Time: when})
		}

	case KindTopic:
		g.discover(post.Channel, result)
		if g.topics[post.Channel] != post.Body {
			g.topics[post.Channel] = post.Body
			result.emit(TopicChanged{Channel: post.Channel, Topic: post.Body, By: post.Author, Nick: g.nicks[post.Author], Time: when})
		}
	}
}

func (g *Gossip) addMember(channel string, peer ref.PeerID, when time.Time, result *Result) {
	members := g.members[channel]
	if members == nil {
		members = make(map[ref.PeerID]bool)
		g.members[channel] = members
	}
	if members[peer] {
		return
	}
	members[peer] = true
	result.emit(MembershipChanged{Channel: channel, Peer: peer, Nick: g.nicks[peer], Joined: true, Time: when})
}

func (g *Gossip) discover(channel string, result *Result) {
	if g.known[channel] {
		return
	}
	g.known[channel] = true
	result.emit(ChannelDiscovered{Channel: channel})
}

func (g *Gossip) historyRequest(channel string) *HistoryRequest {
	return &HistoryRequest{
		Channel: channel,
		Since:   g.clock.Now().Add(-g.historyWindow).UnixMilli(),
		Limit:   MaxHistoryPosts,
	}
}

func (g *Gossip) joinedChannels() []string {
	channels := make([]string, 0, len(g.joined))
	for channel := range g.joined {
		channels = append(channels, channel)
	}
	slices.Sort(channels)
	return channels
}

func (g *Gossip) sortedMemberChannels() []string {
	channels := make([]string, 0, len(g.members))
	for channel := range g.members {
		channels = append(channels, channel)
	}
	slices.Sort(channels)
	return channels
}

// profilePosts returns the newest info post of every known author,
// ordered by author.
func (g *Gossip) profilePosts() []Post {
	authors := make([]ref.PeerID, 0, len(g.profiles))
	for author := range g.profiles {
		authors = append(authors, author)
	}
	slices.SortFunc(authors, ref.PeerID.Compare)
	posts := make([]Post, 0, len(authors))
	for _, author := range authors {
		posts = append(posts, g.profiles[author])
	}
	return posts
}

func (g *Gossip) channelList() []string {
	channels := make([]string, 0, len(g.known))
	for channel := range g.known {
		channels = append(channels, channel)
	}
	slices.Sort(channels)
	return channels
}
