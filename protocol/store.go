// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"slices"
	"sync"
)

// Store persists verified posts for one cabal.
type Store interface {
	// Put stores post under id. added is false when id was already
	// present, in which case nothing is written.
	Put(id PostID, post Post) (added bool, err error)

	// Has reports whether id is stored.
	Has(id PostID) bool

	// Range returns channel posts with Since <= Time <= Until (Unix
	// milliseconds; zero until means no bound), oldest first. With
	// limit > 0 only the newest limit posts are returned.
	Range(channel string, since, until int64, limit int) ([]Post, error)

	// Channels lists every channel with at least one stored post, in
	// lexical order. Channel-less info posts are not listed.
	Channels() ([]string, error)
}

// storedRef locates a post within a channel index.
type storedRef struct {
	time int64
	id   PostID
}

func compareRefs(a, b storedRef) int {
	if a.time != b.time {
		if a.time < b.time {
			return -1
		}
		return 1
	}
	return slices.Compare(a.id[:], b.id[:])
}

// channelIndex keeps each channel's posts ordered by (time, id). Both
// stores use it; MemoryStore also keeps the posts themselves.
type channelIndex struct {
	ids      map[PostID]string
	channels map[string][]storedRef
}

func newChannelIndex() channelIndex {
	return channelIndex{ids: make(map[PostID]string), channels: make(map[string][]storedRef)}
}

func (x *channelIndex) insert(channel string, entry storedRef) {
	x.ids[entry.id] = channel
	refs := x.channels[channel]
	position, _ := slices.BinarySearchFunc(refs, entry, compareRefs)
	x.channels[channel] = slices.Insert(refs, position, entry)
}

// window returns the refs in [since, until], trimmed to the newest
// limit.
func (x *channelIndex) window(channel string, since, until int64, limit int) []storedRef {
	refs := x.channels[channel]
	start, _ := slices.BinarySearchFunc(refs, storedRef{time: since}, compareRefs)
	end := len(refs)
	if until > 0 {
		end, _ = slices.BinarySearchFunc(refs, storedRef{time: until + 1}, compareRefs)
	}
	if start >= end {
		return nil
	}
	selected := refs[start:end]
	if limit > 0 && len(selected) > limit {
		selected = selected[len(selected)-limit:]
	}
	return selected
}

func (x *channelIndex) names() []string {
	names := make([]string, 0, len(x.channels))
	for name := range x.channels {
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// MemoryStore keeps posts in memory for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	index channelIndex
	posts map[PostID]Post
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: newChannelIndex(), posts: make(map[PostID]Post)}
}

// Put implements Store.
func (s *MemoryStore) Put(id PostID, post Post) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.posts[id]; exists {
		return false, nil
	}
	s.posts[id] = post
	s.index.insert(post.Channel, storedRef{time: post.Time, id: id})
	return true, nil
}

// Has implements Store.
func (s *MemoryStore) Has(id PostID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.posts[id]
	return exists
}

// Range implements Store.
func (s *MemoryStore) Range(channel string, since, until int64, limit int) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.index.window(channel, since, until, limit)
	posts := make([]Post, 0, len(refs))
	for _, entry := range refs {
		posts = append(posts, s.posts[entry.id])
	}
	return posts, nil
}

// Channels implements Store.
func (s *MemoryStore) Channels() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.names(), nil
}
