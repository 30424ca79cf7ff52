// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/peterbourgon/diskv/v3"

	"github.com/cabin-chat/cabin/lib/codec"
)

// DiskStore keeps one CBOR file per post under a base directory,
// grouped into one subdirectory per channel:
//
//	<base>/<hex channel>/<unix ms, 16 hex digits>.<post id>
//
// Channel names are hex encoded so any valid name is a safe directory
// name. The time prefix keeps a directory listing in post order. The
// index of ids and times is rebuilt from file names at open; post
// contents are read on demand through diskv's cache.
type DiskStore struct {
	mu     sync.Mutex
	disk   *diskv.Diskv
	index  channelIndex
	logger *slog.Logger
}

var _ Store = (*DiskStore)(nil)

// infoDirectory holds channel-less posts. Hex output never contains
// '_', so it cannot collide with a channel.
const infoDirectory = "_info"

// OpenDiskStore opens (creating if needed) the store rooted at basePath.
func OpenDiskStore(basePath string, logger *slog.Logger) (*DiskStore, error) {
	store := &DiskStore{
		disk: diskv.New(diskv.Options{
			BasePath:          basePath,
			AdvancedTransform: postKeyToPath,
			InverseTransform:  postPathToKey,
			CacheSizeMax:      4 << 20,
			FilePerm:          0o600,
			PathPerm:          0o700,
		}),
		index:  newChannelIndex(),
		logger: logger,
	}

	cancel := make(chan struct{})
	defer close(cancel)
	for key := range store.disk.Keys(cancel) {
		channel, entry, err := parsePostKey(key)
		if err != nil {
			logger.Warn("skipping unrecognized file in post store", "key", key, "error", err)
			continue
		}
		store.index.insert(channel, entry)
	}
	return store, nil
}

// Put implements Store.
func (s *DiskStore) Put(id PostID, post Post) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index.ids[id]; exists {
		return false, nil
	}
	data, err := codec.Marshal(post)
	if err != nil {
		return false, fmt.Errorf("encoding post %s: %w", id.Short(), err)
	}
	entry := storedRef{time: post.Time, id: id}
	if err := s.disk.Write(postKey(post.Channel, entry), data); err != nil {
		return false, fmt.Errorf("writing post %s: %w", id.Short(), err)
	}
	s.index.insert(post.Channel, entry)
	return true, nil
}

// Has implements Store.
func (s *DiskStore) Has(id PostID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.index.ids[id]
	return exists
}

// Range implements Store.
func (s *DiskStore) Range(channel string, since, until int64, limit int) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.index.window(channel, since, until, limit)
	posts := make([]Post, 0, len(refs))
	for _, entry := range refs {
		data, err := s.disk.Read(postKey(channel, entry))
		if err != nil {
			return nil, fmt.Errorf("reading post %s: %w", entry.id.Short(), err)
		}
		var post Post
		if err := codec.Unmarshal(data, &post); err != nil {
			return nil, fmt.Errorf("decoding post %s: %w", entry.id.Short(), err)
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// Channels implements Store.
func (s *DiskStore) Channels() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.names(), nil
}

// postKey is "<directory>/<time>.<id>".
func postKey(channel string, entry storedRef) string {
	directory := infoDirectory
	if channel != "" {
		directory = hex.EncodeToString([]byte(channel))
	}
	return fmt.Sprintf("%s/%016x.%s", directory, uint64(entry.time), entry.id)
}

func parsePostKey(key string) (string, storedRef, error) {
	directory, name, found := strings.Cut(key, "/")
	if !found {
		return "", storedRef{}, fmt.Errorf("no channel directory")
	}
	channel := ""
	if directory != infoDirectory {
		decoded, err := hex.DecodeString(directory)
		if err != nil {
			return "", storedRef{}, fmt.Errorf("channel directory: %w", err)
		}
		channel = string(decoded)
	}
	timeText, idText, found := strings.Cut(name, ".")
	if !found {
		return "", storedRef{}, fmt.Errorf("file name has no id")
	}
	timestamp, err := strconv.ParseUint(timeText, 16, 64)
	if err != nil {
		return "", storedRef{}, fmt.Errorf("file time: %w", err)
	}
	id, err := ParsePostID(idText)
	if err != nil {
		return "", storedRef{}, err
	}
	return channel, storedRef{time: int64(timestamp), id: id}, nil
}

func postKeyToPath(key string) *diskv.PathKey {
	directory, name, _ := strings.Cut(key, "/")
	return &diskv.PathKey{Path: []string{directory}, FileName: name}
}

func postPathToKey(pathKey *diskv.PathKey) string {
	return strings.Join(pathKey.Path, "/") + "/" + pathKey.FileName
}
