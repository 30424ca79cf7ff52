// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/cabin-chat/cabin/lib/codec"
	"github.com/cabin-chat/cabin/lib/identity"
	"github.com/cabin-chat/cabin/lib/ref"
)

// PostKind distinguishes chat lines from channel state changes.
type PostKind string

const (
	KindText  PostKind = "text"
	KindJoin  PostKind = "join"
	KindLeave PostKind = "leave"
	KindTopic PostKind = "topic"
	// KindInfo carries the author's display name in Body. Info posts
	// have no channel.
	KindInfo PostKind = "info"
)

const (
	// MaxBodySize bounds a post body in bytes.
	MaxBodySize = 16 << 10

	// MaxChannelLength bounds a channel name in bytes.
	MaxChannelLength = 64
)

// Post is the signed unit of chat content.
type Post struct {
	Author    ref.PeerID `cbor:"author"`
	Channel   string     `cbor:"channel,omitempty"`
	Time      int64      `cbor:"time"` // Unix milliseconds.
	Kind      PostKind   `cbor:"kind"`
	Body      string     `cbor:"body,omitempty"`
	Signature []byte     `cbor:"sig,omitempty"`
}

// Timestamp returns the post time as a time.Time.
func (p *Post) Timestamp() time.Time { return time.UnixMilli(p.Time) }

// signedBytes is the deterministic encoding of everything but the
// signature.
func (p *Post) signedBytes() ([]byte, error) {
	unsigned := *p
	unsigned.Signature = nil
	return codec.Marshal(unsigned)
}

// Sign fills in Author and Signature from signer.
func (p *Post) Sign(signer Signer) error {
	p.Author = signer.PeerID()
	message, err := p.signedBytes()
	if err != nil {
		return fmt.Errorf("encoding post for signing: %w", err)
	}
	p.Signature = signer.Sign(message)
	return nil
}

// Verify checks the post's shape and its author's signature.
func (p *Post) Verify() error {
	if p.Author.IsZero() {
		return fmt.Errorf("%w: no author", ErrBadPost)
	}
	switch p.Kind {
	case KindText, KindJoin, KindLeave, KindTopic:
		if err := ValidateChannel(p.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPost, err)
		}
	case KindInfo:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrBadPost, p.Kind)
	}
	if len(p.Body) > MaxBodySize {
		return fmt.Errorf("%w: body is %d bytes", ErrBadPost, len(p.Body))
	}
	message, err := p.signedBytes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPost, err)
	}
	if !identity.Verify(p.Author, message, p.Signature) {
		return fmt.Errorf("%w: signature does not match author %s", ErrBadPost, p.Author.Short())
	}
	return nil
}

// ID returns the post's content address.
func (p *Post) ID() (PostID, error) {
	encoded, err := codec.Marshal(p)
	if err != nil {
		return PostID{}, fmt.Errorf("encoding post: %w", err)
	}
	return hashPost(encoded), nil
}

// ValidateChannel checks a channel name: non-empty UTF-8 without
// whitespace or control characters, at most MaxChannelLength bytes.
func ValidateChannel(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if len(name) > MaxChannelLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidChannel, MaxChannelLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: not UTF-8", ErrInvalidChannel)
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r <= ' ' || r == 0x7f }) {
		return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidChannel, name)
	}
	return nil
}

// Signer is the local identity as the engine needs it.
type Signer interface {
	PeerID() ref.PeerID
	Sign(message []byte) []byte
}

// PostID is a 32-byte BLAKE3 keyed hash of a signed post.
type PostID [32]byte

// String returns the lowercase hex form.
func (id PostID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first eight hex characters.
func (id PostID) Short() string { return id.String()[:8] }

// IsZero reports whether the id is unset (local status lines).
func (id PostID) IsZero() bool { return id == PostID{} }

// ParsePostID decodes the hex form.
func ParsePostID(raw string) (PostID, error) {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return PostID{}, fmt.Errorf("post id is not hex: %w", err)
	}
	if len(decoded) != len(PostID{}) {
		return PostID{}, fmt.Errorf("post id must be 32 bytes, got %d", len(decoded))
	}
	var id PostID
	copy(id[:], decoded)
	return id, nil
}

// postDomainKey is the ASCII name of the hash domain, zero-padded to
// 32 bytes. Changing it changes every post id.
var postDomainKey = [32]byte{
	'c', 'a', 'b', 'i', 'n', '.', 'p', 'o', 's', 't', '.', 'i', 'd', 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func hashPost(encoded []byte) PostID {
	hasher, err := blake3.NewKeyed(postDomainKey[:])
	if err != nil {
		panic("protocol: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var id PostID
	copy(id[:], hasher.Sum(nil))
	return id
}
