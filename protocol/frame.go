// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"log/slog"

	"github.com/cabin-chat/cabin/lib/codec"
	"github.com/cabin-chat/cabin/transport"
)

// FrameType names a frame's purpose on the wire.
type FrameType string

const (
	FramePost             FrameType = "post"
	FrameHistoryRequest   FrameType = "history_request"
	FrameHistoryResponse  FrameType = "history_response"
	FrameChannelsRequest  FrameType = "channels_request"
	FrameChannelsResponse FrameType = "channels_response"
	FramePing             FrameType = "ping"
	FramePong             FrameType = "pong"
)

// MaxHistoryPosts bounds the posts in one history response, which keeps
// a response well under the transport frame limit.
const MaxHistoryPosts = 200

// Frame is one protocol message. Which fields are set depends on Type.
type Frame struct {
	Type     FrameType       `cbor:"type"`
	Post     *Post           `cbor:"post,omitempty"`
	Request  *HistoryRequest `cbor:"request,omitempty"`
	Posts    []Post          `cbor:"posts,omitempty"`
	Channels []string        `cbor:"channels,omitempty"`
	Nonce    uint64          `cbor:"nonce,omitempty"`
}

// HistoryRequest asks for a channel's posts in [Since, Until] (Unix
// milliseconds). Zero Until means no upper bound.
type HistoryRequest struct {
	Channel string `cbor:"channel"`
	Since   int64  `cbor:"since"`
	Until   int64  `cbor:"until,omitempty"`
	Limit   int    `cbor:"limit,omitempty"`
}

// LogValue keeps frames compact in debug logs.
func (f Frame) LogValue() slog.Value {
	attributes := []slog.Attr{slog.String("type", string(f.Type))}
	switch {
	case f.Post != nil:
		attributes = append(attributes, slog.String("kind", string(f.Post.Kind)), slog.String("channel", f.Post.Channel))
	case f.Request != nil:
		attributes = append(attributes, slog.String("channel", f.Request.Channel))
	case len(f.Posts) > 0:
		attributes = append(attributes, slog.Int("posts", len(f.Posts)))
	case len(f.Channels) > 0:
		attributes = append(attributes, slog.Int("channels", len(f.Channels)))
	}
	return slog.GroupValue(attributes...)
}

// Validate checks that the fields required by Type are present.
// Signatures are checked later by the engine.
func (f *Frame) Validate() error {
	switch f.Type {
	case FramePost:
		if f.Post == nil {
			return fmt.Errorf("%w: post frame without post", ErrMalformedFrame)
		}
	case FrameHistoryRequest:
		if f.Request == nil {
			return fmt.Errorf("%w: history request without request", ErrMalformedFrame)
		}
		if err := ValidateChannel(f.Request.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	case FrameHistoryResponse:
		if len(f.Posts) > MaxHistoryPosts {
			return fmt.Errorf("%w: %d posts in one history response", ErrMalformedFrame, len(f.Posts))
		}
	case FrameChannelsResponse:
		for _, channel := range f.Channels {
			if err := ValidateChannel(channel); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
		}
	case FrameChannelsRequest, FramePing, FramePong:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return nil
}

// EncodeFrame serializes f and picks the compression the transport
// should prefer for it.
func EncodeFrame(f Frame) ([]byte, transport.Compression, error) {
	payload, err := codec.Marshal(f)
	if err != nil {
		return nil, transport.CompressionNone, fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	compression := transport.CompressionLZ4
	if f.Type == FrameHistoryResponse {
		compression = transport.CompressionZstd
	}
	return payload, compression, nil
}

// DecodeFrame parses and validates a frame payload.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := codec.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
