// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides cabin's CBOR encoding configuration.
//
// Everything cabin sends to a peer after the handshake is CBOR: frame
// envelopes, posts, history and channel listings. The on-disk post
// store uses the same encoding so a stored post can be re-sent to a
// peer byte for byte. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The signed portion of a post therefore has
// exactly one byte representation.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Wire types use `cbor` struct tags. Configuration types use `yaml`
// tags and never pass through this package.
package codec
