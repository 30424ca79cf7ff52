// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides peer-to-peer byte streams for cabin: TCP
// listening and dialing, the per-connection identity handshake, and
// length-prefixed framing.
//
// [Listener] accepts raw inbound sockets and [Dialer] opens outbound
// ones. [TCPListener] and [TCPDialer] are the implementations; the
// session layer depends only on the interfaces so tests can substitute
// net.Pipe.
//
// [Handshake] runs once per socket, before any frame. Both sides send a
// hello carrying their Ed25519 public key, a random nonce and the
// cabal's discovery id (an HKDF derivation of the cabal key, so the key
// itself never crosses the wire). Each side then signs
// (peer nonce || peer key || discovery id) and verifies the other's
// signature. A peer that names a different cabal, presents our own key
// or signs incorrectly is rejected with [ErrCabalMismatch],
// [ErrSelfConnection] or [ErrBadSignature].
//
// After the handshake the stream is a sequence of frames written with
// [WriteFrame] and read with [ReadFrame]: a 4-byte big-endian body
// length, a 1-byte [Compression] tag and the payload. Payloads larger
// than 1 KiB may be LZ4 compressed; history batches use zstd. A
// payload that does not shrink is sent uncompressed.
package transport
