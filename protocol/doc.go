// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the chat protocol engine that the session
// core drives, and ships the [Gossip] implementation.
//
// The session layer talks to one [Engine] per cabal through a narrow
// contract: join and leave peers, join and leave channels, post, set a
// topic or nick, request history, and ingest frames received from a
// verified peer. Every call returns a [Result]: protocol [Event] values
// for the session to apply to its channel state, and [Outbound] frames
// addressed to specific peers. The engine never performs I/O itself and
// is only called from the orchestrator goroutine, so it holds no locks.
//
// On the wire, everything after the transport handshake is a CBOR
// [Frame]. Chat content travels as a signed [Post]: the author signs
// the deterministic CBOR encoding of the post, and the post's [PostID]
// is a BLAKE3 keyed hash of the signed encoding. Gossip forwards every
// post it has not seen before to all other peers and drops posts whose
// id it already stores, so a post relayed around a cycle is applied
// exactly once.
//
// Posts are persisted through a [Store]: [MemoryStore] for ephemeral
// sessions and [DiskStore] (one file per post, diskv) for history that
// survives restarts.
package protocol
