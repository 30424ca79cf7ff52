// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references for
// cabin: [CabalKey] names a chat network and [PeerID] names a verified
// participant (an Ed25519 public key).
//
// Both are 32-byte values with a lowercase hex canonical form. Parsing
// rejects empty, odd-length, non-hex and wrongly sized input with a
// message that says which of those it was. Text marshalling uses the hex
// form, so the types serialize the same way in YAML config, CBOR frames
// and on-disk records.
package ref
