// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// KeySize is the length in bytes of every key-shaped identifier: cabal
// keys and Ed25519 peer public keys.
const KeySize = 32

// shortLength is the number of hex characters shown by Short.
const shortLength = 8

// key is the shared 32-byte representation behind CabalKey and PeerID.
type key [KeySize]byte

func parseKey(kind, raw string) (key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return key{}, fmt.Errorf("empty %s", kind)
	}
	if len(raw)%2 != 0 {
		return key{}, fmt.Errorf("%s has odd length %d: %q", kind, len(raw), raw)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return key{}, fmt.Errorf("%s is not hex: %w", kind, err)
	}
	if len(decoded) != KeySize {
		return key{}, fmt.Errorf("%s must be %d bytes (%d hex characters), got %d bytes",
			kind, KeySize, KeySize*2, len(decoded))
	}
	var result key
	copy(result[:], decoded)
	return result, nil
}

func (k key) hex() string { return hex.EncodeToString(k[:]) }

func (k key) isZero() bool { return k == key{} }

// colourIndex sums the key bytes and reduces modulo the palette size.
func (k key) colourIndex(paletteSize int) int {
	if paletteSize <= 0 {
		return 0
	}
	sum := 0
	for _, b := range k {
		sum += int(b)
	}
	return sum % paletteSize
}

// CabalKey identifies one cabal (one logical chat network). It is the
// shared secret every member uses to join; it never crosses the wire
// in the clear (the handshake exchanges a derived discovery id).
//
// CabalKey is an immutable value type. The zero value is not valid;
// use IsZero to check.
type CabalKey struct {
	k key
}

// ParseCabalKey decodes a 64-character hex cabal key.
func ParseCabalKey(raw string) (CabalKey, error) {
	parsed, err := parseKey("cabal key", raw)
	if err != nil {
		return CabalKey{}, err
	}
	return CabalKey{k: parsed}, nil
}

// MustParseCabalKey is like ParseCabalKey but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseCabalKey(raw string) CabalKey {
	parsed, err := ParseCabalKey(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseCabalKey(%q): %v", raw, err))
	}
	return parsed
}

// CabalKeyFromBytes wraps raw key bytes.
func CabalKeyFromBytes(raw [KeySize]byte) CabalKey { return CabalKey{k: raw} }

// Bytes returns a copy of the key bytes.
func (c CabalKey) Bytes() [KeySize]byte { return c.k }

// String returns the full lowercase hex form.
func (c CabalKey) String() string { return c.k.hex() }

// Short returns the first eight hex characters for headers and lists.
func (c CabalKey) Short() string { return c.k.hex()[:shortLength] }

// IsZero reports whether the CabalKey is the zero value.
func (c CabalKey) IsZero() bool { return c.k.isZero() }

// MarshalText implements encoding.TextMarshaler.
func (c CabalKey) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return nil, nil
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (c *CabalKey) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*c = CabalKey{}
		return nil
	}
	parsed, err := ParseCabalKey(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// PeerID is the verified Ed25519 public key of a chat participant. It
// is established by the transport handshake and is the registry key
// for peer connections.
//
// PeerID is an immutable value type. The zero value means "no verified
// identity yet"; use IsZero to check.
type PeerID struct {
	k key
}

// ParsePeerID decodes a 64-character hex public key.
func ParsePeerID(raw string) (PeerID, error) {
	parsed, err := parseKey("peer id", raw)
	if err != nil {
		return PeerID{}, err
	}
	return PeerID{k: parsed}, nil
}

// MustParsePeerID is like ParsePeerID but panics on error.
func MustParsePeerID(raw string) PeerID {
	parsed, err := ParsePeerID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParsePeerID(%q): %v", raw, err))
	}
	return parsed
}

// PeerIDFromBytes wraps a raw public key. Returns an error unless the
// slice is exactly KeySize bytes.
func PeerIDFromBytes(raw []byte) (PeerID, error) {
	if len(raw) != KeySize {
		return PeerID{}, fmt.Errorf("peer id must be %d bytes, got %d", KeySize, len(raw))
	}
	var parsed key
	copy(parsed[:], raw)
	return PeerID{k: parsed}, nil
}

// Bytes returns the public key as a slice (a copy).
func (p PeerID) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, p.k[:])
	return out
}

// String returns the full lowercase hex form.
func (p PeerID) String() string { return p.k.hex() }

// Short returns the first eight hex characters.
func (p PeerID) Short() string { return p.k.hex()[:shortLength] }

// IsZero reports whether the PeerID is unset.
func (p PeerID) IsZero() bool { return p.k.isZero() }

// ColourIndex picks a stable palette slot from the sum of the key
// bytes, so a peer is drawn in the same colour on every client.
func (p PeerID) ColourIndex(paletteSize int) int { return p.k.colourIndex(paletteSize) }

// Compare orders peer ids bytewise. Used for deterministic listings.
func (p PeerID) Compare(other PeerID) int {
	return strings.Compare(string(p.k[:]), string(other.k[:]))
}

// MarshalText implements encoding.TextMarshaler.
func (p PeerID) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return nil, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PeerID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = PeerID{}
		return nil
	}
	parsed, err := ParsePeerID(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
