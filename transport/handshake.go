// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/cabin-chat/cabin/lib/ref"
)

// ProtocolVersion is the handshake version this build speaks.
const ProtocolVersion = 1

// helloMagic opens every hello so that a non-cabin client is rejected
// on its first bytes.
var helloMagic = [4]byte{'C', 'A', 'B', 'N'}

const (
	nonceSize     = 32
	signatureSize = ed25519.SignatureSize

	// hello: magic, version, public key, discovery id, nonce.
	helloSize = len(helloMagic) + 1 + ref.KeySize + DiscoveryIDSize + nonceSize
)

// DiscoveryIDSize is the length of a cabal discovery id.
const DiscoveryIDSize = 32

// discoveryInfo is the HKDF info string for discovery ids.
const discoveryInfo = "cabin discovery id v1"

// Handshake failures. Each is wrapped with context; match with
// errors.Is.
var (
	ErrBadHello       = errors.New("malformed hello")
	ErrVersion        = errors.New("unsupported protocol version")
	ErrCabalMismatch  = errors.New("peer is in a different cabal")
	ErrSelfConnection = errors.New("connected to self")
	ErrBadSignature   = errors.New("peer signature did not verify")
)

// Signer is the local identity as the handshake needs it.
type Signer interface {
	PeerID() ref.PeerID
	Sign(message []byte) []byte
}

// DiscoveryID derives the value peers compare to confirm they share a
// cabal.
func DiscoveryID(cabal ref.CabalKey) [DiscoveryIDSize]byte {
	key := cabal.Bytes()
	reader := hkdf.New(sha256.New, key[:], nil, []byte(discoveryInfo))
	var id [DiscoveryIDSize]byte
	if _, err := io.ReadFull(reader, id[:]); err != nil {
		// HKDF-SHA256 can produce 255*32 bytes; 32 never fails.
		panic("transport: hkdf: " + err.Error())
	}
	return id
}

// hello is the first message in each direction.
type hello struct {
	version   byte
	peer      ref.PeerID
	discovery [DiscoveryIDSize]byte
	nonce     [nonceSize]byte
}

func (h *hello) marshal() []byte {
	buffer := make([]byte, 0, helloSize)
	buffer = append(buffer, helloMagic[:]...)
	buffer = append(buffer, h.version)
	buffer = append(buffer, h.peer.Bytes()...)
	buffer = append(buffer, h.discovery[:]...)
	buffer = append(buffer, h.nonce[:]...)
	return buffer
}

func parseHello(data []byte) (hello, error) {
	var parsed hello
	if len(data) != helloSize || !bytes.Equal(data[:len(helloMagic)], helloMagic[:]) {
		return parsed, ErrBadHello
	}
	data = data[len(helloMagic):]
	parsed.version = data[0]
	data = data[1:]
	peer, err := ref.PeerIDFromBytes(data[:ref.KeySize])
	if err != nil {
		return parsed, fmt.Errorf("%w: %v", ErrBadHello, err)
	}
	parsed.peer = peer
	data = data[ref.KeySize:]
	copy(parsed.discovery[:], data[:DiscoveryIDSize])
	copy(parsed.nonce[:], data[DiscoveryIDSize:])
	return parsed, nil
}

// challenge is the message a peer signs to answer our nonce.
func challenge(nonce [nonceSize]byte, peer ref.PeerID, discovery [DiscoveryIDSize]byte) []byte {
	message := make([]byte, 0, nonceSize+ref.KeySize+DiscoveryIDSize)
	message = append(message, nonce[:]...)
	message = append(message, peer.Bytes()...)
	message = append(message, discovery[:]...)
	return message
}

// Handshake authenticates conn for cabal and returns the verified
// remote identity. Both sides run it concurrently:
//
//  1. Send our hello; read the peer's.
//  2. Reject a version, cabal or self-connection mismatch.
//  3. Sign (peer nonce || peer key || discovery id) and send it.
//  4. Read the peer's signature and verify it over
//     (our nonce || our key || discovery id).
//
// Binding the signature to the challenger's key and the cabal prevents
// a signature captured on one link from being replayed on another.
//
// timeout bounds the whole exchange through a socket deadline, which is
// cleared on success. Writes happen on a background goroutine so that
// synchronous transports (net.Pipe) do not deadlock with both sides
// writing first. A rejected hello lets our own hello finish so the peer
// reaches the same verdict; a failed read forces the deadline into the
// past so the writer unblocks before Handshake returns. The caller
// closes conn.
func Handshake(conn net.Conn, signer Signer, cabal ref.CabalKey, timeout time.Duration) (ref.PeerID, error) {
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return ref.PeerID{}, fmt.Errorf("setting handshake deadline: %w", err)
		}
	}

	own := hello{
		version:   ProtocolVersion,
		peer:      signer.PeerID(),
		discovery: DiscoveryID(cabal),
	}
	if _, err := rand.Read(own.nonce[:]); err != nil {
		return ref.PeerID{}, fmt.Errorf("generating handshake nonce: %w", err)
	}

	writeErrors := make(chan error, 1)
	signatureToSend := make(chan []byte, 1)
	go func() {
		if _, err := conn.Write(own.marshal()); err != nil {
			writeErrors <- fmt.Errorf("sending hello: %w", err)
			return
		}
		signature, ok := <-signatureToSend
		if !ok {
			writeErrors <- nil
			return
		}
		if _, err := conn.Write(signature); err != nil {
			writeErrors <- fmt.Errorf("sending signature: %w", err)
			return
		}
		writeErrors <- nil
	}()

	// abort unblocks a writer whose peer has stopped reading.
	abort := func(err error) (ref.PeerID, error) {
		close(signatureToSend)
		conn.SetDeadline(time.Unix(1, 0))
		<-writeErrors
		return ref.PeerID{}, err
	}
	// reject runs once the peer's hello is read. The peer reads ours
	// before deciding anything, so the writer finishes under the
	// handshake deadline and the peer sees its own rejection rather
	// than EOF.
	reject := func(err error) (ref.PeerID, error) {
		close(signatureToSend)
		<-writeErrors
		return ref.PeerID{}, err
	}

	buffer := make([]byte, helloSize)
	if _, err := io.ReadFull(conn, buffer); err != nil {
		return abort(fmt.Errorf("reading hello: %w", err))
	}
	remote, err := parseHello(buffer)
	if err != nil {
		return abort(err)
	}
	switch {
	case remote.version != ProtocolVersion:
		return reject(fmt.Errorf("%w: peer speaks %d, we speak %d", ErrVersion, remote.version, ProtocolVersion))
	case remote.discovery != own.discovery:
		return reject(ErrCabalMismatch)
	case remote.peer == own.peer:
		return reject(ErrSelfConnection)
	}

	signatureToSend <- signer.Sign(challenge(remote.nonce, remote.peer, own.discovery))

	peerSignature := make([]byte, signatureSize)
	if _, err := io.ReadFull(conn, peerSignature); err != nil {
		conn.SetDeadline(time.Unix(1, 0))
		<-writeErrors
		return ref.PeerID{}, fmt.Errorf("reading signature: %w", err)
	}
	if err := <-writeErrors; err != nil {
		return ref.PeerID{}, err
	}

	publicKey := ed25519.PublicKey(remote.peer.Bytes())
	if !ed25519.Verify(publicKey, challenge(own.nonce, own.peer, own.discovery), peerSignature) {
		return ref.PeerID{}, fmt.Errorf("%w (peer %s)", ErrBadSignature, remote.peer.Short())
	}

	if timeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			return ref.PeerID{}, fmt.Errorf("clearing handshake deadline: %w", err)
		}
	}
	return remote.peer, nil
}
