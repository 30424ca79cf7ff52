// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cabin-chat/cabin/lib/identity"
	"github.com/cabin-chat/cabin/lib/netutil"
	"github.com/cabin-chat/cabin/lib/ref"
)

var (
	testCabal  = ref.MustParseCabalKey("11aa22bb33cc44dd55ee66ff778899000112233445566778899aabbccddeeff0")
	otherCabal = ref.MustParseCabalKey("2222222222222222222222222222222222222222222222222222222222222222")
)

func newSigner(t *testing.T) *identity.Identity {
	t.Helper()
	signer, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return signer
}

type handshakeResult struct {
	peer ref.PeerID
	err  error
}

// runPair runs Handshake on both ends of a net.Pipe and returns the two
// results.
func runPair(t *testing.T, alpha Signer, alphaCabal ref.CabalKey, beta Signer, betaCabal ref.CabalKey) (handshakeResult, handshakeResult) {
	t.Helper()
	connAlpha, connBeta := net.Pipe()
	defer connAlpha.Close()
	defer connBeta.Close()

	results := make(chan handshakeResult, 1)
	go func() {
		peer, err := Handshake(connBeta, beta, betaCabal, 5*time.Second)
		if err != nil {
			connBeta.Close()
		}
		results <- handshakeResult{peer, err}
	}()
	peer, err := Handshake(connAlpha, alpha, alphaCabal, 5*time.Second)
	if err != nil {
		connAlpha.Close()
	}
	return handshakeResult{peer, err}, <-results
}

func TestHandshakeMutualSuccess(t *testing.T) {
	alpha, beta := newSigner(t), newSigner(t)
	resultAlpha, resultBeta := runPair(t, alpha, testCabal, beta, testCabal)

	if resultAlpha.err != nil || resultBeta.err != nil {
		t.Fatalf("handshake errors: alpha=%v beta=%v", resultAlpha.err, resultBeta.err)
	}
	if resultAlpha.peer != beta.PeerID() {
		t.Errorf("alpha saw %s, want %s", resultAlpha.peer.Short(), beta.PeerID().Short())
	}
	if resultBeta.peer != alpha.PeerID() {
		t.Errorf("beta saw %s, want %s", resultBeta.peer.Short(), alpha.PeerID().Short())
	}
}

func TestHandshakeCabalMismatch(t *testing.T) {
	resultAlpha, resultBeta := runPair(t, newSigner(t), testCabal, newSigner(t), otherCabal)
	if !errors.Is(resultAlpha.err, ErrCabalMismatch) {
		t.Errorf("alpha error = %v, want ErrCabalMismatch", resultAlpha.err)
	}
	if !errors.Is(resultBeta.err, ErrCabalMismatch) {
		t.Errorf("beta error = %v, want ErrCabalMismatch", resultBeta.err)
	}
}

func TestHandshakeSelfConnection(t *testing.T) {
	self := newSigner(t)
	resultAlpha, resultBeta := runPair(t, self, testCabal, self, testCabal)
	if !errors.Is(resultAlpha.err, ErrSelfConnection) || !errors.Is(resultBeta.err, ErrSelfConnection) {
		t.Errorf("errors = %v / %v, want ErrSelfConnection on both", resultAlpha.err, resultBeta.err)
	}
}

func TestHandshakeRejectionIsSeenByBothSides(t *testing.T) {
	alpha, beta := newSigner(t), newSigner(t)
	for attempt := range 20 {
		resultAlpha, resultBeta := runPair(t, alpha, testCabal, beta, otherCabal)
		if !errors.Is(resultAlpha.err, ErrCabalMismatch) || !errors.Is(resultBeta.err, ErrCabalMismatch) {
			t.Fatalf("attempt %d: errors = %v / %v, want ErrCabalMismatch on both", attempt, resultAlpha.err, resultBeta.err)
		}
	}
}

func TestHandshakeVersionMismatch(t *testing.T) {
	connAlpha, connBeta := net.Pipe()
	defer connAlpha.Close()
	defer connBeta.Close()

	future := hello{version: ProtocolVersion + 1, peer: newSigner(t).PeerID(), discovery: DiscoveryID(testCabal)}
	go func() {
		buffer := make([]byte, helloSize)
		if _, err := io.ReadFull(connBeta, buffer); err != nil {
			return
		}
		connBeta.Write(future.marshal())
	}()

	_, err := Handshake(connAlpha, newSigner(t), testCabal, 5*time.Second)
	if !errors.Is(err, ErrVersion) {
		t.Errorf("Handshake error = %v, want ErrVersion", err)
	}
}

// impostor claims one identity and signs with another key.
type impostor struct {
	claimed ref.PeerID
	actual  *identity.Identity
}

func (i impostor) PeerID() ref.PeerID        { return i.claimed }
func (i impostor) Sign(message []byte) []byte { return i.actual.Sign(message) }

func TestHandshakeRejectsImpostor(t *testing.T) {
	honest := newSigner(t)
	victim := newSigner(t)
	liar := impostor{claimed: victim.PeerID(), actual: newSigner(t)}

	resultHonest, _ := runPair(t, honest, testCabal, liar, testCabal)
	if !errors.Is(resultHonest.err, ErrBadSignature) {
		t.Errorf("honest side error = %v, want ErrBadSignature", resultHonest.err)
	}
}

func TestHandshakeRejectsGarbage(t *testing.T) {
	connAlpha, connBeta := net.Pipe()
	defer connAlpha.Close()

	go func() {
		buffer := make([]byte, helloSize)
		connBeta.Read(buffer)
		connBeta.Write(make([]byte, helloSize))
		connBeta.Close()
	}()

	_, err := Handshake(connAlpha, newSigner(t), testCabal, 5*time.Second)
	if !errors.Is(err, ErrBadHello) {
		t.Errorf("Handshake error = %v, want ErrBadHello", err)
	}
}

func TestHandshakeTimesOutOnSilentPeer(t *testing.T) {
	connAlpha, connBeta := net.Pipe()
	defer connAlpha.Close()
	defer connBeta.Close()

	_, err := Handshake(connAlpha, newSigner(t), testCabal, 50*time.Millisecond)
	if err == nil {
		t.Fatal("Handshake against a silent peer succeeded")
	}
	if !netutil.IsTimeout(err) {
		t.Errorf("Handshake error = %v, want a timeout", err)
	}
}

func TestDiscoveryIDHidesKey(t *testing.T) {
	first := DiscoveryID(testCabal)
	if first != DiscoveryID(testCabal) {
		t.Fatal("DiscoveryID is not deterministic")
	}
	if first == DiscoveryID(otherCabal) {
		t.Error("different cabals share a discovery id")
	}
	if first == testCabal.Bytes() {
		t.Error("discovery id equals the raw cabal key")
	}
}
