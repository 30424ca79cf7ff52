// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages the local Ed25519 key pair that names this
// client to its peers.
//
// The key is stored as the hex-encoded 32-byte seed in a single file.
// When a passphrase is supplied the file is instead an age-encrypted
// (scrypt recipient) envelope around the same hex seed. [Load] tells
// the two apart by the age header, so a file written without a
// passphrase keeps working after one is configured and the reverse is
// reported as a clear error.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/cabin-chat/cabin/lib/ref"
)

// EnvPassphrase names the environment variable holding the passphrase
// for the encrypted identity file.
const EnvPassphrase = "CABIN_IDENTITY_PASSPHRASE"

// FileName is the identity file's name inside the data directory.
const FileName = "identity"

// ageHeader starts every binary age file.
const ageHeader = "age-encryption.org/v1"

// ErrPassphraseRequired is returned when the identity file is encrypted
// and no passphrase was supplied.
var ErrPassphraseRequired = errors.New("identity file is encrypted; set " + EnvPassphrase)

// scryptWorkFactor is the age scrypt cost (log2 N). Tests lower it.
var scryptWorkFactor = 18

// Identity is a loaded Ed25519 key pair. It is immutable and safe for
// concurrent use.
type Identity struct {
	private ed25519.PrivateKey
	peer    ref.PeerID
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("generating identity seed: %w", err)
	}
	return fromSeed(seed)
}

func fromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	peer, err := ref.PeerIDFromBytes(private.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Identity{private: private, peer: peer}, nil
}

// PeerID returns the public key as a peer id.
func (i *Identity) PeerID() ref.PeerID { return i.peer }

// Sign signs message with the private key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.private, message)
}

// Verify reports whether signature is peer's signature over message.
func Verify(peer ref.PeerID, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(peer.Bytes()), message, signature)
}

// Load reads the identity at path. passphrase must be non-empty if and
// only if the file is encrypted.
func Load(path, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	if bytes.HasPrefix(data, []byte(ageHeader)) {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		scryptIdentity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("preparing passphrase: %w", err)
		}
		reader, err := age.Decrypt(bytes.NewReader(data), scryptIdentity)
		if err != nil {
			return nil, fmt.Errorf("decrypting identity %s: %w", path, err)
		}
		data, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading decrypted identity: %w", err)
		}
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("identity %s is not hex: %w", path, err)
	}
	return fromSeed(seed)
}

// Save writes the identity to path with owner-only permissions,
// encrypted when passphrase is non-empty. The write goes through a
// temporary file and a rename so a crash never leaves a truncated key.
func (i *Identity) Save(path, passphrase string) error {
	contents := []byte(hex.EncodeToString(i.private.Seed()) + "\n")

	if passphrase != "" {
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return fmt.Errorf("preparing passphrase: %w", err)
		}
		recipient.SetWorkFactor(scryptWorkFactor)

		var encrypted bytes.Buffer
		writer, err := age.Encrypt(&encrypted, recipient)
		if err != nil {
			return fmt.Errorf("creating age encryptor: %w", err)
		}
		if _, err := writer.Write(contents); err != nil {
			return fmt.Errorf("encrypting identity: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("finalizing identity encryption: %w", err)
		}
		contents = encrypted.Bytes()
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), ".identity-*")
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	defer os.Remove(temporary.Name())
	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		return fmt.Errorf("setting identity permissions: %w", err)
	}
	if _, err := temporary.Write(contents); err != nil {
		temporary.Close()
		return fmt.Errorf("writing identity: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("installing identity: %w", err)
	}
	return nil
}

// LoadOrCreate loads the identity at path, generating and saving a new
// one if the file does not exist. created reports which happened.
func LoadOrCreate(path, passphrase string) (identity *Identity, created bool, err error) {
	identity, err = Load(path, passphrase)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	identity, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := identity.Save(path, passphrase); err != nil {
		return nil, false, err
	}
	return identity, true, nil
}
