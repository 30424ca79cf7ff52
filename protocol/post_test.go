// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/cabin-chat/cabin/lib/identity"
)

func newSigner(t *testing.T) *identity.Identity {
	t.Helper()
	signer, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return signer
}

func signedPost(t *testing.T, signer Signer, post Post) Post {
	t.Helper()
	if err := post.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return post
}

func TestPostSignVerify(t *testing.T) {
	signer := newSigner(t)
	post := signedPost(t, signer, Post{Channel: "default", Time: 1700000000000, Kind: KindText, Body: "hello"})

	if post.Author != signer.PeerID() {
		t.Errorf("Author = %s, want signer", post.Author.Short())
	}
	if err := post.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tampered := post
	tampered.Body = "goodbye"
	if err := tampered.Verify(); !errors.Is(err, ErrBadPost) {
		t.Errorf("Verify(tampered body) = %v, want ErrBadPost", err)
	}

	forged := post
	forged.Author = newSigner(t).PeerID()
	if err := forged.Verify(); !errors.Is(err, ErrBadPost) {
		t.Errorf("Verify(forged author) = %v, want ErrBadPost", err)
	}
}

func TestPostVerifyShape(t *testing.T) {
	signer := newSigner(t)
	tests := []struct {
		name string
		post Post
	}{
		{"unknown kind", Post{Channel: "c", Kind: "reaction"}},
		{"text without channel", Post{Kind: KindText, Body: "x"}},
		{"oversized body", Post{Channel: "c", Kind: KindText, Body: strings.Repeat("x", MaxBodySize+1)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			post := signedPost(t, signer, test.post)
			if err := post.Verify(); !errors.Is(err, ErrBadPost) {
				t.Errorf("Verify() = %v, want ErrBadPost", err)
			}
		})
	}

	info := signedPost(t, signer, Post{Kind: KindInfo, Body: "alice"})
	if err := info.Verify(); err != nil {
		t.Errorf("channel-less info post rejected: %v", err)
	}
}

func TestPostIDCoversSignature(t *testing.T) {
	first := newSigner(t)
	second := newSigner(t)
	base := Post{Channel: "default", Time: 42, Kind: KindText, Body: "same"}

	a := signedPost(t, first, base)
	b := signedPost(t, second, base)
	idA, err := a.ID()
	if err != nil {
		t.Fatal(err)
	}
	idB, _ := b.ID()
	if idA == idB {
		t.Error("posts by different authors share an id")
	}

	again, _ := a.ID()
	if again != idA {
		t.Error("ID is not stable")
	}
	parsed, err := ParsePostID(idA.String())
	if err != nil || parsed != idA {
		t.Errorf("ParsePostID(String()) = %v, %v", parsed, err)
	}
}

func TestValidateChannel(t *testing.T) {
	valid := []string{"default", "myco", "dev-ops", "日本"}
	for _, name := range valid {
		if err := ValidateChannel(name); err != nil {
			t.Errorf("ValidateChannel(%q) = %v", name, err)
		}
	}
	invalid := []string{"", "two words", "tab\there", strings.Repeat("c", MaxChannelLength+1), "bad\xff"}
	for _, name := range invalid {
		if err := ValidateChannel(name); !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("ValidateChannel(%q) = %v, want ErrInvalidChannel", name, err)
		}
	}
}
