// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cabin-chat/cabin/lib/ref"
)

type samplePost struct {
	Channel string     `cbor:"channel"`
	Author  ref.PeerID `cbor:"author"`
	Text    string     `cbor:"text,omitempty"`
	Time    int64      `cbor:"time"`
}

var sampleAuthor = ref.MustParsePeerID("11aa22bb33cc44dd55ee66ff778899000112233445566778899aabbccddeeff1")

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := samplePost{Channel: "default", Author: sampleAuthor, Text: "hi", Time: 1700000000}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded samplePost
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	// Go randomizes map iteration; the encoded bytes must not vary.
	value := map[string]int{"zeta": 1, "alpha": 2, "mid": 3, "beta": 4}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestPeerIDEncodesAsHexText(t *testing.T) {
	data, err := Marshal(samplePost{Author: sampleAuthor})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"`+sampleAuthor.String()+`"`) {
		t.Errorf("notation %s does not carry the author as a hex text string", notation)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"channel": "default", "time": 5, "reactions": []string{"+1"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded samplePost
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.Channel != "default" || decoded.Time != 5 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestAnyMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Errorf("nested type %T, want map[string]any", outer["nested"])
	}
}

func TestRawMessageDefersDecoding(t *testing.T) {
	type envelope struct {
		Type string     `cbor:"type"`
		Body RawMessage `cbor:"body"`
	}
	body, err := Marshal(samplePost{Channel: "dev", Time: 9})
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(envelope{Type: "post", Body: body})
	if err != nil {
		t.Fatal(err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal envelope: %v", err)
	}
	var post samplePost
	if err := Unmarshal(decoded.Body, &post); err != nil {
		t.Fatalf("Unmarshal body: %v", err)
	}
	if post.Channel != "dev" {
		t.Errorf("body channel = %q, want dev", post.Channel)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var post samplePost
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &post); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func BenchmarkMarshal(b *testing.B) {
	post := samplePost{Channel: "default", Author: sampleAuthor, Text: "hello there", Time: 1700000000}
	b.ReportAllocs()
	for b.Loop() {
		Marshal(post)
	}
}
