// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2). Post
// signatures and post ids are computed over these bytes, so two
// clients encoding the same post must agree exactly.
var encMode cbor.EncMode

// decMode ignores unknown fields so that newer peers can add frame
// fields without breaking older ones.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref.PeerID and ref.CabalKey keep their bytes unexported; encode
	// them through MarshalText as hex strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Frames never use non-string map keys; decode any-typed
		// targets to map[string]any rather than map[any]any.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
		// A frame is at most a few MiB. Bound nesting and collection
		// sizes so a hostile peer cannot make the decoder allocate
		// without limit.
		MaxNestedLevels:  16,
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 12,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. Frame envelopes carry their
// body as a RawMessage and decode it once the type tag is known.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for data.
// Used in debug logging of frames that fail to decode.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
