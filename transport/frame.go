// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a frame payload is encoded. Values are
// wire constants.
type Compression uint8

const (
	// CompressionNone carries the payload as is.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression. Cheap enough for every
	// frame above the threshold.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Better ratios on
	// batches of similar posts, so history responses use it.
	CompressionZstd Compression = 2
)

// String returns the name of a compression tag.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

const (
	// MaxFrameSize bounds both the encoded body and the decoded payload.
	MaxFrameSize = 4 << 20

	// CompressThreshold is the payload size below which frames are
	// never compressed.
	CompressThreshold = 1 << 10

	lengthSize   = 4
	originalSize = 4
)

// ErrFrameTooLarge is returned for frames above MaxFrameSize in either
// direction.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrMalformedFrame marks a frame the peer should never have sent:
// empty, oversized, badly tagged or failing to decompress. Socket
// failures are returned without it.
var ErrMalformedFrame = errors.New("malformed frame")

var errIncompressible = errors.New("incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

// WriteFrame writes payload as one frame. preferred is applied only
// when the payload is at least CompressThreshold bytes and actually
// shrinks; otherwise the frame is sent uncompressed. A single Write
// call carries the whole frame.
func WriteFrame(w io.Writer, payload []byte, preferred Compression) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: payload is %d bytes", ErrFrameTooLarge, len(payload))
	}

	tag := CompressionNone
	body := payload
	if preferred != CompressionNone && len(payload) >= CompressThreshold {
		compressed, err := compress(payload, preferred)
		switch {
		case err == nil:
			tag, body = preferred, compressed
		case !errors.Is(err, errIncompressible):
			return err
		}
	}

	frameLength := 1 + len(body)
	if tag != CompressionNone {
		frameLength += originalSize
	}
	frame := make([]byte, lengthSize, lengthSize+frameLength)
	binary.BigEndian.PutUint32(frame, uint32(frameLength))
	frame = append(frame, byte(tag))
	if tag != CompressionNone {
		frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	}
	frame = append(frame, body...)

	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame and returns its decoded payload. io.EOF is
// returned unwrapped when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	frameLength := binary.BigEndian.Uint32(header[:])
	if frameLength == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	if frameLength > MaxFrameSize+1+originalSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrMalformedFrame, ErrFrameTooLarge, frameLength)
	}

	frame := make([]byte, frameLength)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	tag := Compression(frame[0])
	if tag == CompressionNone {
		return frame[1:], nil
	}
	if len(frame) < 1+originalSize {
		return nil, fmt.Errorf("%w: %s frame too short for its size header", ErrMalformedFrame, tag)
	}
	size := binary.BigEndian.Uint32(frame[1 : 1+originalSize])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %w: %s frame claims %d bytes", ErrMalformedFrame, ErrFrameTooLarge, tag, size)
	}
	payload, err := decompress(frame[1+originalSize:], tag, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return payload, nil
}

func compress(data []byte, tag Compression) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression %s", tag)
	}
}

func decompress(compressed []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression %s", tag)
	}
}
