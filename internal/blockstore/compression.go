package blockstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a stored block payload is compressed.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return CodecNone, fmt.Errorf("unknown block codec %q", name)
	}
}

// Stored blocks are wrapped in an envelope:
//
//	codec:uint8 rawLength:uint32le payload
//
// Compress falls back to CodecNone when compression does not shrink the
// block, so the codec byte records what was actually applied.
const envelopeHeaderSize = 5

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress wraps block in an envelope, compressing it with codec.
func Compress(codec Codec, block []byte) ([]byte, error) {
	var payload []byte
	switch codec {
	case CodecNone:
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(block)))
		n, err := lz4.CompressBlock(block, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		payload = buf[:n]
	case CodecZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(block, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown block codec %d", codec)
	}
	if len(payload) == 0 || len(payload) >= len(block) {
		codec, payload = CodecNone, block
	}

	out := make([]byte, envelopeHeaderSize+len(payload))
	out[0] = byte(codec)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(block)))
	copy(out[envelopeHeaderSize:], payload)
	return out, nil
}

// Decompress unwraps an envelope produced by Compress. For CodecNone the
// result aliases envelope.
func Decompress(envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeHeaderSize {
		return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
			"envelope of %d bytes is shorter than its header", len(envelope))
	}
	codec := Codec(envelope[0])
	rawLength := int(binary.LittleEndian.Uint32(envelope[1:]))
	payload := envelope[envelopeHeaderSize:]

	switch codec {
	case CodecNone:
		if len(payload) != rawLength {
			return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
				"stored block has %d bytes, header says %d", len(payload), rawLength)
		}
		return payload, nil
	case CodecLZ4:
		out := make([]byte, rawLength)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt, "lz4: %v", err)
		}
		if n != rawLength {
			return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
				"lz4 produced %d bytes, header says %d", n, rawLength)
		}
		return out, nil
	case CodecZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLength))
		if err != nil {
			return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt, "zstd: %v", err)
		}
		if len(out) != rawLength {
			return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
				"zstd produced %d bytes, header says %d", len(out), rawLength)
		}
		return out, nil
	default:
		return nil, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt, "unknown codec %d", envelope[0])
	}
}
