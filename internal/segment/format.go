// Package segment reads and writes single-file indexes: a fixed header, the
// postings block region, and a JSON term dictionary.
//
//	header     64 bytes, little endian
//	blocks     block envelopes back to back; a block ID is the envelope's
//	           offset from the start of this region
//	dictionary JSON array of dictEntry sorted by term
//	footer     crc32 of the dictionary bytes, then MagicBytes again
//
// An opened segment is memory mapped and serves as both the dictionary
// resolver and the block store of an index.
package segment

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
)

const (
	MagicBytes    uint32 = 0x4D505358 // "MPSX"
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 8
)

// Header is the fixed-size header at the start of every segment file.
type Header struct {
	Magic         uint32
	Version       uint32
	TermCount     uint32
	DocumentCount uint32
	FieldCount    uint32
	Codec         blockstore.Codec
	CreatedAt     int64
	BlocksOffset  int64
	BlocksSize    int64
	DictOffset    int64
	DictSize      int64
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocumentCount)
	binary.LittleEndian.PutUint32(b[16:20], h.FieldCount)
	b[20] = byte(h.Codec)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.BlocksOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.BlocksSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DictSize))
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("segment too small for header: %d bytes", len(b))
	}
	h := Header{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		Version:       binary.LittleEndian.Uint32(b[4:8]),
		TermCount:     binary.LittleEndian.Uint32(b[8:12]),
		DocumentCount: binary.LittleEndian.Uint32(b[12:16]),
		FieldCount:    binary.LittleEndian.Uint32(b[16:20]),
		Codec:         blockstore.Codec(b[20]),
		CreatedAt:     int64(binary.LittleEndian.Uint64(b[24:32])),
		BlocksOffset:  int64(binary.LittleEndian.Uint64(b[32:40])),
		BlocksSize:    int64(binary.LittleEndian.Uint64(b[40:48])),
		DictOffset:    int64(binary.LittleEndian.Uint64(b[48:56])),
		DictSize:      int64(binary.LittleEndian.Uint64(b[56:64])),
	}
	if h.Magic != MagicBytes {
		return Header{}, fmt.Errorf("invalid segment file: bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("unsupported segment version %d", h.Version)
	}
	return h, nil
}

// dictEntry is the on-disk form of one dictionary term.
type dictEntry struct {
	Term          string   `json:"t"`
	Type          string   `json:"y"`
	TermCount     uint32   `json:"c"`
	DocumentCount uint32   `json:"d"`
	Block         uint64   `json:"b"`
	Length        uint32   `json:"l"`
	Fields        []uint32 `json:"f,omitempty"`
}

// Stats summarises an open segment.
type Stats struct {
	Terms      int       `json:"terms"`
	Documents  uint32    `json:"documents"`
	Fields     uint32    `json:"fields"`
	Codec      string    `json:"codec"`
	BlockBytes int64     `json:"block_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}
