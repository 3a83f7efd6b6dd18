package segment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// Reader is an open, memory-mapped segment. It implements
// dictionary.Resolver and blockstore.Store. Uncompressed blocks returned by
// Fetch point into the mapping and are only valid until Close.
type Reader struct {
	path    string
	header  Header
	data    []byte
	blocks  []byte
	dict    []dictEntry
	lengths map[uint64]uint32
	infos   []dictionary.TermInfo

	closeOnce sync.Once
	unmap     func() error
}

var (
	_ dictionary.Resolver = (*Reader)(nil)
	_ blockstore.Store    = (*Reader)(nil)
)

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	data, unmap, err := mapFile(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	r, err := newReader(path, data)
	if err != nil {
		_ = unmap()
		return nil, err
	}
	r.unmap = unmap
	return r, nil
}

func newReader(path string, data []byte) (*Reader, error) {
	header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	size := int64(len(data))
	dictEnd := size - int64(FooterSize)
	if header.BlocksOffset < int64(HeaderSize) ||
		!within(header.BlocksOffset, header.BlocksSize, header.DictOffset) ||
		!within(header.DictOffset, header.DictSize, dictEnd) ||
		header.DictOffset+header.DictSize != dictEnd {
		return nil, fmt.Errorf("segment %s: regions do not fit %d bytes: %w", path, size, errors.ErrTruncatedData)
	}

	footer := data[size-int64(FooterSize):]
	dictData := data[header.DictOffset : header.DictOffset+header.DictSize]
	if binary.LittleEndian.Uint32(footer[4:8]) != MagicBytes {
		return nil, fmt.Errorf("segment %s: bad footer magic", path)
	}
	if crc32.ChecksumIEEE(dictData) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("segment %s: dictionary checksum mismatch: %w", path, errors.ErrCorruptBlock)
	}

	var dict []dictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	r := &Reader{
		path:    path,
		header:  header,
		data:    data,
		blocks:  data[header.BlocksOffset : header.BlocksOffset+header.BlocksSize],
		dict:    dict,
		lengths: make(map[uint64]uint32, len(dict)),
		infos:   make([]dictionary.TermInfo, len(dict)),
	}
	for i, e := range dict {
		info, err := r.validate(i, e)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", path, err)
		}
		r.infos[i] = info
		r.lengths[e.Block] = e.Length
	}
	return r, nil
}

// within reports whether [off, off+n) lies inside [0, limit) without
// computing a sum that could overflow.
func within(off, n, limit int64) bool {
	return off >= 0 && n >= 0 && off <= limit && n <= limit-off
}

func (r *Reader) validate(i int, e dictEntry) (dictionary.TermInfo, error) {
	if i > 0 && r.dict[i-1].Term >= e.Term {
		return dictionary.TermInfo{}, fmt.Errorf("dictionary not sorted at term %q", e.Term)
	}
	termType, err := dictionary.ParseTermType(e.Type)
	if err != nil {
		return dictionary.TermInfo{}, fmt.Errorf("term %q: %w", e.Term, err)
	}
	if region := uint64(len(r.blocks)); e.Block > region || uint64(e.Length) > region-e.Block {
		return dictionary.TermInfo{}, fmt.Errorf("term %q: block %d+%d outside block region: %w",
			e.Term, e.Block, e.Length, errors.ErrTruncatedData)
	}
	for _, f := range e.Fields {
		if f > r.header.FieldCount {
			return dictionary.TermInfo{}, fmt.Errorf("term %q: field %d beyond field count %d",
				e.Term, f, r.header.FieldCount)
		}
	}
	return dictionary.TermInfo{
		Type:          termType,
		TermCount:     e.TermCount,
		DocumentCount: e.DocumentCount,
		BlockID:       e.Block,
		Fields:        e.Fields,
	}, nil
}

func (r *Reader) find(term string) (int, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	return idx, idx < len(r.dict) && r.dict[idx].Term == term
}

func (r *Reader) Lookup(_ context.Context, term string, fields *bitset.BitSet) (dictionary.TermInfo, error) {
	idx, ok := r.find(dictionary.Normalize(term))
	if !ok {
		return dictionary.TermInfo{}, dictionary.ErrTermNotFound
	}
	info := r.infos[idx]
	if !dictionary.OccursIn(info, fields) {
		return dictionary.TermInfo{}, dictionary.ErrTermDoesNotOccur
	}
	return info, nil
}

func (r *Reader) Fetch(_ context.Context, blockID uint64) ([]byte, error) {
	length, ok := r.lengths[blockID]
	if !ok {
		return nil, fmt.Errorf("segment %s: block %d: %w", r.path, blockID, errors.ErrBlockNotFound)
	}
	return blockstore.Decompress(r.blocks[blockID : blockID+uint64(length)])
}

// Entries returns the dictionary in term order.
func (r *Reader) Entries() []dictionary.Entry {
	out := make([]dictionary.Entry, len(r.dict))
	for i, e := range r.dict {
		out[i] = dictionary.Entry{Term: e.Term, Info: r.infos[i]}
	}
	return out
}

// BlockIDs returns the ID of every block in the segment, in file order.
func (r *Reader) BlockIDs() []uint64 {
	ids := make([]uint64, 0, len(r.lengths))
	for id := range r.lengths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Reader) DocumentCount() uint32 { return r.header.DocumentCount }

func (r *Reader) FieldCount() uint32 { return r.header.FieldCount }

func (r *Reader) Stats() Stats {
	return Stats{
		Terms:      len(r.dict),
		Documents:  r.header.DocumentCount,
		Fields:     r.header.FieldCount,
		Codec:      r.header.Codec.String(),
		BlockBytes: r.header.BlocksSize,
		CreatedAt:  time.Unix(r.header.CreatedAt, 0).UTC(),
	}
}

// Close unmaps the segment. Blocks fetched from it must not be used after.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.unmap != nil {
			err = r.unmap()
		}
	})
	return err
}
