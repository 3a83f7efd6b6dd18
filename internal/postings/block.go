// Package postings reads and writes the compressed postings block of a term.
//
// A block is a varint data length followed by that many bytes of entries:
//
//	block := dataLength:varint entry*
//	entry := deltaDocId:varint deltaTermPosition:varint fieldId:varint
//
// Entries are ordered by ascending document ID. A non-zero document delta
// starts a new document and resets the term position to zero before the
// position delta is added; a zero document delta continues the previous
// document. Field 0 is the unfielded field.
package postings

import (
	"fmt"
	"math"

	"github.com/fschiettecatte/mps-sub006/internal/varint"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// Entry is one encoded occurrence, still in delta form.
type Entry struct {
	DeltaDocumentID uint32
	DeltaPosition   uint32
	FieldID         uint32
}

// Occurrence is one decoded occurrence with absolute document ID and
// position.
type Occurrence struct {
	DocumentID uint32
	Position   uint32
	FieldID    uint32
}

// Reader is a bounds-checked cursor over the entries of one block. It applies
// the delta rules as it goes, so DocumentID and Position always describe the
// most recently returned entry.
type Reader struct {
	data         []byte
	cursor       int
	headerLength int
	end          int

	documentID uint32
	position   uint32
}

// Open reads the block header. A zero data length yields a reader that is
// immediately exhausted.
func Open(block []byte) (*Reader, error) {
	r := &Reader{}
	if err := r.Reset(block); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset re-points r at block so that a Reader can be reused across calls.
func (r *Reader) Reset(block []byte) error {
	dataLength, headerLength, err := varint.Read(block, 0)
	if err != nil {
		return fmt.Errorf("reading block header: %w", err)
	}
	if dataLength > uint64(len(block)-headerLength) {
		return fmt.Errorf("block data length %d exceeds %d available bytes: %w",
			dataLength, len(block)-headerLength, errors.ErrTruncatedData)
	}
	end := headerLength + int(dataLength)
	*r = Reader{
		data:         block[:end],
		cursor:       headerLength,
		headerLength: headerLength,
		end:          end,
	}
	return nil
}

func (r *Reader) HeaderLength() int { return r.headerLength }

func (r *Reader) DataLength() int { return r.end - r.headerLength }

func (r *Reader) Empty() bool { return r.end == r.headerLength }

func (r *Reader) HasNext() bool { return r.cursor < r.end }

func (r *Reader) DocumentID() uint32 { return r.documentID }

func (r *Reader) Position() uint32 { return r.position }

// Next decodes the next entry and applies its deltas.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	var err error
	off := r.cursor
	if e.DeltaDocumentID, off, err = varint.Read32(r.data, off); err != nil {
		return Entry{}, r.entryError(err)
	}
	if e.DeltaPosition, off, err = varint.Read32(r.data, off); err != nil {
		return Entry{}, r.entryError(err)
	}
	if e.FieldID, off, err = varint.Read32(r.data, off); err != nil {
		return Entry{}, r.entryError(err)
	}
	if err := r.advanceDocument(e.DeltaDocumentID); err != nil {
		return Entry{}, err
	}
	if uint64(r.position)+uint64(e.DeltaPosition) > math.MaxUint32 {
		return Entry{}, errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
			"term position overflows at offset %d", r.cursor)
	}
	r.position += e.DeltaPosition
	r.cursor = off
	return e, nil
}

// NextSkipPosition decodes the next entry without materializing its position
// delta. Position is not maintained once this has been called; the returned
// entry has DeltaPosition zero.
func (r *Reader) NextSkipPosition() (Entry, error) {
	var e Entry
	var err error
	off := r.cursor
	if e.DeltaDocumentID, off, err = varint.Read32(r.data, off); err != nil {
		return Entry{}, r.entryError(err)
	}
	if off, err = varint.Skip(r.data, off); err != nil {
		return Entry{}, r.entryError(err)
	}
	if e.FieldID, off, err = varint.Read32(r.data, off); err != nil {
		return Entry{}, r.entryError(err)
	}
	if err := r.advanceDocument(e.DeltaDocumentID); err != nil {
		return Entry{}, err
	}
	r.cursor = off
	return e, nil
}

func (r *Reader) advanceDocument(delta uint32) error {
	if delta == 0 {
		if r.documentID == 0 {
			return errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
				"first entry at offset %d continues a document", r.cursor)
		}
		return nil
	}
	if uint64(r.documentID)+uint64(delta) > math.MaxUint32 {
		return errors.Newf(errors.ErrCorruptBlock, errors.CodeCorrupt,
			"document id overflows at offset %d", r.cursor)
	}
	r.documentID += delta
	r.position = 0
	return nil
}

func (r *Reader) entryError(err error) error {
	return fmt.Errorf("decoding entry at offset %d: %w", r.cursor, err)
}

// Decode returns every occurrence in block, in block order.
func Decode(block []byte) ([]Occurrence, error) {
	r, err := Open(block)
	if err != nil {
		return nil, err
	}
	var out []Occurrence
	for r.HasNext() {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, Occurrence{
			DocumentID: r.DocumentID(),
			Position:   r.Position(),
			FieldID:    e.FieldID,
		})
	}
	return out, nil
}

// Encode builds a block from entries already in delta form.
func Encode(entries []Entry) []byte {
	body := make([]byte, 0, len(entries)*3)
	for _, e := range entries {
		body = varint.Append(body, uint64(e.DeltaDocumentID))
		body = varint.Append(body, uint64(e.DeltaPosition))
		body = varint.Append(body, uint64(e.FieldID))
	}
	block := make([]byte, 0, varint.Len(uint64(len(body)))+len(body))
	block = varint.Append(block, uint64(len(body)))
	return append(block, body...)
}

// EncodeOccurrences delta-encodes absolute occurrences. Document IDs must be
// positive and non-decreasing, and positions must not decrease within a
// document.
func EncodeOccurrences(occurrences []Occurrence) ([]byte, error) {
	entries := make([]Entry, 0, len(occurrences))
	var prevDoc, prevPos uint32
	for i, o := range occurrences {
		switch {
		case o.DocumentID == 0:
			return nil, fmt.Errorf("occurrence %d: document id 0 is reserved", i)
		case o.DocumentID < prevDoc:
			return nil, fmt.Errorf("occurrence %d: document %d after %d", i, o.DocumentID, prevDoc)
		case o.DocumentID == prevDoc && o.Position < prevPos:
			return nil, fmt.Errorf("occurrence %d: position %d after %d", i, o.Position, prevPos)
		}
		e := Entry{FieldID: o.FieldID}
		if o.DocumentID != prevDoc {
			e.DeltaDocumentID = o.DocumentID - prevDoc
			e.DeltaPosition = o.Position
		} else {
			e.DeltaPosition = o.Position - prevPos
		}
		entries = append(entries, e)
		prevDoc, prevPos = o.DocumentID, o.Position
	}
	return Encode(entries), nil
}
