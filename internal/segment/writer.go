package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/internal/postings"
)

// TermPostings is one dictionary term with its occurrences, ordered by
// document ID and then position.
type TermPostings struct {
	Term        string
	Type        dictionary.TermType
	Occurrences []postings.Occurrence
}

// Options describe the collection a segment indexes.
type Options struct {
	DocumentCount uint32
	FieldCount    uint32
	Codec         blockstore.Codec
}

// Write atomically creates the segment file at path. Terms are normalized;
// a term given twice is an error. Type defaults to Regular.
func Write(path string, opts Options, terms []TermPostings) error {
	dict := make([]dictEntry, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	var blocks []byte
	for _, tp := range terms {
		term := dictionary.Normalize(tp.Term)
		if term == "" {
			return fmt.Errorf("empty term")
		}
		if _, dup := seen[term]; dup {
			return fmt.Errorf("duplicate term %q", term)
		}
		seen[term] = struct{}{}

		entry, block, err := buildEntry(term, tp, opts)
		if err != nil {
			return err
		}
		envelope, err := blockstore.Compress(opts.Codec, block)
		if err != nil {
			return fmt.Errorf("compressing block for term %q: %w", term, err)
		}
		entry.Block = uint64(len(blocks))
		entry.Length = uint32(len(envelope))
		blocks = append(blocks, envelope...)
		dict = append(dict, entry)
	}
	slices.SortFunc(dict, func(a, b dictEntry) int {
		switch {
		case a.Term < b.Term:
			return -1
		case a.Term > b.Term:
			return 1
		}
		return 0
	})

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	header := Header{
		Magic:         MagicBytes,
		Version:       FormatVersion,
		TermCount:     uint32(len(dict)),
		DocumentCount: opts.DocumentCount,
		FieldCount:    opts.FieldCount,
		Codec:         opts.Codec,
		CreatedAt:     time.Now().Unix(),
		BlocksOffset:  int64(HeaderSize),
		BlocksSize:    int64(len(blocks)),
		DictOffset:    int64(HeaderSize + len(blocks)),
		DictSize:      int64(len(dictData)),
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)

	if err := writeAtomic(path, header.encode(), blocks, dictData, footer); err != nil {
		return err
	}
	slog.Default().With("component", "segment-writer").Info("segment written",
		"path", path, "terms", len(dict), "documents", opts.DocumentCount, "block_bytes", len(blocks))
	return nil
}

func buildEntry(term string, tp TermPostings, opts Options) (dictEntry, []byte, error) {
	termType := tp.Type
	if termType == dictionary.Unknown {
		termType = dictionary.Regular
	}
	entry := dictEntry{
		Term:      term,
		Type:      termType.String(),
		TermCount: uint32(len(tp.Occurrences)),
	}
	var lastDoc uint32
	for _, o := range tp.Occurrences {
		if o.DocumentID > opts.DocumentCount {
			return dictEntry{}, nil, fmt.Errorf("term %q: document %d beyond document count %d",
				term, o.DocumentID, opts.DocumentCount)
		}
		if o.FieldID > opts.FieldCount {
			return dictEntry{}, nil, fmt.Errorf("term %q: field %d beyond field count %d",
				term, o.FieldID, opts.FieldCount)
		}
		if o.DocumentID != lastDoc {
			entry.DocumentCount++
			lastDoc = o.DocumentID
		}
		if o.FieldID != 0 && !slices.Contains(entry.Fields, o.FieldID) {
			entry.Fields = append(entry.Fields, o.FieldID)
		}
	}
	slices.Sort(entry.Fields)
	block, err := postings.EncodeOccurrences(tp.Occurrences)
	if err != nil {
		return dictEntry{}, nil, fmt.Errorf("term %q: %w", term, err)
	}
	return entry, block, nil
}

func writeAtomic(path string, parts ...[]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer os.Remove(tmpPath)
	for _, p := range parts {
		if _, err := f.Write(p); err != nil {
			f.Close()
			return fmt.Errorf("writing segment: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	return nil
}
