package segment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/internal/postings"
	apperrors "github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTerms() []TermPostings {
	return []TermPostings{
		{Term: "Fox", Occurrences: []postings.Occurrence{
			{DocumentID: 1, Position: 3, FieldID: 1},
			{DocumentID: 1, Position: 9, FieldID: 2},
			{DocumentID: 4, Position: 0, FieldID: 1},
		}},
		{Term: "the", Type: dictionary.Stop, Occurrences: []postings.Occurrence{
			{DocumentID: 1, Position: 0}, {DocumentID: 2, Position: 0}, {DocumentID: 3, Position: 0},
		}},
		{Term: "ghost"},
	}
}

func writeSample(t *testing.T, codec blockstore.Codec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "news.mps")
	require.NoError(t, Write(path, Options{DocumentCount: 5, FieldCount: 2, Codec: codec}, sampleTerms()))
	return path
}

func TestWriteAndOpen(t *testing.T) {
	for _, codec := range []blockstore.Codec{blockstore.CodecNone, blockstore.CodecLZ4, blockstore.CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			r, err := Open(writeSample(t, codec))
			require.NoError(t, err)
			defer r.Close()
			ctx := context.Background()

			stats := r.Stats()
			assert.Equal(t, 3, stats.Terms)
			assert.Equal(t, uint32(5), stats.Documents)
			assert.Equal(t, uint32(2), stats.Fields)
			assert.Equal(t, codec.String(), stats.Codec)

			info, err := r.Lookup(ctx, "FOX", nil)
			require.NoError(t, err)
			assert.Equal(t, dictionary.Regular, info.Type)
			assert.Equal(t, uint32(3), info.TermCount)
			assert.Equal(t, uint32(2), info.DocumentCount)
			assert.Equal(t, []uint32{1, 2}, info.Fields)

			block, err := r.Fetch(ctx, info.BlockID)
			require.NoError(t, err)
			occ, err := postings.Decode(block)
			require.NoError(t, err)
			assert.Equal(t, sampleTerms()[0].Occurrences, occ)

			stop, err := r.Lookup(ctx, "the", nil)
			require.NoError(t, err)
			assert.Equal(t, dictionary.Stop, stop.Type)
			assert.Nil(t, stop.Fields)

			ghost, err := r.Lookup(ctx, "ghost", nil)
			require.NoError(t, err)
			block, err = r.Fetch(ctx, ghost.BlockID)
			require.NoError(t, err)
			pr, err := postings.Open(block)
			require.NoError(t, err)
			assert.True(t, pr.Empty())
		})
	}
}

func TestLookupMisses(t *testing.T) {
	r, err := Open(writeSample(t, blockstore.CodecNone))
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	_, err = r.Lookup(ctx, "wolf", nil)
	assert.ErrorIs(t, err, dictionary.ErrTermNotFound)

	_, err = r.Lookup(ctx, "fox", bitset.New(3).Set(0))
	assert.ErrorIs(t, err, dictionary.ErrTermDoesNotOccur)

	_, err = r.Fetch(ctx, 12345)
	assert.ErrorIs(t, err, apperrors.ErrBlockNotFound)
}

func TestEntriesAndBlockIDs(t *testing.T) {
	r, err := Open(writeSample(t, blockstore.CodecNone))
	require.NoError(t, err)
	defer r.Close()

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"fox", "ghost", "the"}, []string{entries[0].Term, entries[1].Term, entries[2].Term})

	ids := r.BlockIDs()
	require.Len(t, ids, 3)
	assert.Equal(t, uint64(0), ids[0])
	assert.Less(t, ids[1], ids[2])
}

func TestWriteRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	opts := Options{DocumentCount: 2, FieldCount: 1}
	cases := map[string][]TermPostings{
		"duplicate": {{Term: "a"}, {Term: "A"}},
		"empty":     {{Term: "  "}},
		"document":  {{Term: "a", Occurrences: []postings.Occurrence{{DocumentID: 3}}}},
		"field":     {{Term: "a", Occurrences: []postings.Occurrence{{DocumentID: 1, FieldID: 2}}}},
		"order":     {{Term: "a", Occurrences: []postings.Occurrence{{DocumentID: 2}, {DocumentID: 1}}}},
	}
	for name, terms := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".mps")
			assert.Error(t, Write(path, opts, terms))
			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestOpenRejectsDamage(t *testing.T) {
	path := writeSample(t, blockstore.CodecNone)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	damaged := filepath.Join(t.TempDir(), "damaged.mps")

	badMagic := append([]byte(nil), data...)
	badMagic[0] ^= 0xFF
	require.NoError(t, os.WriteFile(damaged, badMagic, 0o644))
	_, err = Open(damaged)
	assert.Error(t, err)

	badDict := append([]byte(nil), data...)
	badDict[len(badDict)-FooterSize-2] ^= 0xFF
	require.NoError(t, os.WriteFile(damaged, badDict, 0o644))
	_, err = Open(damaged)
	assert.ErrorIs(t, err, apperrors.ErrCorruptBlock)

	require.NoError(t, os.WriteFile(damaged, data[:len(data)-3], 0o644))
	_, err = Open(damaged)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(damaged, nil, 0o644))
	_, err = Open(damaged)
	assert.Error(t, err)
}

// withDictionary rewrites the dictionary region of a segment image, keeping
// the header offsets and footer consistent.
func withDictionary(t *testing.T, data []byte, dict []dictEntry) []byte {
	t.Helper()
	header, err := decodeHeader(data)
	require.NoError(t, err)
	dictData, err := json.Marshal(dict)
	require.NoError(t, err)

	header.DictOffset = header.BlocksOffset + header.BlocksSize
	header.DictSize = int64(len(dictData))
	out := append([]byte(nil), header.encode()...)
	out = append(out, data[HeaderSize:header.DictOffset]...)
	out = append(out, dictData...)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)
	return append(out, footer...)
}

func TestOpenRejectsOverflowingOffsets(t *testing.T) {
	data, err := os.ReadFile(writeSample(t, blockstore.CodecNone))
	require.NoError(t, err)

	t.Run("block offset wraps", func(t *testing.T) {
		crafted := withDictionary(t, data, []dictEntry{
			{Term: "fox", Type: "regular", TermCount: 1, DocumentCount: 1, Block: math.MaxUint64 - 2, Length: 10},
		})
		_, err := newReader("crafted", crafted)
		assert.ErrorIs(t, err, apperrors.ErrTruncatedData)
	})

	t.Run("block region size wraps", func(t *testing.T) {
		crafted := append([]byte(nil), data...)
		binary.LittleEndian.PutUint64(crafted[40:48], math.MaxInt64)
		_, err := newReader("crafted", crafted)
		assert.ErrorIs(t, err, apperrors.ErrTruncatedData)
	})

	t.Run("dictionary size wraps", func(t *testing.T) {
		crafted := append([]byte(nil), data...)
		binary.LittleEndian.PutUint64(crafted[56:64], math.MaxInt64)
		_, err := newReader("crafted", crafted)
		assert.ErrorIs(t, err, apperrors.ErrTruncatedData)
	})

	t.Run("rewritten dictionary still opens", func(t *testing.T) {
		header, err := decodeHeader(data)
		require.NoError(t, err)
		var dict []dictEntry
		require.NoError(t, json.Unmarshal(data[header.DictOffset:header.DictOffset+header.DictSize], &dict))
		r, err := newReader("rewritten", withDictionary(t, data, dict))
		require.NoError(t, err)
		assert.Len(t, r.Entries(), len(dict))
	})
}
