package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fschiettecatte/mps-sub006/pkg/config"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
	"github.com/fschiettecatte/mps-sub006/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postingsJSON = `{
  "document_count": 20,
  "field_count": 2,
  "terms": [
    {"term": "Fox", "occurrences": [[3, 0, 1], [3, 4, 1], [8, 1, 2], [12, 0, 1]]},
    {"term": "the", "type": "stop", "occurrences": [[1, 0, 1], [2, 0, 2]]},
    {"term": "hound", "occurrences": [[8, 2, 2], [15, 0, 1]]}
  ]
}`

func setup(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "postings.json")
	require.NoError(t, os.WriteFile(input, []byte(postingsJSON), 0o644))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Index.Path = filepath.Join(dir, "index.mps")
	cfg.BlockStore.Compression = "lz4"

	o, err := parseFlags([]string{"-build", input})
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), cfg, o, nil, nil))
	return cfg
}

func runTerm(t *testing.T, cfg *config.Config, args ...string) []byte {
	t.Helper()
	o, err := parseFlags(args)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, o, strings.NewReader(""), &out))
	return out.Bytes()
}

func TestPostingsMode(t *testing.T) {
	cfg := setup(t)
	out := runTerm(t, cfg, "-term", "fox")

	var got struct {
		Term          string `json:"term"`
		TermType      string `json:"term_type"`
		TermCount     uint32 `json:"term_count"`
		DocumentCount uint32 `json:"document_count"`
		Postings      []struct {
			DocumentID   uint32 `json:"document_id"`
			TermPosition uint32 `json:"term_position"`
		} `json:"postings"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "regular", got.TermType)
	assert.Equal(t, uint32(4), got.TermCount)
	assert.Equal(t, uint32(3), got.DocumentCount)
	require.Len(t, got.Postings, 4)
	assert.Equal(t, uint32(3), got.Postings[1].DocumentID)
	assert.Equal(t, uint32(4), got.Postings[1].TermPosition)
}

func TestBitmapModeWithFields(t *testing.T) {
	cfg := setup(t)
	out := runTerm(t, cfg, "-term", "fox", "-mode", "bitmap", "-fields", "1")

	var got bitmapResult
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, uint64(2), got.Count)
	assert.Equal(t, []uint32{3, 12}, got.Documents)
}

func TestStopTermShortCircuits(t *testing.T) {
	cfg := setup(t)
	out := runTerm(t, cfg, "-term", "the")
	assert.Contains(t, string(out), `"term_type":"stop"`)
}

func TestWeightsFromStdin(t *testing.T) {
	cfg := setup(t)
	o, err := parseFlags([]string{"-mode", "weights", "-end", "10"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, o, strings.NewReader("fox\n\nhound\n"), &out))

	var results []weightsResult
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r weightsResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	require.Len(t, results, 2)
	assert.Equal(t, "fox", results[0].Term)
	assert.Len(t, results[0].Documents, 2)
	assert.Equal(t, "hound", results[1].Term)
	require.Len(t, results[1].Documents, 1)
	assert.Equal(t, uint32(8), results[1].Documents[0].DocumentID)
}

func TestFeedbackMode(t *testing.T) {
	cfg := setup(t)
	out := runTerm(t, cfg, "-term", "fox,hound", "-mode", "feedback")

	var got weightsResult
	require.NoError(t, json.Unmarshal(out, &got))
	ids := make([]uint32, len(got.Documents))
	for i, d := range got.Documents {
		ids[i] = d.DocumentID
	}
	assert.Equal(t, []uint32{3, 8, 12, 15}, ids)
}

func TestUsageErrors(t *testing.T) {
	_, err := parseFlags([]string{"-mode", "fuzzy"})
	assert.Equal(t, errors.CodeUsage, errors.ExitCode(err))

	cfg := setup(t)
	o, err := parseFlags([]string{"-term", "fox", "-fields", "7"})
	require.NoError(t, err)
	err = run(context.Background(), cfg, o, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, errors.ErrInvalidFieldBitmap)

	o, err = parseFlags([]string{"-term", "fox", "-end", "4294967296"})
	require.NoError(t, err)
	err = run(context.Background(), cfg, o, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, errors.ErrInvalidDocumentRange)

	o, err = parseFlags([]string{"-publish"})
	require.NoError(t, err)
	err = run(context.Background(), cfg, o, nil, nil)
	assert.ErrorIs(t, err, errors.ErrUsage)
}

func TestHealthChecker(t *testing.T) {
	cfg := setup(t)
	ctx := context.Background()
	idx, err := openIndex(ctx, cfg, nil)
	require.NoError(t, err)
	defer idx.Close()

	checker := idx.healthChecker(cfg.Index.Path)
	assert.Equal(t, health.StatusUp, checker.Run(ctx).Status)

	require.NoError(t, os.Remove(cfg.Index.Path))
	assert.Equal(t, health.StatusDown, checker.Run(ctx).Status)
}
