package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fschiettecatte/mps-sub006/internal/blockstore"
	"github.com/fschiettecatte/mps-sub006/internal/dictionary"
	"github.com/fschiettecatte/mps-sub006/internal/postings"
	"github.com/fschiettecatte/mps-sub006/internal/segment"
	"github.com/fschiettecatte/mps-sub006/pkg/config"
	"github.com/fschiettecatte/mps-sub006/pkg/errors"
)

// postingsFile is the JSON input of -build: already inverted postings, one
// entry per term.
type postingsFile struct {
	DocumentCount uint32         `json:"document_count"`
	FieldCount    uint32         `json:"field_count"`
	Terms         []postingsTerm `json:"terms"`
}

type postingsTerm struct {
	Term string `json:"term"`
	Type string `json:"type,omitempty"`
	// Occurrences are [documentID, position, fieldID] triples.
	Occurrences [][3]uint32 `json:"occurrences"`
}

func buildSegment(inputPath string, cfg *config.Config) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading postings file: %w", err)
	}
	var in postingsFile
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Invalid(errors.ErrUsage, "parsing postings file %s: %v", inputPath, err)
	}

	codec, err := blockstore.ParseCodec(cfg.BlockStore.Compression)
	if err != nil {
		return err
	}
	terms := make([]segment.TermPostings, 0, len(in.Terms))
	for _, t := range in.Terms {
		tp := segment.TermPostings{Term: t.Term, Type: dictionary.Regular}
		if t.Type != "" {
			if tp.Type, err = dictionary.ParseTermType(t.Type); err != nil {
				return errors.Invalid(errors.ErrUsage, "term %q: %v", t.Term, err)
			}
		}
		tp.Occurrences = make([]postings.Occurrence, len(t.Occurrences))
		for i, o := range t.Occurrences {
			tp.Occurrences[i] = postings.Occurrence{DocumentID: o[0], Position: o[1], FieldID: o[2]}
		}
		terms = append(terms, tp)
	}

	return segment.Write(cfg.Index.Path, segment.Options{
		DocumentCount: in.DocumentCount,
		FieldCount:    in.FieldCount,
		Codec:         codec,
	}, terms)
}
