// Package dictionary defines the term resolver consumed by the evaluators and
// its in-memory and PostgreSQL implementations.
package dictionary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/text/unicode/norm"
)

// Absence sentinels. Evaluators turn both into an empty Unknown result.
var (
	ErrTermNotFound     = errors.New("term not found")
	ErrTermDoesNotOccur = errors.New("term does not occur in the requested fields")
)

// TermType classifies a resolved term.
type TermType uint8

const (
	Unknown TermType = iota
	Regular
	Stop
	Frequent
)

func (t TermType) String() string {
	switch t {
	case Regular:
		return "regular"
	case Stop:
		return "stop"
	case Frequent:
		return "frequent"
	default:
		return "unknown"
	}
}

func (t TermType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func ParseTermType(s string) (TermType, error) {
	switch s {
	case "regular":
		return Regular, nil
	case "stop":
		return Stop, nil
	case "frequent":
		return Frequent, nil
	case "unknown":
		return Unknown, nil
	default:
		return Unknown, fmt.Errorf("unknown term type %q", s)
	}
}

// TermInfo is the result of a dictionary lookup.
type TermInfo struct {
	Type          TermType `json:"type"`
	TermCount     uint32   `json:"term_count"`
	DocumentCount uint32   `json:"document_count"`
	BlockID       uint64   `json:"block_id"`
	// Fields lists the field IDs the term occurs in. Empty means unknown.
	Fields []uint32 `json:"fields,omitempty"`
}

// Entry pairs a normalized term with its dictionary information.
type Entry struct {
	Term string   `json:"term"`
	Info TermInfo `json:"info"`
}

// Resolver looks terms up in an index's dictionary. fields is the optional
// field bitmap of the search; a resolver returns ErrTermDoesNotOccur when it
// knows the term occurs in none of them.
type Resolver interface {
	Lookup(ctx context.Context, term string, fields *bitset.BitSet) (TermInfo, error)
}

// Normalize maps a term to its dictionary form: NFKC, lower case, trimmed.
func Normalize(term string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(term)))
}

// OccursIn reports whether info may occur in one of the fields set in bits.
func OccursIn(info TermInfo, bits *bitset.BitSet) bool {
	if bits == nil || len(info.Fields) == 0 {
		return true
	}
	for _, id := range info.Fields {
		if bits.Test(uint(id)) {
			return true
		}
	}
	return false
}
