package dictionary

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Memory is a map-backed Resolver, used for tests and small fixed indexes.
type Memory struct {
	mu    sync.RWMutex
	terms map[string]TermInfo
}

func NewMemory() *Memory {
	return &Memory{terms: make(map[string]TermInfo)}
}

// Add stores info under the normalized form of term.
func (m *Memory) Add(term string, info TermInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms[Normalize(term)] = info
}

func (m *Memory) Lookup(_ context.Context, term string, fields *bitset.BitSet) (TermInfo, error) {
	m.mu.RLock()
	info, ok := m.terms[Normalize(term)]
	m.mu.RUnlock()
	if !ok {
		return TermInfo{}, ErrTermNotFound
	}
	if !OccursIn(info, fields) {
		return TermInfo{}, ErrTermDoesNotOccur
	}
	return info, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terms)
}
