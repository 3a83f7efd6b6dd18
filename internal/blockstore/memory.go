package blockstore

import (
	"context"
	"sync"
)

// Memory keeps blocks in a map. Put copies the block.
type Memory struct {
	mu     sync.RWMutex
	blocks map[uint64][]byte
}

func NewMemory() *Memory {
	return &Memory{blocks: make(map[uint64][]byte)}
}

func (m *Memory) Fetch(_ context.Context, blockID uint64) ([]byte, error) {
	m.mu.RLock()
	block, ok := m.blocks[blockID]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(blockID)
	}
	return block, nil
}

func (m *Memory) Put(_ context.Context, blockID uint64, block []byte) error {
	cp := make([]byte, len(block))
	copy(cp, block)
	m.mu.Lock()
	m.blocks[blockID] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
