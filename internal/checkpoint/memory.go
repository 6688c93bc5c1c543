package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. Entries are stored encoded
// so callers never share pointers with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	codec *Codec
	data  map[string][]byte
	vers  map[string]int64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codec: DefaultCodec(),
		data:  make(map[string][]byte),
		vers:  make(map[string]int64),
	}
}

func (m *MemoryStore) Put(_ context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(cp)
}

// PutIfVersion writes cp only if the stored version still equals expected.
func (m *MemoryStore) PutIfVersion(_ context.Context, cp *Checkpoint, expected int64) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vers[cp.ThreadID] != expected {
		return ErrVersionConflict
	}
	return m.putLocked(cp)
}

func (m *MemoryStore) putLocked(cp *Checkpoint) error {
	cp.Version = m.vers[cp.ThreadID] + 1
	cp.UpdatedAt = time.Now().UTC()
	b, err := m.codec.Encode(cp)
	if err != nil {
		return err
	}
	m.data[cp.ThreadID] = b
	m.vers[cp.ThreadID] = cp.Version
	return nil
}

func (m *MemoryStore) Get(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	b, ok := m.data[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var cp Checkpoint
	if err := m.codec.Decode(b, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Len returns the number of stored threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
