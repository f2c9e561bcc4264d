package keystore

import (
	"sort"
	"sync"

	"github.com/backkem/linksec/pkg/security"
)

// MemoryStore is an in-memory Store implementation.
// Useful for testing and development. Keys are lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     map[security.KeyID][]byte
	counters map[uint64]uint32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[security.KeyID][]byte),
		counters: make(map[uint64]uint32),
	}
}

// Get returns a copy of the key stored under id.
func (m *MemoryStore) Get(id security.KeyID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return cloneKey(key), nil
}

// Put stores a copy of key under id.
func (m *MemoryStore) Put(id security.KeyID, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.keys[id]; ok {
		wipe(old)
	}
	m.keys[id] = cloneKey(key)
	return nil
}

// Delete wipes and removes the key for id.
func (m *MemoryStore) Delete(id security.KeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[id]; ok {
		wipe(key)
		delete(m.keys, id)
	}
	return nil
}

// List returns the stored key IDs ordered by mode, source and index.
func (m *MemoryStore) List() ([]security.KeyID, error) {
	m.mu.RLock()
	ids := make([]security.KeyID, 0, len(m.keys))
	for id := range m.keys {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sortIDs(ids)
	return ids, nil
}

// LoadCounter returns the counter mark saved for ext.
func (m *MemoryStore) LoadCounter(ext uint64) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[ext], nil
}

// SaveCounter records the counter mark for ext.
func (m *MemoryStore) SaveCounter(ext uint64, next uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[ext] = next
	return nil
}

func sortIDs(ids []security.KeyID) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Index < b.Index
	})
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ CounterStore = (*MemoryStore)(nil)
)
