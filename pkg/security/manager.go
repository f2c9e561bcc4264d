package security

import (
	"fmt"
	"sort"

	"github.com/backkem/linksec/internal/syncutil"
)

// DefaultMaxContexts is the default size of the context table.
// It matches the key table size of typical 802.15.4 MAC implementations.
const DefaultMaxContexts = 16

// KeyID identifies a link key the way the auxiliary security header does:
// by key identifier mode, key source and key index.
type KeyID struct {
	// Mode is the key identifier mode (0-3).
	Mode uint8

	// Source is the key source (0, 4 or 8 significant bytes depending on Mode).
	Source uint64

	// Index is the key index within the source.
	Index uint8
}

// String returns a compact representation for logs.
func (id KeyID) String() string {
	return fmt.Sprintf("key(mode=%d source=%#x index=%d)", id.Mode, id.Source, id.Index)
}

// less orders key IDs for stable listings.
func (id KeyID) less(other KeyID) bool {
	if id.Mode != other.Mode {
		return id.Mode < other.Mode
	}
	if id.Source != other.Source {
		return id.Source < other.Source
	}
	return id.Index < other.Index
}

// ManagerConfig configures the context manager.
type ManagerConfig struct {
	// MaxContexts limits the number of installed keys.
	// Default: DefaultMaxContexts (16)
	MaxContexts int
}

// Manager keeps one Context per installed key.
// It is safe for concurrent use.
type Manager struct {
	mu          syncutil.RWMutex
	contexts    map[KeyID]*Context
	maxContexts int
}

// NewManager creates an empty context manager.
func NewManager(config ManagerConfig) *Manager {
	if config.MaxContexts <= 0 {
		config.MaxContexts = DefaultMaxContexts
	}
	return &Manager{
		contexts:    make(map[KeyID]*Context),
		maxContexts: config.MaxContexts,
	}
}

// Install binds key to id. An existing context for id is rekeyed in place,
// so holders of the *Context see the new key on their next frame.
func (m *Manager) Install(id KeyID, key []byte) (*Context, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx, ok := m.contexts[id]; ok {
		if err := ctx.Rekey(key); err != nil {
			return nil, err
		}
		return ctx, nil
	}

	if len(m.contexts) >= m.maxContexts {
		return nil, ErrManagerFull
	}

	ctx, err := NewContext(key)
	if err != nil {
		return nil, err
	}
	m.contexts[id] = ctx
	return ctx, nil
}

// Context returns the context for id, or nil if none is installed.
func (m *Manager) Context(id KeyID) *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contexts[id]
}

// Remove zeroizes and forgets the context for id.
// Returns false if no context was installed.
func (m *Manager) Remove(id KeyID) bool {
	m.mu.Lock()
	ctx, ok := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()

	if ok {
		ctx.Zeroize()
	}
	return ok
}

// Len returns the number of installed contexts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

// IDs returns the installed key IDs in a stable order.
func (m *Manager) IDs() []KeyID {
	m.mu.RLock()
	ids := make([]KeyID, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
	return ids
}
