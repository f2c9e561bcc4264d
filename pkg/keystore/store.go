// Package keystore provisions link keys into a security.Manager and
// persists the outgoing frame counter used with them.
//
// Keys are addressed by security.KeyID, the same identifier the auxiliary
// security header carries. A Store only holds key material; Load installs
// what it holds into a Manager so the frame codec can resolve it.
package keystore

import (
	"errors"
	"fmt"

	"github.com/backkem/linksec/pkg/security"
)

var (
	// ErrKeyNotFound is returned when no key is stored under an ID.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrClosed is returned when a closed store is used.
	ErrClosed = errors.New("keystore: closed")
)

// Store abstracts persistent storage for link keys.
//
// All methods must be safe for concurrent use. Returned key slices are
// copies owned by the caller.
type Store interface {
	// Get returns the key stored under id, or ErrKeyNotFound.
	Get(id security.KeyID) ([]byte, error)

	// Put stores or replaces the key for id.
	Put(id security.KeyID, key []byte) error

	// Delete removes the key for id. Deleting a missing key is not an error.
	Delete(id security.KeyID) error

	// List returns every stored key ID in a stable order.
	List() ([]security.KeyID, error)
}

// CounterStore persists the outgoing frame counter of a device, keyed by
// its extended address. The stored value is a high-water mark: no counter
// at or above it has been used.
//
// MemoryStore and SQLiteStore implement it next to Store, so a key and the
// counter it is used with survive together.
type CounterStore interface {
	// LoadCounter returns the stored mark for ext, or 0 if none is stored.
	LoadCounter(ext uint64) (uint32, error)

	// SaveCounter replaces the stored mark for ext.
	SaveCounter(ext uint64, next uint32) error
}

// Load installs every key in store into manager and returns how many were
// installed. It stops at the first failure.
func Load(store Store, manager *security.Manager) (int, error) {
	ids, err := store.List()
	if err != nil {
		return 0, fmt.Errorf("keystore: list keys: %w", err)
	}

	for i, id := range ids {
		key, err := store.Get(id)
		if err != nil {
			return i, fmt.Errorf("keystore: load %v: %w", id, err)
		}
		_, err = manager.Install(id, key)
		wipe(key)
		if err != nil {
			return i, fmt.Errorf("keystore: install %v: %w", id, err)
		}
	}
	return len(ids), nil
}

func checkKey(key []byte) error {
	if len(key) != security.KeySize {
		return security.ErrInvalidKey
	}
	return nil
}

func cloneKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
