package keystore

import (
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"

	"github.com/backkem/linksec/pkg/crypto"
	"github.com/backkem/linksec/pkg/security"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyA = []byte{
		0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7,
		0xC8, 0xC9, 0xCA, 0xCB, 0xCC, 0xCD, 0xCE, 0xCF,
	}
	keyB = []byte{
		0x70, 0xAD, 0x7D, 0x16, 0xDD, 0xDF, 0x0C, 0x04,
		0x3B, 0x08, 0x5F, 0x7D, 0x33, 0x53, 0x2B, 0x44,
	}

	idImplicit = security.KeyID{}
	idIndex1   = security.KeyID{Mode: 1, Index: 1}
	idSource8  = security.KeyID{Mode: 3, Source: 0xACDE480000000001, Index: 2}
)

func openTestSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(SQLiteConfig{
		Path:          path,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testStoreContract exercises the behaviour every Store shares.
func testStoreContract(t *testing.T, s Store) {
	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(idIndex1)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.Put(idIndex1, keyA))
		got, err := s.Get(idIndex1)
		require.NoError(t, err)
		assert.Equal(t, keyA, got)
	})

	t.Run("returned key is a copy", func(t *testing.T) {
		got, err := s.Get(idIndex1)
		require.NoError(t, err)
		got[0] ^= 0xFF
		again, err := s.Get(idIndex1)
		require.NoError(t, err)
		assert.Equal(t, keyA, again)
	})

	t.Run("put replaces", func(t *testing.T) {
		require.NoError(t, s.Put(idIndex1, keyB))
		got, err := s.Get(idIndex1)
		require.NoError(t, err)
		assert.Equal(t, keyB, got)
	})

	t.Run("invalid key", func(t *testing.T) {
		assert.ErrorIs(t, s.Put(idImplicit, []byte{1, 2, 3}), security.ErrInvalidKey)
		_, err := s.Get(idImplicit)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("list is ordered", func(t *testing.T) {
		require.NoError(t, s.Put(idSource8, keyA))
		require.NoError(t, s.Put(idImplicit, keyA))
		ids, err := s.List()
		require.NoError(t, err)
		assert.Equal(t, []security.KeyID{idImplicit, idIndex1, idSource8}, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(idIndex1))
		_, err := s.Get(idIndex1)
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.NoError(t, s.Delete(idIndex1), "deleting a missing key")

		ids, err := s.List()
		require.NoError(t, err)
		assert.Equal(t, []security.KeyID{idImplicit, idSource8}, ids)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreCopiesInput(t *testing.T) {
	s := NewMemoryStore()
	key := append([]byte(nil), keyA...)
	require.NoError(t, s.Put(idIndex1, key))
	key[0] = 0

	got, err := s.Get(idIndex1)
	require.NoError(t, err)
	assert.Equal(t, keyA, got)
}

func TestMemoryStoreConcurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := security.KeyID{Mode: 1, Index: uint8(i)}
			for j := 0; j < 100; j++ {
				assert.NoError(t, s.Put(id, keyA))
				_, err := s.Get(id)
				assert.NoError(t, err)
				_, err = s.List()
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	ids, err := s.List()
	require.NoError(t, err)
	assert.Len(t, ids, 8)
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, openTestSQLite(t, ":memory:"))
}

func TestSQLiteStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "link.db")

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Put(idSource8, keyB))
	require.NoError(t, s.Close())

	reopened := openTestSQLite(t, path)
	got, err := reopened.Get(idSource8)
	require.NoError(t, err)
	assert.Equal(t, keyB, got)

	ids, err := reopened.List()
	require.NoError(t, err)
	assert.Equal(t, []security.KeyID{idSource8}, ids, "high-bit source survives the round trip")
}

// testCounterContract exercises the behaviour every CounterStore shares.
func testCounterContract(t *testing.T, s CounterStore) {
	const ext = 0xACDE480000000001

	got, err := s.LoadCounter(ext)
	require.NoError(t, err)
	assert.Zero(t, got, "no mark stored yet")

	require.NoError(t, s.SaveCounter(ext, 1024))
	require.NoError(t, s.SaveCounter(0x1, 7))
	got, err = s.LoadCounter(ext)
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), got)

	require.NoError(t, s.SaveCounter(ext, 0xFFFFFFFF))
	got, err = s.LoadCounter(ext)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), got)

	got, err = s.LoadCounter(0x1)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got)
}

func TestMemoryStoreCounters(t *testing.T) {
	testCounterContract(t, NewMemoryStore())
}

func TestSQLiteStoreCounters(t *testing.T) {
	testCounterContract(t, openTestSQLite(t, ":memory:"))
}

func TestSQLiteStoreCounterPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.db")

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.SaveCounter(0xACDE480000000001, 2048))
	require.NoError(t, s.Close())

	reopened := openTestSQLite(t, path)
	got, err := reopened.LoadCounter(0xACDE480000000001)
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), got)
}

func TestSQLiteStoreClosed(t *testing.T) {
	s, err := OpenSQLite(SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.ErrorIs(t, s.Put(idIndex1, keyA), ErrClosed)
	assert.ErrorIs(t, s.Delete(idIndex1), ErrClosed)
	_, err = s.Get(idIndex1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.List()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.LoadCounter(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SaveCounter(1, 1), ErrClosed)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(idIndex1, keyA))
	require.NoError(t, store.Put(idSource8, keyB))

	m := security.NewManager(security.ManagerConfig{})
	n, err := Load(store, m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []security.KeyID{idIndex1, idSource8}, m.IDs())

	// The installed context authenticates with the stored key.
	ctx := m.Context(idIndex1)
	require.NotNil(t, ctx)
	ref, err := security.NewContext(keyA)
	require.NoError(t, err)

	nonce := crypto.BuildNonceBlock(0xACDE480000000001, 1, uint8(security.LevelMIC64))
	a := make([]byte, 32)
	b := make([]byte, 32)
	copy(a, "frame under test")
	copy(b, "frame under test")
	require.NoError(t, ctx.Encrypt(a, nonce, nil, 16, 0, security.LevelMIC64))
	require.NoError(t, ref.Encrypt(b, nonce, nil, 16, 0, security.LevelMIC64))
	assert.Equal(t, b, a)
}

func TestLoadManagerFull(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(idIndex1, keyA))
	require.NoError(t, store.Put(idSource8, keyB))

	m := security.NewManager(security.ManagerConfig{MaxContexts: 1})
	n, err := Load(store, m)
	assert.ErrorIs(t, err, security.ErrManagerFull)
	assert.Equal(t, 1, n)
}

func TestDeriveKey(t *testing.T) {
	master := make([]byte, 16)
	for i := range master {
		master[i] = byte(i)
	}

	key, err := DeriveKey(master, idIndex1)
	require.NoError(t, err)
	assert.Equal(t, "d4cd663eed74a5e32d16a5df7376c7bb", hex.EncodeToString(key))

	other, err := DeriveKey(master, idSource8)
	require.NoError(t, err)
	assert.Len(t, other, security.KeySize)
	assert.NotEqual(t, key, other)

	_, err = DeriveKey(nil, idIndex1)
	assert.ErrorIs(t, err, security.ErrInvalidKey)
}

func TestKeyFromPassphrase(t *testing.T) {
	key, err := KeyFromPassphrase("correct horse", []byte("linksec-pan-0x4321"), 1000)
	require.NoError(t, err)
	assert.Equal(t, "7ccc46038723335ec43d64821dfd7b35", hex.EncodeToString(key))

	_, err = KeyFromPassphrase("", nil, 1000)
	assert.ErrorIs(t, err, security.ErrInvalidKey)

	_, err = KeyFromPassphrase("pw", nil, 10)
	assert.ErrorIs(t, err, ErrInvalidIterations)

	_, err = KeyFromPassphrase("pw", nil, crypto.PBKDF2IterationsMax+1)
	assert.ErrorIs(t, err, ErrInvalidIterations)
}
