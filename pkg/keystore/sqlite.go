package keystore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/backkem/linksec/pkg/security"
	"github.com/pion/logging"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS link_keys (
	mode    INTEGER NOT NULL,
	source  INTEGER NOT NULL,
	idx     INTEGER NOT NULL,
	key     BLOB    NOT NULL,
	PRIMARY KEY (mode, source, idx)
)`, `
CREATE TABLE IF NOT EXISTS frame_counters (
	ext  INTEGER PRIMARY KEY,
	next INTEGER NOT NULL
)`,
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps the store in memory.
	Path string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// SQLiteStore persists link keys and frame counters in a SQLite database.
//
// All methods are safe for concurrent use.
type SQLiteStore struct {
	db  *sql.DB
	log logging.LeveledLogger

	mu     sync.RWMutex
	closed bool
}

// OpenSQLite opens (creating if needed) the key database at config.Path.
func OpenSQLite(config SQLiteConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, errors.New("keystore: database path required")
	}

	s := &SQLiteStore{}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("keystore")
	}

	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o700); err != nil {
			return nil, fmt.Errorf("keystore: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("keystore: open database: %w", err)
	}

	// SQLite has one writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("keystore: create schema: %w", err)
		}
	}

	s.db = db
	if s.log != nil {
		s.log.Infof("opened key database %s", config.Path)
	}
	return s, nil
}

// Get returns the key stored under id.
func (s *SQLiteStore) Get(id security.KeyID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var key []byte
	err := s.db.QueryRow(
		`SELECT key FROM link_keys WHERE mode = ? AND source = ? AND idx = ?`,
		int64(id.Mode), int64(id.Source), int64(id.Index),
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: get %v: %w", id, err)
	}
	return key, nil
}

// Put stores or replaces the key for id.
func (s *SQLiteStore) Put(id security.KeyID, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`INSERT INTO link_keys (mode, source, idx, key) VALUES (?, ?, ?, ?)
		 ON CONFLICT (mode, source, idx) DO UPDATE SET key = excluded.key`,
		int64(id.Mode), int64(id.Source), int64(id.Index), key,
	)
	if err != nil {
		return fmt.Errorf("keystore: put %v: %w", id, err)
	}

	if s.log != nil {
		s.log.Debugf("stored %v", id)
	}
	return nil
}

// Delete removes the key for id.
func (s *SQLiteStore) Delete(id security.KeyID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`DELETE FROM link_keys WHERE mode = ? AND source = ? AND idx = ?`,
		int64(id.Mode), int64(id.Source), int64(id.Index),
	)
	if err != nil {
		return fmt.Errorf("keystore: delete %v: %w", id, err)
	}

	if s.log != nil {
		s.log.Debugf("deleted %v", id)
	}
	return nil
}

// List returns the stored key IDs ordered by mode, source and index.
func (s *SQLiteStore) List() ([]security.KeyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT mode, source, idx FROM link_keys`)
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}
	defer rows.Close()

	var ids []security.KeyID
	for rows.Next() {
		var mode, source, index int64
		if err := rows.Scan(&mode, &source, &index); err != nil {
			return nil, fmt.Errorf("keystore: list: %w", err)
		}
		ids = append(ids, security.KeyID{
			Mode:   uint8(mode),
			Source: uint64(source),
			Index:  uint8(index),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}

	// Sources are stored as signed integers, so order in Go.
	sortIDs(ids)
	return ids, nil
}

// LoadCounter returns the counter mark saved for ext, or 0.
func (s *SQLiteStore) LoadCounter(ext uint64) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var next int64
	err := s.db.QueryRow(`SELECT next FROM frame_counters WHERE ext = ?`, int64(ext)).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("keystore: load counter %016X: %w", ext, err)
	}
	return uint32(next), nil
}

// SaveCounter records the counter mark for ext.
func (s *SQLiteStore) SaveCounter(ext uint64, next uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`INSERT INTO frame_counters (ext, next) VALUES (?, ?)
		 ON CONFLICT (ext) DO UPDATE SET next = excluded.next`,
		int64(ext), int64(next),
	)
	if err != nil {
		return fmt.Errorf("keystore: save counter %016X: %w", ext, err)
	}
	if s.log != nil {
		s.log.Tracef("counter %016X reserved to %d", ext, next)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

var (
	_ Store        = (*SQLiteStore)(nil)
	_ CounterStore = (*SQLiteStore)(nil)
)
