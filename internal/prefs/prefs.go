// Package prefs stores small per-user preferences that outlive a session,
// such as the cursor-sharing opt-out.
package prefs

import (
	"fmt"
	"strconv"
	"sync"

	"go.etcd.io/bbolt"
)

// ShareCursor is the preference key of the cursor-sharing flag.
const ShareCursor = "share-cursor"

var bucketPrefs = []byte("prefs")

// Store reads and writes boolean preferences.
type Store interface {
	// Bool returns the stored value, or def when the key was never set.
	Bool(key string, def bool) (bool, error)
	SetBool(key string, value bool) error
}

// BoltStore is a Store persisted in a bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the preference file at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPrefs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create prefs bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying file.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Bool implements Store.
func (s *BoltStore) Bool(key string, def bool) (bool, error) {
	value := def
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPrefs).Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, err := strconv.ParseBool(string(raw))
		if err != nil {
			return fmt.Errorf("preference %q: %w", key, err)
		}
		value = v
		return nil
	})
	if err != nil {
		return def, err
	}
	return value, nil
}

// SetBool implements Store.
func (s *BoltStore) SetBool(key string, value bool) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrefs).Put([]byte(key), []byte(strconv.FormatBool(value)))
	})
	if err != nil {
		return fmt.Errorf("save preference %q: %w", key, err)
	}
	return nil
}

// Memory is an in-process Store for tests and ephemeral sessions.
type Memory struct {
	mu     sync.Mutex
	values map[string]bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]bool)}
}

// Bool implements Store.
func (m *Memory) Bool(key string, def bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

// SetBool implements Store.
func (m *Memory) SetBool(key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
