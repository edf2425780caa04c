package sqlite

import (
	"fmt"
	"maps"
	"sync"

	"github.com/artpar/modkernel/ports"
)

// ConfigStore implements ports.ConfigStore on the module_settings table.
// Rows are cached at open; Set writes through before updating the cache.
type ConfigStore struct {
	db *DB

	mu     sync.RWMutex
	values map[string]string
}

// OpenConfigStore opens the database at path, applies migrations and
// loads every stored setting.
func OpenConfigStore(path string) (*ConfigStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := NewConfigStore(db)
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewConfigStore creates a store over a migrated database.
// Call OpenConfigStore unless the DB is shared.
func NewConfigStore(db *DB) *ConfigStore {
	return &ConfigStore{db: db, values: make(map[string]string)}
}

func (s *ConfigStore) load() error {
	rows, err := s.db.Query(`SELECT key, value FROM module_settings`)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Get returns the value stored under key.
func (s *ConfigStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set upserts key and updates the cache once the write succeeded.
func (s *ConfigStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO module_settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}

	s.values[key] = value
	return nil
}

// All returns a copy of every stored setting.
func (s *ConfigStore) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Close closes the database.
func (s *ConfigStore) Close() error {
	return s.db.Close()
}

var _ ports.ConfigStore = (*ConfigStore)(nil)
