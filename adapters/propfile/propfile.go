// Package propfile provides a ports.ConfigStore backed by a Java-style
// .properties file.
package propfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/artpar/modkernel/ports"
	"github.com/magiconair/properties"
)

const header = "# Modularitea module configuration\n"

// Store keeps the file contents in memory. Every Set rewrites the file.
type Store struct {
	mu    sync.RWMutex
	path  string
	props *properties.Properties
}

// Open loads path, creating the file and its directory when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	props, err := loader.LoadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		props = properties.NewProperties()
		props.DisableExpansion = true
		s := &Store{path: path, props: props}
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return &Store{path: path, props: props}, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Get(key)
}

// Set stores value under key and rewrites the file. On write failure the
// previous value is restored.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed, err := s.props.Set(key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	if err := s.flush(); err != nil {
		if existed {
			s.props.Set(key, prev)
		} else {
			s.props.Delete(key)
		}
		return err
	}
	return nil
}

// All returns a copy of every stored pair.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Map()
}

// Close is a no-op; every Set is already on disk.
func (s *Store) Close() error {
	return nil
}

// flush writes the properties to a temp file and renames it over path.
func (s *Store) flush() error {
	var buf bytes.Buffer
	buf.WriteString(header)
	if _, err := s.props.Write(&buf, properties.UTF8); err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".properties-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

var _ ports.ConfigStore = (*Store)(nil)
