// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileExt = ".json"

// FileStore keeps one JSON file per key in a directory. Several processes
// may share the directory; each write is an atomic tmp+rename.
type FileStore struct {
	dir string

	mu      sync.Mutex
	written map[string]string // key -> hash of the last value this process wrote
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir, written: make(map[string]string)}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// PathFor returns the file that holds key.
func (s *FileStore) PathFor(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// KeyForPath maps a file in the store directory back to its key. It reports
// false for temp files and anything outside the directory.
func (s *FileStore) KeyForPath(path string) (string, bool) {
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return "", false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(base, fileExt), true
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.PathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	path := s.PathFor(key)
	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close tmp file: %w", err)
	}

	// Record the hash before the rename so a watcher never sees our own
	// write as foreign.
	s.mu.Lock()
	s.written[key] = hashBytes(value)
	s.mu.Unlock()

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename tmp to %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.written, key)
	s.mu.Unlock()
	if err := os.Remove(s.PathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("glob store: %w", err)
	}
	var keys []string
	for _, m := range matches {
		if key, ok := s.KeyForPath(m); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// IsOwnWrite reports whether the current content of key is exactly what this
// process last wrote.
func (s *FileStore) IsOwnWrite(key string) bool {
	data, err := os.ReadFile(s.PathFor(key))
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.written[key]
	return ok && h == hashBytes(data)
}

func (s *FileStore) Close() error { return nil }

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
