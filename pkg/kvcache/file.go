package kvcache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File is a directory-backed Cache. Each key maps to one file; writes
// are atomic (temp file then rename). A budget of 0 means unlimited.
type File struct {
	mu     sync.Mutex
	dir    string
	budget int64
}

// NewFile creates a file-backed cache rooted at dir.
func NewFile(dir string, budget int64) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &File{dir: dir, budget: budget}, nil
}

// fileName maps a key to a filesystem-safe name, reversibly.
func fileName(key string) string {
	return url.QueryEscape(key)
}

func (f *File) keyPath(key string) string {
	return filepath.Join(f.dir, fileName(key))
}

// Get returns the stored value, if any.
func (f *File) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.keyPath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores value under key, enforcing the total byte budget across
// all keys in the directory.
func (f *File) Put(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.budget > 0 {
		used, err := f.usedExcept(key)
		if err != nil {
			return fmt.Errorf("scan cache dir: %w", err)
		}
		if used+int64(len(value)) > f.budget {
			return ErrQuotaExceeded
		}
	}

	path := f.keyPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Delete removes key.
func (f *File) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	os.Remove(f.keyPath(key))
}

// Keys returns all stored keys with the given prefix.
func (f *File) Keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		key, err := url.QueryUnescape(e.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}

// usedExcept sums stored bytes for all keys other than key.
// Must be called with the lock held.
func (f *File) usedExcept(key string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	skip := fileName(key)
	var total int64
	for _, e := range entries {
		if e.IsDir() || e.Name() == skip || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
