// Package localcache stores downloaded files on disk with LRU
// eviction.
package localcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type entry struct {
	localPath  string
	size       int64
	lastAccess time.Time
}

// Store manages locally materialized downloads under one directory.
type Store struct {
	dir     string
	maxSize int64

	mu      sync.Mutex
	entries map[string]*entry
	size    int64
}

// New creates a store rooted at dir, evicting least-recently-used
// files once the total size would exceed maxSize.
func New(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*entry),
	}, nil
}

// Path returns the local path for a cached node, if present.
func (s *Store) Path(nodeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[nodeID]
	if !ok {
		return "", false
	}
	e.lastAccess = time.Now()
	return e.localPath, true
}

// Put materializes a node's content under the given file name.
// Content is written atomically (temp file then rename).
func (s *Store) Put(nodeID, fileName string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localPath := filepath.Join(s.dir, nodeID+"_"+filepath.Base(fileName))
	tempPath := localPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(f, r)
	f.Close()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write content: %w", err)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	if old, ok := s.entries[nodeID]; ok {
		if old.localPath != localPath {
			os.Remove(old.localPath)
		}
		s.size -= old.size
	}
	s.entries[nodeID] = &entry{
		localPath:  localPath,
		size:       written,
		lastAccess: time.Now(),
	}
	s.size += written

	for s.size > s.maxSize {
		if !s.evictOldest(nodeID) {
			break
		}
	}
	return localPath, nil
}

// evictOldest removes the least recently used entry other than keep.
// Must be called with the lock held.
func (s *Store) evictOldest(keep string) bool {
	var oldestID string
	var oldest *entry
	for id, e := range s.entries {
		if id == keep {
			continue
		}
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldest = e
			oldestID = id
		}
	}
	if oldest == nil {
		return false
	}
	os.Remove(oldest.localPath)
	s.size -= oldest.size
	delete(s.entries, oldestID)
	return true
}

// Remove drops a node's cached content.
func (s *Store) Remove(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[nodeID]
	if !ok {
		return
	}
	os.Remove(e.localPath)
	s.size -= e.size
	delete(s.entries, nodeID)
}

// Clear removes every cached file and returns how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, e := range s.entries {
		os.Remove(e.localPath)
		s.size -= e.size
		delete(s.entries, id)
		count++
	}
	return count
}

// Stats returns the current size, the size limit and the entry count.
func (s *Store) Stats() (size, maxSize int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.maxSize, len(s.entries)
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}
