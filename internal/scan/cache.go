package scan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// CacheEntry holds cached metadata for a single file.
type CacheEntry struct {
	Hash    string `json:"hash"`
	ModTime int64  `json:"mod_time"`
	Size    int64  `json:"size"`
}

// FileCache avoids re-hashing files whose size and mtime are unchanged.
type FileCache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]CacheEntry
	dirty   bool
}

// NewFileCache creates or loads the cache stored under .convlint/.
func NewFileCache(workspaceRoot string) *FileCache {
	c := &FileCache{
		path:    filepath.Join(workspaceRoot, ".convlint", "cache.json"),
		entries: make(map[string]CacheEntry),
	}
	c.load()
	return c
}

func (c *FileCache) load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		// Corrupt cache, start fresh.
		c.entries = make(map[string]CacheEntry)
	}
}

// Save writes the cache to disk if anything changed.
func (c *FileCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Get returns the cached hash if the file's size and mtime still match.
func (c *FileCache) Get(path string, info os.FileInfo) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return "", false
	}
	if entry.ModTime == info.ModTime().Unix() && entry.Size == info.Size() {
		return entry.Hash, true
	}
	return "", false
}

// Update records a freshly computed hash.
func (c *FileCache) Update(path string, info os.FileInfo, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = CacheEntry{
		Hash:    hash,
		ModTime: info.ModTime().Unix(),
		Size:    info.Size(),
	}
	c.dirty = true
}
