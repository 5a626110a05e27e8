// Package cache keeps fetched documents on local disk for a bounded time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrMiss is returned by Get when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Entry is the metadata stored next to each cached payload
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Stats counts lookups since the cache was opened or cleared
type Stats struct {
	Entries int     `json:"entries"`
	Bytes   int64   `json:"bytes"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// FileCache stores each entry as <hash>.data plus <hash>.meta in one directory.
// When a write would exceed maxBytes the oldest entries are evicted first.
type FileCache struct {
	directory string
	maxBytes  int64
	ttl       time.Duration

	mu     sync.Mutex
	hits   int64
	misses int64
	now    func() time.Time
}

// NewFileCache creates directory if needed. A non-positive maxBytes means unbounded.
func NewFileCache(directory string, maxBytes int64, ttl time.Duration) (*FileCache, error) {
	if strings.TrimSpace(directory) == "" {
		return nil, errors.New("cache directory is required")
	}

	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive: %s", ttl)
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{directory: directory, maxBytes: maxBytes, ttl: ttl, now: time.Now}, nil
}

// Get returns the payload for key, or ErrMiss
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.readEntry(key)
	if err != nil {
		c.misses++
		return nil, ErrMiss
	}

	if !c.now().Before(entry.ExpiresAt) {
		c.misses++
		c.remove(key)

		return nil, ErrMiss
	}

	data, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		c.misses++
		return nil, ErrMiss
	}

	c.hits++

	return data, nil
}

// Set stores data under key for the cache's ttl
func (c *FileCache) Set(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := Entry{Key: key, CreatedAt: now, ExpiresAt: now.Add(c.ttl), Size: int64(len(data))}

	c.remove(key)

	if err := c.makeRoom(entry.Size); err != nil {
		return err
	}

	meta, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}

	if err := os.WriteFile(c.dataPath(key), data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache data: %w", err)
	}

	if err := os.WriteFile(c.metaPath(key), meta, 0o600); err != nil {
		_ = os.Remove(c.dataPath(key))
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return nil
}

func (c *FileCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
}

// Clear removes every entry and resets the counters
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.entries()
	if err != nil {
		return err
	}

	for _, e := range entries {
		c.remove(e.Key)
	}

	c.hits, c.misses = 0, 0

	return nil
}

// Cleanup removes expired entries and reports how many were dropped
func (c *FileCache) Cleanup() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0

	for _, e := range entries {
		if !now.Before(e.ExpiresAt) {
			c.remove(e.Key)
			removed++
		}
	}

	return removed, nil
}

func (c *FileCache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.entries()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Entries: len(entries), Hits: c.hits, Misses: c.misses}
	for _, e := range entries {
		stats.Bytes += e.Size
	}

	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	return stats, nil
}

// makeRoom evicts oldest entries until size more bytes fit; the caller holds mu
func (c *FileCache) makeRoom(size int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	if size > c.maxBytes {
		return fmt.Errorf("entry of %d bytes exceeds cache limit of %d bytes", size, c.maxBytes)
	}

	entries, err := c.entries()
	if err != nil {
		return err
	}

	var used int64
	for _, e := range entries {
		used += e.Size
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	for _, e := range entries {
		if used+size <= c.maxBytes {
			break
		}

		c.remove(e.Key)
		used -= e.Size
	}

	return nil
}

// entries reads every metadata file; unreadable ones are skipped
func (c *FileCache) entries() ([]Entry, error) {
	files, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var entries []Entry

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".meta") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(c.directory, f.Name()))
		if err != nil {
			continue
		}

		var e Entry
		if json.Unmarshal(data, &e) == nil {
			entries = append(entries, e)
		}
	}

	return entries, nil
}

func (c *FileCache) readEntry(key string) (Entry, error) {
	data, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return Entry{}, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}

	return e, nil
}

func (c *FileCache) remove(key string) {
	_ = os.Remove(c.dataPath(key))
	_ = os.Remove(c.metaPath(key))
}

func (c *FileCache) dataPath(key string) string {
	return filepath.Join(c.directory, hashKey(key)+".data")
}

func (c *FileCache) metaPath(key string) string {
	return filepath.Join(c.directory, hashKey(key)+".meta")
}

// hashKey maps any key to a short file-safe name
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
