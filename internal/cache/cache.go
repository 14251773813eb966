// Package cache is a content-addressed result cache for retrieval calls.
// Entries live on disk as one file per key: a JSON metadata header line
// followed by the raw payload. The in-memory index is authoritative at
// runtime; on startup it is rebuilt by reading headers.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/logscout/logscout/internal/config"
)

// historicalAge is how far in the past a request window must end for its
// entry to be treated as immutable and exempt from TTL eviction.
const historicalAge = 24 * time.Hour

// Stats is a point-in-time snapshot of cache accounting.
type Stats struct {
	EntryCount int    `json:"entry_count"`
	TotalBytes int64  `json:"total_bytes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
}

type entry struct {
	key          string
	size         int64
	createdAt    time.Time
	lastAccessed time.Time
	windowEnd    time.Time
}

// header is the metadata line persisted in front of each payload.
type header struct {
	CreatedAt      int64 `json:"created_at"`
	LastAccessedAt int64 `json:"last_accessed_at"`
	Size           int64 `json:"size"`
	WindowEnd      int64 `json:"window_end,omitempty"`
}

// Cache stores raw retrieval payloads keyed by canonical request hash.
// All operations are local; the cache never touches the network.
type Cache struct {
	mu           sync.Mutex
	dir          string
	capacity     int64
	ttl          time.Duration
	recencyFloor time.Duration
	entries      map[string]*entry
	totalBytes   int64
	hits         uint64
	misses       uint64
	logger       *slog.Logger
	now          func() time.Time
}

// New opens (or creates) the cache directory and rebuilds the index from
// the entry headers found there.
func New(cfg config.CacheConfig, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	c := &Cache{
		dir:          cfg.Dir,
		capacity:     cfg.CapacityBytes,
		ttl:          cfg.TTL,
		recencyFloor: cfg.RecencyFloor,
		entries:      make(map[string]*entry),
		logger:       logger,
		now:          time.Now,
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) loadIndex() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache directory: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".entry") {
			continue
		}
		key := strings.TrimSuffix(de.Name(), ".entry")
		h, err := c.readHeader(key)
		if err != nil {
			c.logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
			if rmErr := os.Remove(c.entryPath(key)); rmErr != nil {
				c.logger.Warn("failed to remove cache entry", "key", key, "error", rmErr)
			}
			continue
		}
		e := &entry{
			key:          key,
			size:         h.Size,
			createdAt:    time.Unix(h.CreatedAt, 0),
			lastAccessed: time.Unix(h.LastAccessedAt, 0),
		}
		if h.WindowEnd != 0 {
			e.windowEnd = time.Unix(h.WindowEnd, 0)
		}
		c.entries[key] = e
		c.totalBytes += e.size
	}
	c.logger.Info("Cache index loaded", "entries", len(c.entries), "total_bytes", c.totalBytes)
	return nil
}

// Lookup returns the raw payload for key, or absent. An expired entry is
// treated as a miss and evicted on the spot; no background sweep exists.
func (c *Cache) Lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(e) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}

	payload, err := c.readPayload(key)
	if err != nil {
		c.logger.Warn("cache entry unreadable, evicting", "key", key, "error", err)
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	e.lastAccessed = c.now()
	c.hits++
	return payload, true
}

// Store writes the payload for key, replacing any existing entry, then
// evicts least-recently-accessed entries until total size fits capacity.
// Entries younger than the recency floor are skipped by eviction so a
// burst of tool calls cannot thrash its own working set.
func (c *Cache) Store(key string, payload []byte, windowEnd time.Time) error {
	if int64(len(payload)) > c.capacity {
		// An entry that alone exceeds capacity can never satisfy the size
		// invariant; serve it uncached.
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.size
		delete(c.entries, key)
	}

	e := &entry{
		key:          key,
		size:         int64(len(payload)),
		createdAt:    now,
		lastAccessed: now,
		windowEnd:    windowEnd,
	}
	if err := c.writeEntry(e, payload); err != nil {
		return err
	}
	c.entries[key] = e
	c.totalBytes += e.size

	c.evictForCapacityLocked(e.key)
	return nil
}

// EvictExpired removes every entry whose TTL has lapsed. Lookup already
// evicts lazily; this exists for callers that want a bounded directory
// without waiting for the next miss.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		if c.expired(e) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Stats returns current accounting.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		EntryCount: len(c.entries),
		TotalBytes: c.totalBytes,
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

func (c *Cache) expired(e *entry) bool {
	now := c.now()
	// Windows that ended long ago hold immutable data; age does not make
	// them stale. They remain subject to size eviction.
	if !e.windowEnd.IsZero() && now.Sub(e.windowEnd) > historicalAge {
		return false
	}
	return now.Sub(e.createdAt) > c.ttl
}

// evictForCapacityLocked drops least-recently-accessed entries (ties by
// oldest createdAt) until totalBytes fits capacity. The entry just stored
// and entries younger than the recency floor are protected.
func (c *Cache) evictForCapacityLocked(justStored string) {
	if c.totalBytes <= c.capacity {
		return
	}

	now := c.now()
	candidates := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.key == justStored {
			continue
		}
		if now.Sub(e.createdAt) < c.recencyFloor {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].lastAccessed.Equal(candidates[j].lastAccessed) {
			return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})

	for _, e := range candidates {
		if c.totalBytes <= c.capacity {
			return
		}
		c.removeLocked(e)
	}
	if c.totalBytes > c.capacity {
		c.logger.Debug("cache over capacity, all remaining entries inside recency floor",
			"total_bytes", c.totalBytes, "capacity", c.capacity)
	}
}

func (c *Cache) removeLocked(e *entry) {
	if _, ok := c.entries[e.key]; !ok {
		return
	}
	delete(c.entries, e.key)
	c.totalBytes -= e.size
	if err := os.Remove(c.entryPath(e.key)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cache entry file", "key", e.key, "error", err)
	}
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".entry")
}

func (c *Cache) writeEntry(e *entry, payload []byte) error {
	h := header{
		CreatedAt:      e.createdAt.Unix(),
		LastAccessedAt: e.lastAccessed.Unix(),
		Size:           e.size,
	}
	if !e.windowEnd.IsZero() {
		h.WindowEnd = e.windowEnd.Unix()
	}
	headerLine, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal cache header: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "entry-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Debug("failed to remove temp cache file", "error", rmErr)
		}
	}
	if _, err := tmp.Write(append(headerLine, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write cache header: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write cache payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.entryPath(e.key)); err != nil {
		cleanup()
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

func (c *Cache) readHeader(key string) (header, error) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return header{}, err
	}
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return header{}, fmt.Errorf("cache entry missing header delimiter")
	}
	var h header
	if err := json.Unmarshal(data[:idx], &h); err != nil {
		return header{}, fmt.Errorf("decode cache header: %w", err)
	}
	if h.Size != int64(len(data)-idx-1) {
		return header{}, fmt.Errorf("cache entry size mismatch: header %d, payload %d", h.Size, len(data)-idx-1)
	}
	return h, nil
}

func (c *Cache) readPayload(key string) ([]byte, error) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return nil, err
	}
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, fmt.Errorf("cache entry missing header delimiter")
	}
	return data[idx+1:], nil
}

