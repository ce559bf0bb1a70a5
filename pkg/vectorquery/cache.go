// Package vectorquery runs read-only SQL over a vector layer's cached
// geopackage file using an in-memory DuckDB engine.
package vectorquery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fetcher materializes a layer's source object. Satisfied by storage.Store.
type Fetcher interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// defaultMaxCacheBytes bounds the on-disk cache before unpinned entries are
// evicted least-recently-used first.
const defaultMaxCacheBytes = 2 << 30

type cacheEntry struct {
	path     string
	size     int64
	pins     int
	lastUsed time.Time
}

// LayerCache is a pinned filesystem LRU of layer geopackage files. Acquire
// pins an entry so eviction cannot remove a file while a query holds its
// path.
type LayerCache struct {
	fetcher  Fetcher
	dir      string
	maxBytes int64

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewLayerCache creates a cache rooted at dir. The directory is created if
// missing.
func NewLayerCache(fetcher Fetcher, dir string) (*LayerCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create layer cache dir: %w", err)
	}
	return &LayerCache{
		fetcher:  fetcher,
		dir:      dir,
		maxBytes: defaultMaxCacheBytes,
		entries:  make(map[string]*cacheEntry),
	}, nil
}

// Acquire returns the local path of the layer's cached file and a release
// function that must be called when the path is no longer in use. The file
// is downloaded on first use.
func (c *LayerCache) Acquire(ctx context.Context, layerID, objectKey string) (string, func(), error) {
	c.mu.Lock()
	if entry, ok := c.entries[layerID]; ok {
		entry.pins++
		entry.lastUsed = time.Now()
		c.mu.Unlock()
		return entry.path, c.releaseFunc(layerID), nil
	}
	c.mu.Unlock()

	path, size, err := c.download(ctx, layerID, objectKey)
	if err != nil {
		return "", nil, err
	}

	c.mu.Lock()
	// Another goroutine may have populated the entry while we downloaded.
	if entry, ok := c.entries[layerID]; ok {
		entry.pins++
		entry.lastUsed = time.Now()
		c.mu.Unlock()
		_ = os.Remove(path)
		return entry.path, c.releaseFunc(layerID), nil
	}
	c.entries[layerID] = &cacheEntry{path: path, size: size, pins: 1, lastUsed: time.Now()}
	c.evictLocked()
	c.mu.Unlock()

	return path, c.releaseFunc(layerID), nil
}

func (c *LayerCache) releaseFunc(layerID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if entry, ok := c.entries[layerID]; ok && entry.pins > 0 {
				entry.pins--
			}
		})
	}
}

func (c *LayerCache) download(ctx context.Context, layerID, objectKey string) (string, int64, error) {
	body, _, err := c.fetcher.Get(ctx, objectKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch layer %s: %w", layerID, err)
	}
	defer body.Close()

	path := filepath.Join(c.dir, layerID+".gpkg")
	tmp, err := os.CreateTemp(c.dir, layerID+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create cache file: %w", err)
	}
	size, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to write cache file for %s: %w", layerID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to place cache file for %s: %w", layerID, err)
	}
	return path, size, nil
}

// evictLocked drops unpinned entries, least recently used first, until the
// cache fits the byte budget. Caller holds c.mu.
func (c *LayerCache) evictLocked() {
	var total int64
	for _, entry := range c.entries {
		total += entry.size
	}
	for total > c.maxBytes {
		var victimID string
		var victim *cacheEntry
		for id, entry := range c.entries {
			if entry.pins > 0 {
				continue
			}
			if victim == nil || entry.lastUsed.Before(victim.lastUsed) {
				victimID, victim = id, entry
			}
		}
		if victim == nil {
			return // everything pinned
		}
		delete(c.entries, victimID)
		total -= victim.size
		if err := os.Remove(victim.path); err != nil {
			slog.Warn("Failed to remove evicted cache file", "layer_id", victimID, "error", err)
		}
	}
}
