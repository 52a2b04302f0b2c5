// Package cache provides caching for tiles and dataset metadata.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB   int
	TileTTL           time.Duration
	MetadataCacheSize int
}

// Manager manages the tile and metadata caches.
type Manager struct {
	tileCache *bigcache.BigCache
	metaCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       512 * 1024, // generous bound for a single stored tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	metaCache, err := lru.New[string, []byte](cfg.MetadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	return &Manager{
		tileCache: tileCache,
		metaCache: metaCache,
	}, nil
}

// GetTile retrieves a tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetMetadata retrieves a serialized metadata document from cache.
func (m *Manager) GetMetadata(key string) ([]byte, bool) {
	return m.metaCache.Get(key)
}

// SetMetadata stores a serialized metadata document in cache.
func (m *Manager) SetMetadata(key string, data []byte) {
	m.metaCache.Add(key, data)
}

// TileKey generates a cache key for a tile.
func TileKey(dataset string, z, x, y int) string {
	return fmt.Sprintf("tile:%s:%d/%d/%d", dataset, z, x, y)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len": m.tileCache.Len(),
		"tile_cache_cap": m.tileCache.Capacity(),
		"meta_cache_len": m.metaCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
