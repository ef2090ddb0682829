package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"equity-backtest/internal/model"
)

// CacheEntry is a parsed dataset plus the file state it was parsed from.
type CacheEntry struct {
	Prices    model.PriceSeries
	ModTime   time.Time
	ExpiresAt time.Time
}

// DatasetCache keeps parsed market data files in memory so repeated API
// backtests over the same file skip parsing. Entries are invalidated when the
// file's modification time changes or the TTL elapses.
type DatasetCache struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
	ttl   time.Duration
	load  func(path string) (model.PriceSeries, error)
}

// NewDatasetCache creates a cache with the given TTL (default 1h when <= 0).
func NewDatasetCache(ttl time.Duration) *DatasetCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DatasetCache{
		store: make(map[string]*CacheEntry),
		ttl:   ttl,
		load:  LoadFile,
	}
}

// Load returns the parsed file at path, reading it on a miss.
// Callers must treat the returned series as read-only.
func (c *DatasetCache) Load(path string) (model.PriceSeries, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := GenerateCacheKey(path)

	c.mu.RLock()
	entry, ok := c.store[key]
	c.mu.RUnlock()
	if ok && entry.ModTime.Equal(info.ModTime()) && time.Now().Before(entry.ExpiresAt) {
		return entry.Prices, nil
	}

	prices, err := c.load(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.store[key] = &CacheEntry{
		Prices:    prices,
		ModTime:   info.ModTime(),
		ExpiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
	return prices, nil
}

// Len is the number of cached files.
func (c *DatasetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Clear removes all entries from the cache
func (c *DatasetCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*CacheEntry)
}

// RunCleanup removes expired entries every interval until ctx is done.
func (c *DatasetCache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *DatasetCache) evictExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.store {
		if now.After(entry.ExpiresAt) {
			delete(c.store, key)
		}
	}
}

// GenerateCacheKey hashes the dataset path into a fixed-size key.
func GenerateCacheKey(path string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("dataset:%s", path)))
	return hex.EncodeToString(hash[:])
}
