package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"civitai-model-sync/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// Cache is a bitcask-backed store of by-hash catalog lookups, so repeated
// scans don't re-query the API for files it has already resolved (or already
// found no match for). It is expendable: deleting it only costs lookups, the
// sidecar files on disk remain the source of truth.
type Cache struct {
	db *bitcask.Bitcask
	mu sync.RWMutex
}

// ErrNotFound is returned when a key is not present in the cache.
var ErrNotFound = errors.New("key not found")

// noMatchSentinel marks a cached "catalog has no record for this hash".
var noMatchSentinel = []byte("!nomatch")

// Open initializes the cache at path, creating parent directories as needed.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
	}
	db, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lookup cache at %s: %w", path, err)
	}
	log.Debugf("Lookup cache opened at %s", path)
	return &Cache{db: db}, nil
}

// Close safely closes the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

func hashKey(sha256Hex string) []byte {
	return []byte("hash:" + sha256Hex)
}

// GetVersionByHash returns the cached lookup result for a content hash.
// A hit may be a nil version: the catalog was asked before and had no match.
func (c *Cache) GetVersionByHash(sha256Hex string) (*models.VersionResponse, error) {
	c.mu.RLock()
	value, err := c.db.Get(hashKey(sha256Hex))
	c.mu.RUnlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading cache entry for %s: %w", sha256Hex, err)
	}

	if string(value) == string(noMatchSentinel) {
		return nil, nil
	}
	var version models.VersionResponse
	if err := json.Unmarshal(value, &version); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		log.WithError(err).Warnf("Corrupt cache entry for hash %s", sha256Hex)
		return nil, ErrNotFound
	}
	return &version, nil
}

// PutVersionByHash records a lookup result. version may be nil to cache a
// "no match" outcome.
func (c *Cache) PutVersionByHash(sha256Hex string, version *models.VersionResponse) error {
	value := noMatchSentinel
	if version != nil {
		data, err := json.Marshal(version)
		if err != nil {
			return fmt.Errorf("error marshalling cache entry for %s: %w", sha256Hex, err)
		}
		value = data
	}

	c.mu.Lock()
	err := c.db.Put(hashKey(sha256Hex), value)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error writing cache entry for %s: %w", sha256Hex, err)
	}
	return nil
}
