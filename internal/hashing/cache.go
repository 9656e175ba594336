package hashing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// cacheVersion is part of every key so that a change to the shingling
// scheme never serves stale structure from an old cache file
const cacheVersion = "v1"

var bucketFingerprints = []byte("fingerprints")

// Cache stores the structural part of fingerprints keyed by content hash.
// It is a derived, disposable view: deleting the file only costs recompute.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens (or creates) a bbolt cache file
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open fingerprint cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFingerprints)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize fingerprint cache: %w", err)
	}

	return &Cache{db: db}, nil
}

func cacheKey(hash string) []byte {
	return []byte(cacheVersion + ":" + hash)
}

// get returns the cached structure for a content hash, or nil on a miss
func (c *Cache) get(hash string) (*structure, error) {
	var st *structure
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFingerprints).Get(cacheKey(hash))
		if data == nil {
			return nil
		}
		var decoded structure
		if err := json.Unmarshal(data, &decoded); err != nil {
			return fmt.Errorf("corrupt cache entry for %s: %w", hash, err)
		}
		st = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// put stores the structure for a content hash
func (c *Cache) put(hash string, st *structure) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFingerprints).Put(cacheKey(hash), data)
	})
}

// Len returns the number of cached entries
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketFingerprints).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the cache file
func (c *Cache) Close() error {
	return c.db.Close()
}
