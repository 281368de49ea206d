package scanning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const cacheBucketName = "responses"

// Cache stores raw model responses keyed by a hash of the request payload.
// Entries never expire.
type Cache interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// BoltCache implements Cache on a bbolt file
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens or creates the cache file at path
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// Get returns the cached response for key
func (b *BoltCache) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cacheBucketName)).Get([]byte(key))
		if data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	return value, found, err
}

// Put stores a response under key
func (b *BoltCache) Put(key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucketName)).Put([]byte(key), []byte(value))
	})
}

// Close closes the cache file
func (b *BoltCache) Close() error {
	return b.db.Close()
}

// cacheKey hashes the serialized request payload
func cacheKey(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// cachedCall returns the cached response for payload or invokes call and
// stores its result. A nil cache always invokes call.
func cachedCall(cache Cache, payload any, call func() (string, error)) (string, error) {
	if cache == nil {
		return call()
	}

	key, err := cacheKey(payload)
	if err != nil {
		return "", err
	}

	if value, ok, err := cache.Get(key); err != nil {
		slog.Warn("Failed to read extraction cache", "key", key, "error", err)
	} else if ok {
		slog.Debug("Extraction cache hit", "key", key)
		return value, nil
	}

	value, err := call()
	if err != nil {
		return "", err
	}
	if err := cache.Put(key, value); err != nil {
		slog.Warn("Failed to write extraction cache", "key", key, "error", err)
	}
	return value, nil
}
