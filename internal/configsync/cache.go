package configsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketConfig = []byte("config")

// ErrNotCached is returned when a key has never been stored.
var ErrNotCached = errors.New("config key not cached")

// Entry is one cached configuration value.
type Entry struct {
	Tenant    string          `json:"tenant_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Cache is a BoltDB backed key-value store for reference configuration.
type Cache struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenCache opens (creating if needed) the cache file at path.
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open config cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConfig)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create config bucket: %w", err)
	}

	return &Cache{db: db, now: time.Now}, nil
}

// Close closes the cache file.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Put replaces the value stored under key for tenant. Each tenant has its
// own nested bucket, so a device re-provisioned for another tenant never
// reads the previous tenant's values.
func (c *Cache) Put(tenant, key string, value json.RawMessage) error {
	if tenant == "" {
		return errors.New("put config: tenant is required")
	}
	data, err := json.Marshal(Entry{Tenant: tenant, Key: key, Value: value, UpdatedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketConfig).CreateBucketIfNotExists([]byte(tenant))
		if err != nil {
			return fmt.Errorf("create tenant bucket %s: %w", tenant, err)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return fmt.Errorf("put %s/%s: %w", tenant, key, err)
		}
		return nil
	})
}

// Get returns the entry stored under key for tenant or ErrNotCached.
func (c *Cache) Get(tenant, key string) (Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		var data []byte
		if b := tx.Bucket(bucketConfig).Bucket([]byte(tenant)); b != nil {
			data = b.Get([]byte(key))
		}
		if data == nil {
			return fmt.Errorf("%s/%s: %w", tenant, key, ErrNotCached)
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

// Age returns how long ago key was last written for tenant.
func (c *Cache) Age(tenant, key string) (time.Duration, error) {
	entry, err := c.Get(tenant, key)
	if err != nil {
		return 0, err
	}
	return c.now().Sub(entry.UpdatedAt), nil
}

// Keys returns the tenant's cached keys in byte order.
func (c *Cache) Keys(tenant string) ([]string, error) {
	var keys []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConfig).Bucket([]byte(tenant))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
