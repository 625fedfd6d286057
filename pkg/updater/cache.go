package updater

import (
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rubiojr/kv"
)

// Cache stores raw values with a time to live. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// CachedResponse is the envelope stored for every successful metadata
// response.
type CachedResponse struct {
	Body     json.RawMessage `json:"body"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

func (c *CachedResponse) Expired(now time.Time) bool {
	return !now.Before(c.StoredAt.Add(c.TTL))
}

type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{c: gocache.New(DefaultTTL, 30*time.Minute)}
}

func (m *MemoryCache) Get(key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.c.Delete(key)
	return nil
}

// KVCache persists entries in a SQLite key value store so that they survive
// process restarts.
type KVCache struct {
	db kv.Database
}

func NewKVCache(path string) (*KVCache, error) {
	db, err := kv.New("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &KVCache{db: db}, nil
}

func (c *KVCache) Get(key string) ([]byte, bool, error) {
	v, err := c.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (c *KVCache) Set(key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	return c.db.Set(key, value, &expiresAt)
}

func (c *KVCache) Delete(key string) error {
	return c.db.Del(key)
}
