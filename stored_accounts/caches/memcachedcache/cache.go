package memcachedcache

import (
	"context"
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/stored_accounts"
)

const keyPrefix = "pbs_account_"

// client is the part of *memcache.Client which the cache uses.
type client interface {
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

// NewCache returns a Cache backed by a memcached pool.
// Memcached failures are logged and look like cache misses.
func NewCache(cfg *config.MemcacheConfig, ttlSeconds int) stored_accounts.Cache {
	glog.Infof("Using memcached at %v for the account cache.", cfg.Servers)
	return &cache{
		client:     memcache.New(cfg.Servers...),
		ttlSeconds: int32(ttlSeconds),
	}
}

type cache struct {
	client     client
	ttlSeconds int32
}

func (c *cache) Get(ctx context.Context, ids []string) map[string]json.RawMessage {
	data := make(map[string]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return data
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	items, err := c.client.GetMulti(keys)
	if err != nil {
		glog.Errorf("Error reading accounts from memcached: %v", err)
		return data
	}
	for i, key := range keys {
		if item, ok := items[key]; ok {
			data[ids[i]] = item.Value
		}
	}
	return data
}

func (c *cache) Save(ctx context.Context, data map[string]json.RawMessage) {
	for id, value := range data {
		item := &memcache.Item{
			Key:        keyPrefix + id,
			Value:      value,
			Expiration: c.ttlSeconds,
		}
		if err := c.client.Set(item); err != nil {
			glog.Errorf("Error saving account %s to memcached: %v", id, err)
		}
	}
}

func (c *cache) Invalidate(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := c.client.Delete(keyPrefix + id); err != nil && err != memcache.ErrCacheMiss {
			glog.Errorf("Error invalidating account %s in memcached: %v", id, err)
		}
	}
}
