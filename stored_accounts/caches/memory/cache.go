package memory

import (
	"context"
	"encoding/json"

	"github.com/coocood/freecache"
	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/stored_accounts"
)

// NewCache returns an in-memory Cache which evicts the least recently used accounts once
// the configured number of bytes is in use. Values expire after ttlSeconds, or never if it is 0.
//
// freecache never allocates less than 512KB, whatever the configured size.
func NewCache(cfg *config.MemoryCacheConfig, ttlSeconds int) stored_accounts.Cache {
	glog.Infof("Using a freecache LRU of %d bytes for accounts, with a TTL of %d seconds.", cfg.Size, ttlSeconds)
	return &cache{
		lru:        freecache.NewCache(cfg.Size),
		ttlSeconds: ttlSeconds,
	}
}

type cache struct {
	lru        *freecache.Cache
	ttlSeconds int
}

func (c *cache) Get(ctx context.Context, ids []string) map[string]json.RawMessage {
	data := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		if value, err := c.lru.Get([]byte(id)); err == nil {
			data[id] = value
		}
	}
	return data
}

func (c *cache) Save(ctx context.Context, data map[string]json.RawMessage) {
	for id, value := range data {
		if err := c.lru.Set([]byte(id), value, c.ttlSeconds); err != nil {
			glog.Errorf("Error saving account %s to the in-memory cache: %v", id, err)
		}
	}
}

func (c *cache) Invalidate(ctx context.Context, ids []string) {
	for _, id := range ids {
		c.lru.Del([]byte(id))
	}
}
