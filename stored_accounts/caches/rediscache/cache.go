package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/stored_accounts"
)

const keyPrefix = "pbs:account:"

// client is the part of *redis.Client which the cache uses.
type client interface {
	MGet(keys ...string) *redis.SliceCmd
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(keys ...string) *redis.IntCmd
}

// NewCache returns a Cache which shares accounts across hosts through Redis.
// Redis failures are logged and look like cache misses.
func NewCache(cfg *config.RedisCacheConfig, ttlSeconds int) stored_accounts.Cache {
	glog.Infof("Using Redis at %s for the account cache.", cfg.Addr)
	return &cache{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  time.Second,
			ReadTimeout:  100 * time.Millisecond,
			WriteTimeout: 100 * time.Millisecond,
		}),
		ttl: time.Duration(ttlSeconds) * time.Second,
	}
}

type cache struct {
	client client
	ttl    time.Duration
}

func (c *cache) Get(ctx context.Context, ids []string) map[string]json.RawMessage {
	data := make(map[string]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return data
	}

	values, err := c.client.MGet(redisKeys(ids)...).Result()
	if err != nil {
		glog.Errorf("Error reading accounts from Redis: %v", err)
		return data
	}
	for i, value := range values {
		if i >= len(ids) {
			break
		}
		if str, ok := value.(string); ok {
			data[ids[i]] = json.RawMessage(str)
		}
	}
	return data
}

func (c *cache) Save(ctx context.Context, data map[string]json.RawMessage) {
	for id, value := range data {
		if err := c.client.Set(keyPrefix+id, []byte(value), c.ttl).Err(); err != nil {
			glog.Errorf("Error saving account %s to Redis: %v", id, err)
		}
	}
}

func (c *cache) Invalidate(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := c.client.Del(redisKeys(ids)...).Err(); err != nil {
		glog.Errorf("Error invalidating accounts in Redis: %v", err)
	}
}

func redisKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	return keys
}
