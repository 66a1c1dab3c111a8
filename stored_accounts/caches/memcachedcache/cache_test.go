package memcachedcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/prebid/prebid-exchange/stored_accounts"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/cachestest"
	"github.com/stretchr/testify/assert"
)

func TestMemcacheRobustness(t *testing.T) {
	cachestest.AssertCacheRobustness(t, func() stored_accounts.Cache {
		return &cache{client: newFakeClient(), ttlSeconds: 60}
	})
}

func TestItemsCarryTTL(t *testing.T) {
	fake := newFakeClient()
	c := &cache{client: fake, ttlSeconds: 60}
	c.Save(context.Background(), map[string]json.RawMessage{"1001": json.RawMessage(`{}`)})

	if assert.Contains(t, fake.items, "pbs_account_1001") {
		assert.Equal(t, int32(60), fake.items["pbs_account_1001"].Expiration)
	}
}

func TestMemcacheFailuresAreMisses(t *testing.T) {
	fake := newFakeClient()
	fake.err = errors.New("no servers configured or available")
	c := &cache{client: fake, ttlSeconds: 60}

	c.Save(context.Background(), map[string]json.RawMessage{"1001": json.RawMessage(`{}`)})
	assert.Empty(t, c.Get(context.Background(), []string{"1001"}))
	c.Invalidate(context.Background(), []string{"1001"})
}

type fakeClient struct {
	mutex sync.Mutex
	items map[string]*memcache.Item
	err   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]*memcache.Item)}
}

func (c *fakeClient) GetMulti(keys []string) (map[string]*memcache.Item, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	found := make(map[string]*memcache.Item, len(keys))
	for _, key := range keys {
		if item, ok := c.items[key]; ok {
			found[key] = item
		}
	}
	return found, nil
}

func (c *fakeClient) Set(item *memcache.Item) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return c.err
	}
	c.items[item.Key] = item
	return nil
}

func (c *fakeClient) Delete(key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, ok := c.items[key]; !ok {
		return memcache.ErrCacheMiss
	}
	delete(c.items, key)
	return nil
}
