package aerospikecache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aerospike/aerospike-client-go"
	"github.com/aerospike/aerospike-client-go/types"
	"github.com/prebid/prebid-exchange/stored_accounts"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/cachestest"
	"github.com/stretchr/testify/assert"
)

func TestAerospikeRobustness(t *testing.T) {
	cachestest.AssertCacheRobustness(t, func() stored_accounts.Cache {
		return newCache(newFakeClient(), "test", "accounts", 60)
	})
}

func TestWritePolicyTTL(t *testing.T) {
	assert.Equal(t, uint32(60), newCache(newFakeClient(), "test", "accounts", 60).writePolicy.Expiration)
	assert.Equal(t, uint32(aerospike.TTLServerDefault), newCache(newFakeClient(), "test", "accounts", 0).writePolicy.Expiration)
}

func TestAerospikeFailuresAreMisses(t *testing.T) {
	fake := newFakeClient()
	fake.err = errors.New("connection refused")
	c := newCache(fake, "test", "accounts", 60)

	c.Save(context.Background(), map[string]json.RawMessage{"1001": json.RawMessage(`{}`)})
	assert.Empty(t, c.Get(context.Background(), []string{"1001"}))
	c.Invalidate(context.Background(), []string{"1001"})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(types.NewAerospikeError(types.KEY_NOT_FOUND_ERROR)))
	assert.False(t, isNotFound(types.NewAerospikeError(types.TIMEOUT)))
	assert.False(t, isNotFound(errors.New("other")))
}

// fakeClient keeps records in memory, keyed by the user key.
type fakeClient struct {
	mutex   sync.Mutex
	records map[string]aerospike.BinMap
	err     error
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: make(map[string]aerospike.BinMap)}
}

func (c *fakeClient) Get(policy *aerospike.BasePolicy, key *aerospike.Key, binNames ...string) (*aerospike.Record, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	bins, ok := c.records[key.Value().String()]
	if !ok {
		return nil, types.NewAerospikeError(types.KEY_NOT_FOUND_ERROR)
	}
	return &aerospike.Record{Key: key, Bins: bins}, nil
}

func (c *fakeClient) PutBins(policy *aerospike.WritePolicy, key *aerospike.Key, bins ...*aerospike.Bin) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return c.err
	}
	binMap := make(aerospike.BinMap, len(bins))
	for _, bin := range bins {
		binMap[bin.Name] = bin.Value.GetObject()
	}
	c.records[key.Value().String()] = binMap
	return nil
}

func (c *fakeClient) Delete(policy *aerospike.WritePolicy, key *aerospike.Key) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return false, c.err
	}
	_, existed := c.records[key.Value().String()]
	delete(c.records, key.Value().String())
	return existed, nil
}
