package aerospikecache

import (
	"context"
	"encoding/json"

	"github.com/aerospike/aerospike-client-go"
	"github.com/aerospike/aerospike-client-go/types"
	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/stored_accounts"
)

// accountBin is the bin which holds the account JSON.
const accountBin = "config"

// client is the part of *aerospike.Client which the cache uses.
type client interface {
	Get(policy *aerospike.BasePolicy, key *aerospike.Key, binNames ...string) (*aerospike.Record, error)
	PutBins(policy *aerospike.WritePolicy, key *aerospike.Key, bins ...*aerospike.Bin) error
	Delete(policy *aerospike.WritePolicy, key *aerospike.Key) (bool, error)
}

// NewCache connects to an Aerospike cluster and stores accounts in the configured namespace and set.
// A ttlSeconds of 0 uses the namespace's default TTL.
func NewCache(cfg *config.AerospikeCacheConfig, ttlSeconds int) (stored_accounts.Cache, error) {
	as, err := aerospike.NewClient(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	glog.Infof("Using Aerospike at %s:%d for the account cache. namespace=%s, set=%s", cfg.Host, cfg.Port, cfg.Namespace, cfg.Set)
	return newCache(as, cfg.Namespace, cfg.Set, ttlSeconds), nil
}

func newCache(as client, namespace string, set string, ttlSeconds int) *cache {
	ttl := uint32(ttlSeconds)
	if ttlSeconds <= 0 {
		ttl = uint32(aerospike.TTLServerDefault)
	}
	return &cache{
		as:          as,
		namespace:   namespace,
		set:         set,
		writePolicy: aerospike.NewWritePolicy(0, ttl),
	}
}

type cache struct {
	as          client
	namespace   string
	set         string
	writePolicy *aerospike.WritePolicy
}

func (c *cache) Get(ctx context.Context, ids []string) map[string]json.RawMessage {
	data := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		key, err := aerospike.NewKey(c.namespace, c.set, id)
		if err != nil {
			glog.Errorf("Error building Aerospike key for account %s: %v", id, err)
			continue
		}
		record, err := c.as.Get(nil, key, accountBin)
		if err != nil {
			if !isNotFound(err) {
				glog.Errorf("Error reading account %s from Aerospike: %v", id, err)
			}
			continue
		}
		if record == nil {
			continue
		}
		switch value := record.Bins[accountBin].(type) {
		case string:
			data[id] = json.RawMessage(value)
		case []byte:
			data[id] = json.RawMessage(value)
		}
	}
	return data
}

func (c *cache) Save(ctx context.Context, data map[string]json.RawMessage) {
	for id, value := range data {
		key, err := aerospike.NewKey(c.namespace, c.set, id)
		if err != nil {
			glog.Errorf("Error building Aerospike key for account %s: %v", id, err)
			continue
		}
		if err := c.as.PutBins(c.writePolicy, key, aerospike.NewBin(accountBin, string(value))); err != nil {
			glog.Errorf("Error saving account %s to Aerospike: %v", id, err)
		}
	}
}

func (c *cache) Invalidate(ctx context.Context, ids []string) {
	for _, id := range ids {
		key, err := aerospike.NewKey(c.namespace, c.set, id)
		if err != nil {
			continue
		}
		if _, err := c.as.Delete(c.writePolicy, key); err != nil && !isNotFound(err) {
			glog.Errorf("Error invalidating account %s in Aerospike: %v", id, err)
		}
	}
}

func isNotFound(err error) bool {
	if asErr, ok := err.(types.AerospikeError); ok {
		return asErr.ResultCode() == types.KEY_NOT_FOUND_ERROR
	}
	return false
}
