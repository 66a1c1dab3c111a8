package stored_accounts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prebid/prebid-exchange/pbsmetrics"
)

// AccountFetcher knows how to fetch publisher account configs by id.
//
// Implementations must be safe for concurrent access by multiple goroutines.
// Callers are expected to share a single instance as much as possible.
type AccountFetcher interface {
	// FetchAccount returns the stored account JSON. This is a JSON merge patch which GetAccount applies
	// on top of the host defaults, so it only needs to name the fields which differ.
	//
	// An account which does not exist produces a NotFoundError.
	// The returned data can only be read from. It may not be written to.
	FetchAccount(ctx context.Context, accountID string) (json.RawMessage, []error)
}

// NotFoundError is an error type to flag that an ID was not found by the Fetcher.
// Callers treat it as "use the defaults", unlike the other errors a Fetcher may return.
type NotFoundError struct {
	ID       string
	DataType string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf(`Stored %s with ID="%s" not found.`, e.DataType, e.ID)
}

// Cache is an intermediate layer which can be used to create more complex Fetchers by composition.
// Implementations must be safe for concurrent access by multiple goroutines.
// To add a Cache layer in front of a Fetcher, see WithCache()
type Cache interface {
	// Get works much like Fetcher.FetchAccount, with a few exceptions:
	//
	// 1. Any (actionable) errors should be logged by the implementation, rather than returned.
	// 2. The returned map _may_ be written to.
	// 3. The returned map must _not_ contain keys unless they were present in the argument ID list.
	// 4. Callers _should not_ assume that the returned map contains a key for every argument id.
	//    The returned map will miss entries for keys which don't exist in the cache.
	Get(ctx context.Context, ids []string) (data map[string]json.RawMessage)

	// Invalidate will ensure that all values associated with the given IDs
	// are no longer returned by the cache until new values are saved via Save
	Invalidate(ctx context.Context, ids []string)

	// Save will add or overwrite the data in the cache at the given keys
	Save(ctx context.Context, data map[string]json.RawMessage)
}

// ComposedCache creates an interface to treat a slice of caches as a single cache
type ComposedCache []Cache

// Get will attempt to Get from the caches in the order in which they are in the slice,
// stopping as soon as a value is found (or when all caches have been exhausted)
func (c ComposedCache) Get(ctx context.Context, ids []string) (data map[string]json.RawMessage) {
	data = make(map[string]json.RawMessage, len(ids))

	remainingIDs := ids
	for _, cache := range c {
		cachedData := cache.Get(ctx, remainingIDs)
		data, remainingIDs = updateFromCache(data, remainingIDs, cachedData)

		// finish early if all ids filled
		if len(remainingIDs) == 0 {
			break
		}
	}

	return
}

func updateFromCache(data map[string]json.RawMessage, ids []string, newData map[string]json.RawMessage) (map[string]json.RawMessage, []string) {
	remainingIDs := ids

	if len(newData) > 0 {
		remainingIDs = make([]string, 0, len(ids))

		for _, id := range ids {
			if config, ok := newData[id]; ok {
				data[id] = config
			} else {
				remainingIDs = append(remainingIDs, id)
			}
		}
	}

	return data, remainingIDs
}

// Invalidate will propagate invalidations to all underlying caches
func (c ComposedCache) Invalidate(ctx context.Context, ids []string) {
	for _, cache := range c {
		cache.Invalidate(ctx, ids)
	}
}

// Save will propagate saves to all underlying caches
func (c ComposedCache) Save(ctx context.Context, data map[string]json.RawMessage) {
	for _, cache := range c {
		cache.Save(ctx, data)
	}
}

type fetcherWithCache struct {
	fetcher       AccountFetcher
	cache         Cache
	metricsEngine pbsmetrics.MetricsEngine
}

// WithCache returns a Fetcher which uses the given Cache before delegating to the original.
// Only accounts which were actually found are saved, so unknown publishers always reach the backend.
func WithCache(fetcher AccountFetcher, cache Cache, metricsEngine pbsmetrics.MetricsEngine) AccountFetcher {
	return &fetcherWithCache{
		cache:         cache,
		fetcher:       fetcher,
		metricsEngine: metricsEngine,
	}
}

func (f *fetcherWithCache) FetchAccount(ctx context.Context, accountID string) (json.RawMessage, []error) {
	accountData := f.cache.Get(ctx, []string{accountID})
	if account, ok := accountData[accountID]; ok {
		f.metricsEngine.RecordAccountCacheResult(pbsmetrics.CacheHit, 1)
		return account, nil
	}
	f.metricsEngine.RecordAccountCacheResult(pbsmetrics.CacheMiss, 1)

	account, errs := f.fetcher.FetchAccount(ctx, accountID)
	if len(errs) == 0 && len(account) > 0 {
		f.cache.Save(ctx, map[string]json.RawMessage{accountID: account})
	}
	return account, errs
}
