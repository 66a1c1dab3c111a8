package cachestest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prebid/prebid-exchange/stored_accounts"
)

const (
	accountCacheKey = "known-account"
	accountCacheVal = `{"price_granularity":"high"}`
)

// AssertCacheRobustness runs tests which can be used to validate any Cache that is 100% reliable.
// That is, its Save() and Invalidate() functions _always_ work.
//
// The cacheSupplier should be a function which returns a new Cache (with no data inside) on every call.
// This will be called from separate Goroutines to make sure that different tests don't conflict.
func AssertCacheRobustness(t *testing.T, cacheSupplier func() stored_accounts.Cache) {
	t.Run("TestCacheMiss", cacheMissTester(cacheSupplier()))
	t.Run("TestCacheHit", cacheHitTester(cacheSupplier()))
	t.Run("TestCacheSaveInvalidate", cacheSaveInvalidateTester(cacheSupplier()))
	t.Run("TestCacheEmptyCalls", cacheEmptyCallsTester(cacheSupplier()))
}

func cacheMissTester(cache stored_accounts.Cache) func(*testing.T) {
	return func(t *testing.T) {
		storedData := cache.Get(context.Background(), []string{"unknown"})
		assertMapLength(t, 0, storedData)
	}
}

func cacheHitTester(cache stored_accounts.Cache) func(*testing.T) {
	return func(t *testing.T) {
		cache.Save(context.Background(), map[string]json.RawMessage{
			accountCacheKey: json.RawMessage(accountCacheVal),
		})
		accountData := cache.Get(context.Background(), []string{accountCacheKey, "unknown"})
		assertMapLength(t, 1, accountData)
		assertHasValue(t, accountData, accountCacheKey, accountCacheVal)
	}
}

func cacheSaveInvalidateTester(cache stored_accounts.Cache) func(*testing.T) {
	return func(t *testing.T) {
		cache.Save(context.Background(), map[string]json.RawMessage{
			accountCacheKey: json.RawMessage(accountCacheVal),
		})
		accountData := cache.Get(context.Background(), []string{accountCacheKey})
		assertMapLength(t, 1, accountData)

		cache.Invalidate(context.Background(), []string{accountCacheKey})
		accountData = cache.Get(context.Background(), []string{accountCacheKey})
		assertMapLength(t, 0, accountData)
	}
}

func cacheEmptyCallsTester(cache stored_accounts.Cache) func(*testing.T) {
	return func(t *testing.T) {
		cache.Save(context.Background(), nil)
		cache.Invalidate(context.Background(), nil)
		assertMapLength(t, 0, cache.Get(context.Background(), nil))
	}
}

func assertMapLength(t *testing.T, expectedLen int, theMap map[string]json.RawMessage) {
	t.Helper()
	if len(theMap) != expectedLen {
		t.Errorf("Wrong map length. Expected %d, Got %d.", expectedLen, len(theMap))
	}
}

func assertHasValue(t *testing.T, m map[string]json.RawMessage, key string, val string) {
	t.Helper()
	realVal, ok := m[key]
	if !ok {
		t.Errorf("Map missing required key: %s", key)
	}
	if val != string(realVal) {
		t.Errorf("Unexpected value at key %s. Expected %s, Got %s", key, val, string(realVal))
	}
}
