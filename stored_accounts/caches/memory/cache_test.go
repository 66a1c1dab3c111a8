package memory

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"testing"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/stored_accounts"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/cachestest"
	"github.com/stretchr/testify/assert"
)

func TestLRURobustness(t *testing.T) {
	cachestest.AssertCacheRobustness(t, func() stored_accounts.Cache {
		return NewCache(&config.MemoryCacheConfig{Size: 512 * 1024}, 0)
	})
}

func TestValuesAreCopies(t *testing.T) {
	cache := NewCache(&config.MemoryCacheConfig{Size: 512 * 1024}, 0)
	value := json.RawMessage(`{"disabled":false}`)
	cache.Save(context.Background(), map[string]json.RawMessage{"acct": value})
	value[2] = 'X'

	assert.Equal(t, `{"disabled":false}`, string(cache.Get(context.Background(), []string{"acct"})["acct"]))
}

func TestRaceLRUConcurrency(t *testing.T) {
	cache := NewCache(&config.MemoryCacheConfig{Size: 512 * 1024}, 0)
	doRaceTest(t, cache)
}

func doRaceTest(t *testing.T, cache stored_accounts.Cache) {
	done := make(chan struct{})
	reads := rand.Perm(100)
	writes := rand.Perm(100)
	invalidates := rand.Perm(100)

	go writeLots(cache, done, writes)
	go readLots(cache, done, reads)
	go invalidateLots(cache, done, invalidates)

	for i := 0; i < 3; i++ {
		<-done
	}
}

func readLots(cache stored_accounts.Cache, done chan<- struct{}, reads []int) {
	var s struct{}
	for _, i := range reads {
		cache.Get(context.Background(), sliceForVal(i))
	}
	done <- s
}

func writeLots(cache stored_accounts.Cache, done chan<- struct{}, writes []int) {
	var s struct{}
	for _, i := range writes {
		cache.Save(context.Background(), mapForVal(i))
	}
	done <- s
}

func invalidateLots(cache stored_accounts.Cache, done chan<- struct{}, invalidates []int) {
	var s struct{}
	for _, i := range invalidates {
		cache.Invalidate(context.Background(), sliceForVal(i))
	}
	done <- s
}

func sliceForVal(val int) []string {
	return []string{strconv.Itoa(val)}
}

func mapForVal(val int) map[string]json.RawMessage {
	return map[string]json.RawMessage{
		strconv.Itoa(val): json.RawMessage(strconv.Itoa(val)),
	}
}
