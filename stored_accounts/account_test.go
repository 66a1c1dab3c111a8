package stored_accounts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/stretchr/testify/assert"
)

var mockAccountData = map[string]json.RawMessage{
	"high_granularity": json.RawMessage(`{"price_granularity":"high"}`),
	"custom":           json.RawMessage(`{"id":"custom","price_granularity":{"ranges":[{"max":10,"increment":0.25}]},"cache_ttl_seconds":600}`),
	"short_keys":       json.RawMessage(`{"targeting_max_key_length":12}`),
	"disabled_acct":    json.RawMessage(`{"disabled":true}`),
	"malformed_acct":   json.RawMessage(`{"disabled":"yes"}`),
}

type mockAccountFetcher struct {
	err error
}

func (af mockAccountFetcher) FetchAccount(ctx context.Context, accountID string) (json.RawMessage, []error) {
	if af.err != nil {
		return nil, []error{af.err}
	}
	if account, ok := mockAccountData[accountID]; ok {
		return account, nil
	}
	return nil, []error{NotFoundError{ID: accountID, DataType: "Account"}}
}

func TestGetAccount(t *testing.T) {
	testCases := []struct {
		accountID           string
		expectedGranularity string
		expectedKeyLength   int
		expectedTTL         int64
		expectedErr         error
	}{
		{accountID: "unknown", expectedGranularity: "med", expectedKeyLength: 20},
		{accountID: "", expectedGranularity: "med", expectedKeyLength: 20},
		{accountID: "high_granularity", expectedGranularity: "high", expectedKeyLength: 20},
		{accountID: "custom", expectedGranularity: "custom", expectedKeyLength: 20, expectedTTL: 600},
		{accountID: "short_keys", expectedGranularity: "med", expectedKeyLength: 12},
		{accountID: "disabled_acct", expectedErr: &errortypes.AccountDisabled{}},
		{accountID: "malformed_acct", expectedErr: &errortypes.BadInput{}},
	}

	for _, test := range testCases {
		account, errs := GetAccount(context.Background(), testConfig(), mockAccountFetcher{}, test.accountID)

		if test.expectedErr != nil {
			assert.Nil(t, account, test.accountID)
			if assert.Len(t, errs, 1, test.accountID) {
				assert.IsType(t, test.expectedErr, errs[0], test.accountID)
			}
			continue
		}

		assert.Empty(t, errs, test.accountID)
		if assert.NotNil(t, account, test.accountID) {
			assert.Equal(t, test.accountID, account.ID, test.accountID)
			assert.Equal(t, test.expectedGranularity, account.PriceGranularity.Name, test.accountID)
			assert.True(t, account.PriceGranularity.IsValid(), test.accountID)
			assert.Equal(t, test.expectedKeyLength, account.TargetingMaxKeyLength, test.accountID)
			assert.Equal(t, test.expectedTTL, account.CacheTTLSeconds, test.accountID)
		}
	}
}

func TestGetAccountCustomRanges(t *testing.T) {
	account, errs := GetAccount(context.Background(), testConfig(), mockAccountFetcher{}, "custom")
	assert.Empty(t, errs)
	assert.Equal(t, []openrtb_ext.GranularityRange{{Min: 0, Max: 10, Increment: 0.25}}, account.PriceGranularity.Ranges)
}

func TestGetAccountFetcherFailure(t *testing.T) {
	account, errs := GetAccount(context.Background(), testConfig(), mockAccountFetcher{err: errors.New("db is down")}, "high_granularity")
	assert.Empty(t, errs)
	if assert.NotNil(t, account) {
		assert.Equal(t, "med", account.PriceGranularity.Name, "a broken store falls back to the defaults")
	}
}

func TestGetAccountWithoutFetcher(t *testing.T) {
	account, errs := GetAccount(context.Background(), testConfig(), nil, "high_granularity")
	assert.Empty(t, errs)
	assert.Equal(t, "high_granularity", account.ID)
	assert.Equal(t, "med", account.PriceGranularity.Name)
}

func TestMergeAccountMatchesMergePatch(t *testing.T) {
	defaults := testConfig().DefaultAccount("some-pub")
	defaultsJSON, err := json.Marshal(defaults)
	assert.NoError(t, err)

	for _, id := range []string{"high_granularity", "short_keys", "disabled_acct"} {
		merged, err := mergeAccount(defaults, mockAccountData[id])
		if !assert.NoError(t, err, id) {
			continue
		}
		mergedJSON, err := json.Marshal(merged)
		assert.NoError(t, err, id)

		expected, err := jsonpatch.MergePatch(defaultsJSON, mockAccountData[id])
		assert.NoError(t, err, id)
		assert.True(t, jsonpatch.Equal(expected, mergedJSON), "%s: expected %s, got %s", id, expected, mergedJSON)
	}
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Targeting: config.Targeting{
			MaxKeyLength:            20,
			DefaultPriceGranularity: "med",
		},
	}
}
