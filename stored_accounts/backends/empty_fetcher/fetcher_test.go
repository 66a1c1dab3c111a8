package empty_fetcher

import (
	"context"
	"testing"

	"github.com/prebid/prebid-exchange/stored_accounts"
	"github.com/stretchr/testify/assert"
)

func TestErrorLength(t *testing.T) {
	fetcher := EmptyFetcher{}

	account, errs := fetcher.FetchAccount(context.Background(), "some-account")
	assert.Nil(t, account)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, stored_accounts.NotFoundError{ID: "some-account", DataType: "Account"}, errs[0])
	}
}
