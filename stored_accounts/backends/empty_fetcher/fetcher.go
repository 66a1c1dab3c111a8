package empty_fetcher

import (
	"context"
	"encoding/json"

	"github.com/prebid/prebid-exchange/stored_accounts"
)

// EmptyFetcher is a nil-object which has no stored accounts.
// If the host is configured to use this, then every publisher gets the default account config.
type EmptyFetcher struct{}

func (fetcher EmptyFetcher) FetchAccount(ctx context.Context, accountID string) (json.RawMessage, []error) {
	return nil, []error{stored_accounts.NotFoundError{ID: accountID, DataType: "Account"}}
}
