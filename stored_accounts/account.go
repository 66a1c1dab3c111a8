package stored_accounts

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/errortypes"
)

// GetAccount resolves the pricing config for a publisher.
//
// The stored account, if any, is merged on top of the host defaults. Publishers with no stored
// account get the defaults. Backend failures are logged and also fall back to the defaults,
// so that a broken account store degrades targeting instead of failing every auction.
func GetAccount(ctx context.Context, cfg *config.Configuration, fetcher AccountFetcher, accountID string) (*config.Account, []error) {
	account := cfg.DefaultAccount(accountID)
	if fetcher == nil || accountID == "" {
		return account, nil
	}

	accountJSON, errs := fetcher.FetchAccount(ctx, accountID)
	if len(errs) > 0 || len(accountJSON) == 0 {
		for _, err := range errs {
			if _, ok := err.(NotFoundError); !ok {
				glog.Errorf("Error fetching account %s: %v", accountID, err)
			}
		}
		return account, nil
	}

	merged, err := mergeAccount(account, accountJSON)
	if err != nil {
		return nil, []error{&errortypes.BadInput{
			Message: fmt.Sprintf("The account config for account id \"%s\" is malformed. Please reach out to the exchange host.", accountID),
		}}
	}
	if merged.ID == "" {
		merged.ID = accountID
	}

	if merged.Disabled {
		return nil, []error{&errortypes.AccountDisabled{
			Message: fmt.Sprintf("This exchange has disabled Account ID: %s, please reach out to the exchange host.", accountID),
		}}
	}
	return merged, nil
}

func mergeAccount(defaults *config.Account, patch json.RawMessage) (*config.Account, error) {
	defaultsJSON, err := json.Marshal(defaults)
	if err != nil {
		return nil, err
	}
	mergedJSON, err := jsonpatch.MergePatch(defaultsJSON, patch)
	if err != nil {
		return nil, err
	}

	merged := &config.Account{}
	if err := json.Unmarshal(mergedJSON, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
