package file_fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/golang/glog"
	"gopkg.in/yaml.v2"

	"github.com/prebid/prebid-exchange/stored_accounts"
)

// NewFileFetcher _immediately_ loads stored accounts from a YAML file.
// These are stored in memory for low-latency reads.
//
// The file holds a single "accounts" list. Each entry needs an "id", and every other
// field is an account config field:
//
//   accounts:
//     - id: "1001"
//       price_granularity: high
//     - id: "1002"
//       disabled: true
func NewFileFetcher(filename string) (stored_accounts.AccountFetcher, error) {
	fileData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var parsed accountsFile
	if err := yaml.Unmarshal(fileData, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing yaml in file %s: %v", filename, err)
	}

	accounts := make(map[string]json.RawMessage, len(parsed.Accounts))
	for i, entry := range parsed.Accounts {
		id, ok := entry["id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("accounts[%d] in file %s has no string id", i, filename)
		}
		accountJSON, err := json.Marshal(jsonCompatible(entry))
		if err != nil {
			return nil, fmt.Errorf("accounts[%d] in file %s is invalid: %v", i, filename, err)
		}
		accounts[id] = accountJSON
	}
	glog.Infof("Loaded %d accounts from %s", len(accounts), filename)

	return &eagerFetcher{accounts}, nil
}

type accountsFile struct {
	Accounts []map[string]interface{} `yaml:"accounts"`
}

type eagerFetcher struct {
	accounts map[string]json.RawMessage
}

func (fetcher *eagerFetcher) FetchAccount(ctx context.Context, accountID string) (json.RawMessage, []error) {
	if account, ok := fetcher.accounts[accountID]; ok {
		return account, nil
	}
	return nil, []error{stored_accounts.NotFoundError{ID: accountID, DataType: "Account"}}
}

// jsonCompatible turns the map[interface{}]interface{} values which yaml.v2 produces for nested
// objects into map[string]interface{}, which encoding/json can marshal.
func jsonCompatible(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			converted[fmt.Sprintf("%v", k)] = jsonCompatible(v)
		}
		return converted
	case map[string]interface{}:
		converted := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			converted[k] = jsonCompatible(v)
		}
		return converted
	case []interface{}:
		converted := make([]interface{}, len(typed))
		for i, v := range typed {
			converted[i] = jsonCompatible(v)
		}
		return converted
	default:
		return value
	}
}
