package config

import (
	"fmt"
	"strings"

	validator "github.com/asaskevich/govalidator"

	"github.com/prebid/prebid-exchange/openrtb_ext"
)

type Adapter struct {
	Endpoint string `mapstructure:"endpoint"` // Required
	Disabled bool   `mapstructure:"disabled"`

	// needed for AppNexus and Audience Network
	PlatformID string `mapstructure:"platform_id"`
	// needed for Audience Network
	AppSecret string `mapstructure:"app_secret"`
}

// AdapterFor returns the host config for a bidder. Viper lowercases every map key.
func (cfg *Configuration) AdapterFor(bidder openrtb_ext.BidderName) Adapter {
	return cfg.Adapters[strings.ToLower(string(bidder))]
}

// validateAdapters validates adapter endpoints
func validateAdapters(adapterMap map[string]Adapter, errs configErrors) configErrors {
	for adapterName, adapter := range adapterMap {
		if !adapter.Disabled {
			errs = validateAdapterEndpoint(adapter.Endpoint, adapterName, errs)
		}
	}
	return errs
}

// validateAdapterEndpoint makes sure that an adapter has a valid endpoint
// associated with it
func validateAdapterEndpoint(endpoint string, adapterName string, errs configErrors) configErrors {
	if endpoint == "" {
		return append(errs, fmt.Errorf("There's no default endpoint available for %s. Calls to this bidder/exchange will fail. "+
			"Please set adapters.%s.endpoint in your app config", adapterName, adapterName))
	}

	// IsURL allows relative paths while IsRequestURL requires an absolute one, so both must pass.
	if !validator.IsURL(endpoint) || !validator.IsRequestURL(endpoint) {
		errs = append(errs, fmt.Errorf("The endpoint: %s for %s is not a valid URL", endpoint, adapterName))
	}
	return errs
}
