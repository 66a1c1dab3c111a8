package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/prebid/prebid-exchange/openrtb_ext"
)

func newDefaultConfig(t *testing.T) *Configuration {
	t.Helper()
	v := viper.New()
	SetupViper(v, "")
	cfg, err := New(v)
	if err != nil {
		t.Fatalf("Unexpected error building the default config: %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := newDefaultConfig(t)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 6060, cfg.AdminPort)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestSize)
	assert.Equal(t, uint64(250), cfg.AuctionTimeouts.Default)
	assert.Equal(t, uint64(0), cfg.AuctionTimeouts.Max)
	assert.Equal(t, 10, cfg.CacheURL.ExpectedTimeMillis)
	assert.Equal(t, 20, cfg.Targeting.MaxKeyLength)
	assert.Equal(t, "med", cfg.Targeting.DefaultPriceGranularity)
	assert.Equal(t, AccountCacheNone, cfg.Accounts.Cache.Type)
	assert.False(t, cfg.GenerateBidID)
	assert.Equal(t, "http://ib.adnxs.com/openrtb2", cfg.AdapterFor(openrtb_ext.BidderAppnexus).Endpoint)
	assert.Equal(t, "https://an.facebook.com/placementbid.ortb", cfg.AdapterFor(openrtb_ext.BidderAudienceNetwork).Endpoint)
	assert.False(t, cfg.AdapterFor(openrtb_ext.BidderAudienceNetwork).Disabled)
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("PBS_PORT", "9000")
	os.Setenv("PBS_ADAPTERS_APPNEXUS_DISABLED", "true")
	defer os.Unsetenv("PBS_PORT")
	defer os.Unsetenv("PBS_ADAPTERS_APPNEXUS_DISABLED")

	cfg := newDefaultConfig(t)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.AdapterFor(openrtb_ext.BidderAppnexus).Disabled)
}

func TestValidationErrors(t *testing.T) {
	testCases := []struct {
		description string
		overrides   map[string]interface{}
	}{
		{
			description: "Max timeout below the default",
			overrides:   map[string]interface{}{"auction_timeouts_ms.max": 100, "auction_timeouts_ms.default": 200},
		},
		{
			description: "Bad adapter endpoint",
			overrides:   map[string]interface{}{"adapters.appnexus.endpoint": "not a url"},
		},
		{
			description: "Unknown default granularity",
			overrides:   map[string]interface{}{"targeting.default_price_granularity": "super"},
		},
		{
			description: "Two account backends",
			overrides: map[string]interface{}{
				"accounts.filesystem.enabled": true,
				"accounts.filesystem.path":    "accounts.yaml",
				"accounts.postgres.dbname":    "accounts",
			},
		},
		{
			description: "Unknown account cache",
			overrides:   map[string]interface{}{"accounts.cache.type": "cassandra"},
		},
		{
			description: "Redis cache without an address",
			overrides:   map[string]interface{}{"accounts.cache.type": "redis"},
		},
		{
			description: "Rate limit without a rate",
			overrides:   map[string]interface{}{"rate_limit.enabled": true},
		},
		{
			description: "Negative cache reservation",
			overrides:   map[string]interface{}{"cache.expected_millis": -1},
		},
	}

	for _, test := range testCases {
		v := viper.New()
		SetupViper(v, "")
		for key, value := range test.overrides {
			v.Set(key, value)
		}
		_, err := New(v)
		assert.Error(t, err, test.description)
		assert.IsType(t, configErrors{}, err, test.description)
	}
}

func TestDisabledAdapterSkipsEndpointValidation(t *testing.T) {
	v := viper.New()
	SetupViper(v, "")
	v.Set("adapters.appnexus.endpoint", "")
	v.Set("adapters.appnexus.disabled", true)
	_, err := New(v)
	assert.NoError(t, err)
}

func TestLimitAuctionTimeout(t *testing.T) {
	testCases := []struct {
		description string
		cfg         AuctionTimeouts
		requested   time.Duration
		expected    time.Duration
	}{
		{"Request wins when there is no max", AuctionTimeouts{Default: 250}, 500 * time.Millisecond, 500 * time.Millisecond},
		{"Default fills a missing tmax", AuctionTimeouts{Default: 250}, 0, 250 * time.Millisecond},
		{"Max clamps a large tmax", AuctionTimeouts{Default: 250, Max: 400}, time.Second, 400 * time.Millisecond},
		{"Max clamps an unlimited request", AuctionTimeouts{Max: 400}, 0, 400 * time.Millisecond},
		{"Negative tmax uses the default", AuctionTimeouts{Default: 100, Max: 400}, -5, 100 * time.Millisecond},
		{"No limits at all", AuctionTimeouts{}, 0, 0},
	}

	for _, test := range testCases {
		assert.Equal(t, test.expected, test.cfg.LimitAuctionTimeout(test.requested), test.description)
	}
}

func TestCacheURLs(t *testing.T) {
	cache := Cache{Scheme: "https", Host: "prebid.adnxs.com", Query: "uuid=%PBS_CACHE_UUID%"}
	assert.Equal(t, "https://prebid.adnxs.com", cache.GetBaseURL())
	assert.Equal(t, "https://prebid.adnxs.com/cache?uuid=abc", cache.GetCachedAssetURL("abc"))

	cache.Scheme = "HTTP"
	assert.Equal(t, "http://prebid.adnxs.com", cache.GetBaseURL())

	cache.Scheme = ""
	assert.Equal(t, "//prebid.adnxs.com", cache.GetBaseURL())
}

func TestMakeQuery(t *testing.T) {
	cfg := PostgresConfig{QueryTemplate: "SELECT id, config FROM accounts WHERE id in %ID_LIST%"}
	assert.Equal(t, "SELECT id, config FROM accounts WHERE id in (NULL)", cfg.MakeQuery(0))
	assert.Equal(t, "SELECT id, config FROM accounts WHERE id in ($1)", cfg.MakeQuery(1))
	assert.Equal(t, "SELECT id, config FROM accounts WHERE id in ($1, $2, $3)", cfg.MakeQuery(3))
}

func TestConnString(t *testing.T) {
	cfg := PostgresConfig{Database: "accounts", Host: "localhost", Port: 5432, Username: "pbs", Password: "secret"}
	assert.Equal(t, "host=localhost port=5432 user=pbs password=secret dbname=accounts sslmode=disable", cfg.ConnString())

	cfg = PostgresConfig{Database: "accounts"}
	assert.Equal(t, "dbname=accounts sslmode=disable", cfg.ConnString())
}

func TestDefaultAccount(t *testing.T) {
	cfg := newDefaultConfig(t)
	account := cfg.DefaultAccount("pub-1")

	assert.Equal(t, "pub-1", account.ID)
	assert.False(t, account.Disabled)
	assert.Equal(t, 20, account.TargetingMaxKeyLength)
	assert.True(t, account.PriceGranularity.IsValid())
	assert.Equal(t, "med", account.PriceGranularity.Name)
}
