package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/asaskevich/govalidator"
	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/prebid/prebid-exchange/openrtb_ext"
)

// Configuration
type Configuration struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	AdminPort      int    `mapstructure:"admin_port"`
	MaxRequestSize int64  `mapstructure:"max_request_size"`
	StatusResponse string `mapstructure:"status_response"`
	EnableGzip     bool   `mapstructure:"enable_gzip"`
	// GenerateBidID assigns ext.prebid.bidid to every bid in the response.
	GenerateBidID   bool               `mapstructure:"generate_bid_id"`
	AuctionTimeouts AuctionTimeouts    `mapstructure:"auction_timeouts_ms"`
	CacheURL        Cache              `mapstructure:"cache"`
	Adapters        map[string]Adapter `mapstructure:"adapters"`
	Targeting       Targeting          `mapstructure:"targeting"`
	Accounts        StoredAccounts     `mapstructure:"accounts"`
	Metrics         Metrics            `mapstructure:"metrics"`
	RateLimit       RateLimit          `mapstructure:"rate_limit"`
	Client          HTTPClient         `mapstructure:"http_client"`
}

type configErrors []error

func (c configErrors) Error() string {
	if len(c) == 0 {
		return ""
	}
	buf := bytes.Buffer{}
	buf.WriteString("validation errors are:\n\n")
	for _, err := range c {
		buf.WriteString("  ")
		buf.WriteString(err.Error())
		buf.WriteString("\n")
	}
	return buf.String()
}

func (cfg *Configuration) validate() configErrors {
	var errs configErrors
	errs = cfg.AuctionTimeouts.validate(errs)
	errs = cfg.CacheURL.validate(errs)
	errs = cfg.Targeting.validate(errs)
	errs = cfg.Accounts.validate(errs)
	errs = cfg.RateLimit.validate(errs)
	errs = validateAdapters(cfg.Adapters, errs)
	if cfg.MaxRequestSize < 0 {
		errs = append(errs, fmt.Errorf("max_request_size must be >= 0. Got %d", cfg.MaxRequestSize))
	}
	return errs
}

type AuctionTimeouts struct {
	// The default timeout is used if the user's request didn't define one. Use 0 if there's no default.
	Default uint64 `mapstructure:"default"`
	// The max timeout is used as an absolute cap, to prevent excessively long ones. Use 0 for no cap
	Max uint64 `mapstructure:"max"`
}

func (cfg *AuctionTimeouts) validate(errs configErrors) configErrors {
	if cfg.Max < cfg.Default && cfg.Max != 0 {
		errs = append(errs, fmt.Errorf("auction_timeouts_ms.max cannot be less than auction_timeouts_ms.default. max=%d, default=%d", cfg.Max, cfg.Default))
	}
	return errs
}

// LimitAuctionTimeout resolves the bidder budget for a request.
// A non-positive request falls back to the default, and the result never exceeds Max. Zero means "no limit".
func (cfg *AuctionTimeouts) LimitAuctionTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = time.Duration(cfg.Default) * time.Millisecond
	}
	if cfg.Max > 0 {
		maxTimeout := time.Duration(cfg.Max) * time.Millisecond
		if requested == 0 || requested > maxTimeout {
			return maxTimeout
		}
	}
	return requested
}

type Cache struct {
	Scheme string `mapstructure:"scheme"`
	Host   string `mapstructure:"host"`
	Query  string `mapstructure:"query"`

	// ExpectedTimeMillis is how long the cache call is expected to take.
	// Bidders lose this much of the auction budget when the request asks for caching.
	ExpectedTimeMillis int `mapstructure:"expected_millis"`
}

func (cfg *Cache) validate(errs configErrors) configErrors {
	if cfg.ExpectedTimeMillis < 0 {
		errs = append(errs, fmt.Errorf("cache.expected_millis must be >= 0. Got %d", cfg.ExpectedTimeMillis))
	}
	if cfg.Host != "" && !validator.IsHost(strings.Split(cfg.Host, ":")[0]) {
		errs = append(errs, fmt.Errorf("cache.host %s is not a valid host", cfg.Host))
	}
	return errs
}

// GetBaseURL allows for protocol relative URL if scheme is empty
func (cfg *Cache) GetBaseURL() string {
	scheme := strings.ToLower(cfg.Scheme)
	if strings.Contains(scheme, "https") {
		return fmt.Sprintf("https://%s", cfg.Host)
	}
	if strings.Contains(scheme, "http") {
		return fmt.Sprintf("http://%s", cfg.Host)
	}
	return fmt.Sprintf("//%s", cfg.Host)
}

// GetCachedAssetURL returns the URL a client can use to fetch the cached value with the given uuid.
func (cfg *Cache) GetCachedAssetURL(uuid string) string {
	return fmt.Sprintf("%s/cache?%s", cfg.GetBaseURL(), strings.Replace(cfg.Query, "%PBS_CACHE_UUID%", uuid, 1))
}

type Targeting struct {
	MaxKeyLength            int    `mapstructure:"max_key_length"`
	DefaultPriceGranularity string `mapstructure:"default_price_granularity"`
}

func (cfg *Targeting) validate(errs configErrors) configErrors {
	if cfg.MaxKeyLength < 0 {
		errs = append(errs, fmt.Errorf("targeting.max_key_length must be >= 0. Got %d", cfg.MaxKeyLength))
	}
	if !openrtb_ext.PriceGranularityFromString(cfg.DefaultPriceGranularity).IsValid() {
		errs = append(errs, fmt.Errorf("targeting.default_price_granularity %q is not a recognized granularity", cfg.DefaultPriceGranularity))
	}
	return errs
}

type Metrics struct {
	Influxdb   InfluxMetrics     `mapstructure:"influxdb"`
	Prometheus PrometheusMetrics `mapstructure:"prometheus"`
}

type InfluxMetrics struct {
	Host            string `mapstructure:"host"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

type PrometheusMetrics struct {
	Port             int    `mapstructure:"port"`
	Namespace        string `mapstructure:"namespace"`
	Subsystem        string `mapstructure:"subsystem"`
	TimeoutMillisRaw int    `mapstructure:"timeout_ms"`
}

// Timeout bounds how long a single scrape may take.
func (cfg *PrometheusMetrics) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutMillisRaw) * time.Millisecond
}

// Endpoint is the prometheus scrape path served by the admin server.
func (cfg *PrometheusMetrics) Endpoint() string {
	return "/metrics"
}

type RateLimit struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

func (cfg *RateLimit) validate(errs configErrors) configErrors {
	if cfg.Enabled && cfg.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must be positive when rate limiting is enabled"))
	}
	return errs
}

type HTTPClient struct {
	MaxIdleConns        int `mapstructure:"max_idle_connections"`
	MaxIdleConnsPerHost int `mapstructure:"max_idle_connections_per_host"`
	IdleConnTimeout     int `mapstructure:"idle_connection_timeout_seconds"`
}

// New uses viper to get our server configurations.
func New(v *viper.Viper) (*Configuration, error) {
	var c Configuration
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("viper failed to unmarshal app config: %v", err)
	}
	glog.Info("Logging the resolved configuration:")
	logGeneral(v, "  \t")
	if errs := c.validate(); len(errs) > 0 {
		return &c, errs
	}
	return &c, nil
}

// SetupViper sets the defaults and env overrides for every known key.
// If filename is non-empty, the file is read as well. A missing file is not an error.
func SetupViper(v *viper.Viper, filename string) {
	if filename != "" {
		v.SetConfigName(filename)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/config")
	}

	v.SetDefault("host", "")
	v.SetDefault("port", 8000)
	v.SetDefault("admin_port", 6060)
	v.SetDefault("max_request_size", 1024*1024)
	v.SetDefault("status_response", "")
	v.SetDefault("enable_gzip", false)
	v.SetDefault("generate_bid_id", false)
	v.SetDefault("auction_timeouts_ms.default", 250)
	v.SetDefault("auction_timeouts_ms.max", 0)
	v.SetDefault("cache.scheme", "")
	v.SetDefault("cache.host", "")
	v.SetDefault("cache.query", "")
	v.SetDefault("cache.expected_millis", 10)
	v.SetDefault("targeting.max_key_length", 20)
	v.SetDefault("targeting.default_price_granularity", openrtb_ext.PriceGranularityMedPBS)
	v.SetDefault("metrics.influxdb.host", "")
	v.SetDefault("metrics.influxdb.database", "")
	v.SetDefault("metrics.influxdb.username", "")
	v.SetDefault("metrics.influxdb.password", "")
	v.SetDefault("metrics.influxdb.interval_seconds", 10)
	v.SetDefault("metrics.prometheus.port", 0)
	v.SetDefault("metrics.prometheus.namespace", "")
	v.SetDefault("metrics.prometheus.subsystem", "")
	v.SetDefault("metrics.prometheus.timeout_ms", 10000)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("http_client.max_idle_connections", 400)
	v.SetDefault("http_client.max_idle_connections_per_host", 10)
	v.SetDefault("http_client.idle_connection_timeout_seconds", 60)

	setAccountDefaults(v)

	v.SetDefault("adapters.appnexus.endpoint", "http://ib.adnxs.com/openrtb2")
	v.SetDefault("adapters.appnexus.platform_id", "5")
	v.SetDefault("adapters.audiencenetwork.endpoint", "https://an.facebook.com/placementbid.ortb")
	v.SetDefault("adapters.audiencenetwork.platform_id", "")
	v.SetDefault("adapters.audiencenetwork.app_secret", "")
	for _, bidder := range openrtb_ext.BidderList() {
		v.SetDefault(fmt.Sprintf("adapters.%s.disabled", strings.ToLower(string(bidder))), false)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PBS")
	v.AutomaticEnv()

	if filename != "" {
		if err := v.ReadInConfig(); err != nil {
			glog.Warningf("Unable to read config file %s: %v. Continuing with defaults and environment overrides.", filename, err)
		}
	}
}

func logGeneral(v *viper.Viper, prefix string) {
	glog.Infof("%shost: %s", prefix, v.GetString("host"))
	glog.Infof("%sport: %d", prefix, v.GetInt("port"))
	glog.Infof("%sadmin_port: %d", prefix, v.GetInt("admin_port"))
	glog.Infof("%sauction_timeouts_ms.default: %d", prefix, v.GetInt("auction_timeouts_ms.default"))
	glog.Infof("%sauction_timeouts_ms.max: %d", prefix, v.GetInt("auction_timeouts_ms.max"))
	glog.Infof("%scache.host: %s", prefix, v.GetString("cache.host"))
	glog.Infof("%saccounts.cache.type: %s", prefix, v.GetString("accounts.cache.type"))
}
