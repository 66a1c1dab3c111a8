package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/prebid/prebid-exchange/openrtb_ext"
)

// Account represents a publisher account's pricing configuration.
// Stored accounts are JSON merge patches applied on top of the host defaults.
type Account struct {
	ID                    string                       `json:"id"`
	Disabled              bool                         `json:"disabled"`
	PriceGranularity      openrtb_ext.PriceGranularity `json:"price_granularity"`
	TargetingMaxKeyLength int                          `json:"targeting_max_key_length"`
	CacheTTLSeconds       int64                        `json:"cache_ttl_seconds,omitempty"`
}

// DefaultAccount builds the account used when a publisher has no stored configuration.
func (cfg *Configuration) DefaultAccount(id string) *Account {
	return &Account{
		ID:                    id,
		PriceGranularity:      openrtb_ext.PriceGranularityFromString(cfg.Targeting.DefaultPriceGranularity),
		TargetingMaxKeyLength: cfg.Targeting.MaxKeyLength,
	}
}

// StoredAccounts configures where publisher accounts are loaded from.
// At most one backend may be enabled. With none, every publisher gets the defaults.
type StoredAccounts struct {
	Files    FileFetcherConfig  `mapstructure:"filesystem"`
	Postgres PostgresConfig     `mapstructure:"postgres"`
	Cache    AccountCacheConfig `mapstructure:"cache"`
}

type FileFetcherConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PostgresConfig configures the Postgres connection for accounts
type PostgresConfig struct {
	Database string `mapstructure:"dbname"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// QueryTemplate fetches accounts by ID. It must select (id, config) and use %ID_LIST% where the IDs go:
	//   SELECT id, config FROM accounts WHERE id in %ID_LIST%
	//
	// MakeQuery turns that into:
	//   SELECT id, config FROM accounts WHERE id in ($1, $2, ...)
	QueryTemplate string `mapstructure:"query"`
}

// Enabled reports whether a Postgres backend was configured.
func (cfg *PostgresConfig) Enabled() bool {
	return cfg.Database != ""
}

// ConnString builds the lib/pq connection string.
func (cfg *PostgresConfig) ConnString() string {
	buffer := bytes.NewBuffer(nil)

	if cfg.Host != "" {
		buffer.WriteString("host=")
		buffer.WriteString(cfg.Host)
		buffer.WriteString(" ")
	}

	if cfg.Port > 0 {
		buffer.WriteString("port=")
		buffer.WriteString(strconv.Itoa(cfg.Port))
		buffer.WriteString(" ")
	}

	if cfg.Username != "" {
		buffer.WriteString("user=")
		buffer.WriteString(cfg.Username)
		buffer.WriteString(" ")
	}

	if cfg.Password != "" {
		buffer.WriteString("password=")
		buffer.WriteString(cfg.Password)
		buffer.WriteString(" ")
	}

	if cfg.Database != "" {
		buffer.WriteString("dbname=")
		buffer.WriteString(cfg.Database)
		buffer.WriteString(" ")
	}

	buffer.WriteString("sslmode=disable")
	return buffer.String()
}

// MakeQuery builds a query which can fetch numIDs accounts.
func (cfg *PostgresConfig) MakeQuery(numIDs int) string {
	if numIDs < 0 {
		glog.Errorf("Can't build a SQL query for %d accounts.", numIDs)
		numIDs = 0
	}
	return strings.Replace(cfg.QueryTemplate, "%ID_LIST%", makeIdList(numIDs), -1)
}

func makeIdList(numArgs int) string {
	// "()" is illegal in Postgres. "id IN (NULL)" is valid for every column type and matches nothing.
	if numArgs == 0 {
		return "(NULL)"
	}

	final := bytes.NewBuffer(make([]byte, 0, 2+4*numArgs))
	final.WriteString("(")
	for i := 1; i < numArgs; i++ {
		final.WriteString("$")
		final.WriteString(strconv.Itoa(i))
		final.WriteString(", ")
	}
	final.WriteString("$")
	final.WriteString(strconv.Itoa(numArgs))
	final.WriteString(")")

	return final.String()
}

// Account cache backends.
const (
	AccountCacheNone      = "none"
	AccountCacheMemory    = "memory"
	AccountCacheRedis     = "redis"
	AccountCacheMemcache  = "memcache"
	AccountCacheAerospike = "aerospike"
)

type AccountCacheConfig struct {
	Type string `mapstructure:"type"`
	// TTL is the maximum number of seconds that a value will stay in the cache. 0 means no TTL.
	TTL       int                  `mapstructure:"ttl_seconds"`
	Memory    MemoryCacheConfig    `mapstructure:"memory"`
	Redis     RedisCacheConfig     `mapstructure:"redis"`
	Memcache  MemcacheConfig       `mapstructure:"memcache"`
	Aerospike AerospikeCacheConfig `mapstructure:"aerospike"`
}

type MemoryCacheConfig struct {
	// Size is the max number of bytes held by the cache.
	Size int `mapstructure:"size_bytes"`
}

type RedisCacheConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemcacheConfig struct {
	Servers []string `mapstructure:"servers"`
}

type AerospikeCacheConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Set       string `mapstructure:"set"`
}

func (cfg *StoredAccounts) validate(errs configErrors) configErrors {
	if cfg.Files.Enabled && cfg.Postgres.Enabled() {
		errs = append(errs, fmt.Errorf("accounts.filesystem and accounts.postgres cannot both be enabled"))
	}
	if cfg.Files.Enabled && cfg.Files.Path == "" {
		errs = append(errs, fmt.Errorf("accounts.filesystem.path must be set when accounts.filesystem.enabled is true"))
	}
	if cfg.Postgres.Enabled() && !strings.Contains(cfg.Postgres.QueryTemplate, "%ID_LIST%") {
		errs = append(errs, fmt.Errorf("accounts.postgres.query must contain %%ID_LIST%%"))
	}
	return cfg.Cache.validate(errs)
}

func (cfg *AccountCacheConfig) validate(errs configErrors) configErrors {
	switch cfg.Type {
	case "", AccountCacheNone:
	case AccountCacheMemory:
		if cfg.Memory.Size <= 0 {
			errs = append(errs, fmt.Errorf("accounts.cache.memory.size_bytes must be positive. Got %d", cfg.Memory.Size))
		}
	case AccountCacheRedis:
		if cfg.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("accounts.cache.redis.addr is required"))
		}
	case AccountCacheMemcache:
		if len(cfg.Memcache.Servers) == 0 {
			errs = append(errs, fmt.Errorf("accounts.cache.memcache.servers is required"))
		}
	case AccountCacheAerospike:
		if cfg.Aerospike.Host == "" || cfg.Aerospike.Namespace == "" {
			errs = append(errs, fmt.Errorf("accounts.cache.aerospike.host and accounts.cache.aerospike.namespace are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("accounts.cache.type %q is not supported", cfg.Type))
	}
	if cfg.TTL < 0 {
		errs = append(errs, fmt.Errorf("accounts.cache.ttl_seconds must be >= 0. Got %d", cfg.TTL))
	}
	return errs
}

func setAccountDefaults(v *viper.Viper) {
	v.SetDefault("accounts.filesystem.enabled", false)
	v.SetDefault("accounts.filesystem.path", "")
	v.SetDefault("accounts.postgres.dbname", "")
	v.SetDefault("accounts.postgres.host", "")
	v.SetDefault("accounts.postgres.port", 0)
	v.SetDefault("accounts.postgres.user", "")
	v.SetDefault("accounts.postgres.password", "")
	v.SetDefault("accounts.postgres.query", "SELECT id, config FROM accounts WHERE id in %ID_LIST%")
	v.SetDefault("accounts.cache.type", AccountCacheNone)
	v.SetDefault("accounts.cache.ttl_seconds", 300)
	v.SetDefault("accounts.cache.memory.size_bytes", 10*1024*1024)
	v.SetDefault("accounts.cache.redis.addr", "")
	v.SetDefault("accounts.cache.redis.password", "")
	v.SetDefault("accounts.cache.redis.db", 0)
	v.SetDefault("accounts.cache.memcache.servers", []string{})
	v.SetDefault("accounts.cache.aerospike.host", "")
	v.SetDefault("accounts.cache.aerospike.port", 3000)
	v.SetDefault("accounts.cache.aerospike.namespace", "")
	v.SetDefault("accounts.cache.aerospike.set", "accounts")
}
