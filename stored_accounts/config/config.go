package config

import (
	"database/sql"
	"fmt"

	"github.com/golang/glog"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/pbsmetrics"
	"github.com/prebid/prebid-exchange/stored_accounts"
	"github.com/prebid/prebid-exchange/stored_accounts/backends/db_fetcher"
	"github.com/prebid/prebid-exchange/stored_accounts/backends/empty_fetcher"
	"github.com/prebid/prebid-exchange/stored_accounts/backends/file_fetcher"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/aerospikecache"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/memcachedcache"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/memory"
	"github.com/prebid/prebid-exchange/stored_accounts/caches/rediscache"
)

// NewAccountFetcher returns two things:
//
// 1. A Fetcher which can be used to get publisher accounts
// 2. A function which should be called on shutdown for graceful cleanups.
//
// If any errors occur, the program will exit with an error message.
// It probably means you have a bad config or networking issue.
func NewAccountFetcher(cfg *config.StoredAccounts, metricsEngine pbsmetrics.MetricsEngine) (fetcher stored_accounts.AccountFetcher, shutdown func()) {
	var db *sql.DB
	if cfg.Postgres.Enabled() {
		glog.Infof("Connecting to Postgres for Stored Accounts. DB=%s, host=%s, port=%d, user=%s",
			cfg.Postgres.Database,
			cfg.Postgres.Host,
			cfg.Postgres.Port,
			cfg.Postgres.Username)
		db = newPostgresDB(&cfg.Postgres)
	}

	fetcher, err := newFetcher(cfg, db)
	if err != nil {
		glog.Fatalf("Failed to load stored accounts: %v", err)
	}

	cache, err := newCache(&cfg.Cache)
	if err != nil {
		glog.Fatalf("Failed to create the account cache: %v", err)
	}
	if cache != nil {
		fetcher = stored_accounts.WithCache(fetcher, cache, metricsEngine)
	}

	shutdown = func() {
		if db != nil {
			if err := db.Close(); err != nil {
				glog.Errorf("Error closing DB connection: %v", err)
			}
		}
	}
	return
}

func newFetcher(cfg *config.StoredAccounts, db *sql.DB) (stored_accounts.AccountFetcher, error) {
	switch {
	case db != nil:
		glog.Infof("Loading Stored Accounts from Postgres with query: %s", cfg.Postgres.QueryTemplate)
		return db_fetcher.NewFetcher(db, cfg.Postgres.MakeQuery), nil
	case cfg.Files.Enabled:
		glog.Infof("Loading Stored Accounts from filesystem at path %s", cfg.Files.Path)
		return file_fetcher.NewFileFetcher(cfg.Files.Path)
	default:
		glog.Infof("No Stored Accounts configured. Every publisher will use the default account.")
		return empty_fetcher.EmptyFetcher{}, nil
	}
}

// newCache returns nil when no account cache is configured.
func newCache(cfg *config.AccountCacheConfig) (stored_accounts.Cache, error) {
	switch cfg.Type {
	case "", config.AccountCacheNone:
		return nil, nil
	case config.AccountCacheMemory:
		return memory.NewCache(&cfg.Memory, cfg.TTL), nil
	case config.AccountCacheRedis:
		return rediscache.NewCache(&cfg.Redis, cfg.TTL), nil
	case config.AccountCacheMemcache:
		return memcachedcache.NewCache(&cfg.Memcache, cfg.TTL), nil
	case config.AccountCacheAerospike:
		return aerospikecache.NewCache(&cfg.Aerospike, cfg.TTL)
	}
	return nil, fmt.Errorf("unknown account cache type: %s", cfg.Type)
}

func newPostgresDB(cfg *config.PostgresConfig) *sql.DB {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		glog.Fatalf("Failed to open postgres connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		// The fetcher still works once the database comes back.
		glog.Errorf("Failed to ping postgres: %v", err)
	}

	return db
}
