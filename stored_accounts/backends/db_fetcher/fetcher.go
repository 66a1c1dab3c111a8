package db_fetcher

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/golang/glog"
	"github.com/lib/pq"

	"github.com/prebid/prebid-exchange/stored_accounts"
)

// NewFetcher reads accounts from a database. The queryMaker must build a query which selects
// (id, config) for the given number of ids, such as config.PostgresConfig.MakeQuery.
func NewFetcher(db *sql.DB, queryMaker func(int) string) stored_accounts.AccountFetcher {
	if db == nil {
		glog.Fatalf("The Postgres Account Fetcher requires a database connection. Please report this as a bug.")
	}
	if queryMaker == nil {
		glog.Fatalf("The Postgres Account Fetcher requires a queryMaker function. Please report this as a bug.")
	}
	return &dbFetcher{
		db:         db,
		queryMaker: queryMaker,
	}
}

// dbFetcher fetches accounts from a database. This should be instantiated through the NewFetcher() function.
type dbFetcher struct {
	db         *sql.DB
	queryMaker func(numIDs int) (query string)
}

func (fetcher *dbFetcher) FetchAccount(ctx context.Context, accountID string) (json.RawMessage, []error) {
	rows, err := fetcher.db.QueryContext(ctx, fetcher.queryMaker(1), accountID)
	if err != nil {
		if err != context.DeadlineExceeded && !isBadInput(err) {
			glog.Errorf("Error reading from Account DB: %s", err.Error())
			return nil, []error{err}
		}
		return nil, []error{stored_accounts.NotFoundError{ID: accountID, DataType: "Account"}}
	}
	defer func() {
		if err := rows.Close(); err != nil {
			glog.Errorf("error closing DB connection: %v", err)
		}
	}()

	var accountData json.RawMessage
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, []error{err}
		}
		if id == accountID {
			accountData = data
		}
	}
	if rows.Err() != nil {
		return nil, []error{rows.Err()}
	}

	if accountData == nil {
		return nil, []error{stored_accounts.NotFoundError{ID: accountID, DataType: "Account"}}
	}
	return accountData, nil
}

// Returns true if the Postgres error signifies some sort of bad user input, and false otherwise.
//
// These errors are documented here: https://www.postgresql.org/docs/9.3/static/errcodes-appendix.html
func isBadInput(err error) bool {
	// Postgres queries fail if a non-UUID is passed into a query for a UUID column. For example:
	//
	//    SELECT id, config FROM accounts WHERE id IN ('abc');
	//
	// Publishers can send ids which don't fit the schema, so these are reported as not found.
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == "22P02" {
		return true
	}

	return false
}
