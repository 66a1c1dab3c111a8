package db_fetcher

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prebid/prebid-exchange/stored_accounts"
	"github.com/stretchr/testify/assert"
)

const accountQuery = "SELECT id, config FROM accounts WHERE id IN ($1)"

func TestFetchAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	mockReturn := sqlmock.NewRows([]string{"id", "config"}).
		AddRow("1001", `{"price_granularity":"high"}`)
	mock.ExpectQuery(regexp.QuoteMeta(accountQuery)).WithArgs("1001").WillReturnRows(mockReturn)

	fetcher := newTestFetcher(db)
	account, errs := fetcher.FetchAccount(context.Background(), "1001")

	assert.Empty(t, errs)
	assert.JSONEq(t, `{"price_granularity":"high"}`, string(account))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchAccountNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(accountQuery)).WithArgs("unknown").WillReturnRows(sqlmock.NewRows([]string{"id", "config"}))

	account, errs := newTestFetcher(db).FetchAccount(context.Background(), "unknown")
	assert.Nil(t, account)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, stored_accounts.NotFoundError{ID: "unknown", DataType: "Account"}, errs[0])
	}
}

func TestFetchAccountBadInput(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(accountQuery)).WithArgs("not-a-uuid").WillReturnError(&pq.Error{Code: "22P02"})

	_, errs := newTestFetcher(db).FetchAccount(context.Background(), "not-a-uuid")
	if assert.Len(t, errs, 1) {
		assert.IsType(t, stored_accounts.NotFoundError{}, errs[0])
	}
}

func TestFetchAccountDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(accountQuery)).WithArgs("1001").WillReturnError(errors.New("connection reset"))

	_, errs := newTestFetcher(db).FetchAccount(context.Background(), "1001")
	if assert.Len(t, errs, 1) {
		assert.EqualError(t, errs[0], "connection reset")
	}
}

func TestFetchAccountRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	mockReturn := sqlmock.NewRows([]string{"id", "config"}).
		AddRow("1001", `{}`).
		RowError(0, errors.New("row failed"))
	mock.ExpectQuery(regexp.QuoteMeta(accountQuery)).WithArgs("1001").WillReturnRows(mockReturn)

	_, errs := newTestFetcher(db).FetchAccount(context.Background(), "1001")
	assert.Len(t, errs, 1)
}

func newTestFetcher(db *sql.DB) stored_accounts.AccountFetcher {
	return NewFetcher(db, func(numIDs int) string {
		return accountQuery
	})
}
