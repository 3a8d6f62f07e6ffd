package query

import (
	"ExchangeLedger/internal/ledger"
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx   = context.Background()
	alice = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	token = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func newService(t *testing.T) (*QueryService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueryService(db), mock
}

func expectWatermark(mock sqlmock.Sqlmock, seq int64) {
	mock.ExpectQuery("SELECT last_sequence FROM projections.watermark").
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(seq))
}

func TestGetBalance(t *testing.T) {
	qs, mock := newService(t)
	expectWatermark(mock, 12)
	mock.ExpectQuery("SELECT balance::text FROM projections.balances").
		WithArgs(ledger.NewUserAccountKey(alice, token).AccountPath(), token.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("60"))

	resp, err := qs.GetBalance(ctx, alice, token)
	require.NoError(t, err)
	assert.Equal(t, "60", resp.Balance)
	assert.Equal(t, int64(12), resp.AsOfSequence)
	assert.Equal(t, alice.Hex(), resp.Account)
}

func TestGetBalance_UnknownAccountIsZero(t *testing.T) {
	qs, mock := newService(t)
	expectWatermark(mock, 3)
	mock.ExpectQuery("SELECT balance::text").WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	resp, err := qs.GetBalance(ctx, alice, ledger.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, "0", resp.Balance)
	assert.Equal(t, "native", resp.Asset)
}

func TestGetNonce(t *testing.T) {
	qs, mock := newService(t)
	expectWatermark(mock, 7)
	mock.ExpectQuery("SELECT next_nonce::text FROM projections.nonces").WithArgs(alice.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"next_nonce"}).AddRow("2"))

	resp, err := qs.GetNonce(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.NextNonce)
}

func TestGetJournalHistory_PaginatesBySequence(t *testing.T) {
	qs, mock := newService(t)
	expectWatermark(mock, 9)

	cols := []string{"journal_id", "batch_id", "event_ref", "sequence", "debit_account",
		"credit_account", "asset", "amount", "journal_type", "timestamp"}
	after := int64(9)
	mock.ExpectQuery("FROM event_log.journal").
		WithArgs("user:"+alice.Hex()+":%", after, 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("j2", "b2", "w:0", 8, "user:x", "custody:native", "0x0", "40", 2, 2).
			AddRow("j1", "b1", "d:0", 5, "custody:native", "user:x", "0x0", "100", 0, 1))

	page, err := qs.GetJournalHistory(ctx, alice, 2, &after)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "signed_withdrawal", page.Entries[0].JournalType)
	assert.Equal(t, "deposit", page.Entries[1].JournalType)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, int64(5), *page.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyIntegrity(t *testing.T) {
	qs, mock := newService(t)
	mock.ExpectQuery("FROM event_log.events e1").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(42))
	mock.ExpectQuery("FROM projections.balances").
		WillReturnRows(sqlmock.NewRows([]string{"asset", "total"}))

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{42}, report.HashChainBreaks)
	assert.Empty(t, report.UnbalancedAssets)
}
