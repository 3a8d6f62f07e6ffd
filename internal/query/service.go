package query

import (
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/projection"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// QueryService provides read-only access to projection tables and the
// journal. Every response carries as_of_sequence, the last event the
// projections reflect; the live core state may be ahead of it.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a holder's projected balance of asset.
func (qs *QueryService) GetBalance(ctx context.Context, account, asset common.Address) (*BalanceResponse, error) {
	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.NewUserAccountKey(account, asset).AccountPath()
	var balance string
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1 AND asset = $2
	`, path, asset.Hex()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		balance = "0"
	} else if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Account:      account.Hex(),
		Asset:        ledger.AssetName(asset),
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetNonce returns the projected next nonce of account.
func (qs *QueryService) GetNonce(ctx context.Context, account common.Address) (*NonceResponse, error) {
	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var next string
	err = qs.db.QueryRowContext(ctx, `
		SELECT next_nonce::text FROM projections.nonces WHERE account = $1
	`, account.Hex()).Scan(&next)
	resp := &NonceResponse{Account: account.Hex(), AsOfSequence: asOfSeq}
	if errors.Is(err, sql.ErrNoRows) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.NextNonce, err = strconv.ParseUint(next, 10, 64); err != nil {
		return nil, fmt.Errorf("projected nonce %q: %w", next, err)
	}
	return resp, nil
}

// GetJournalHistory returns a holder's journal entries, newest first, with
// cursor pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account common.Address,
	limit int,
	afterSequence *int64,
) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, err
	}

	accountPrefix := fmt.Sprintf("user:%s:%%", account.Hex())

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &HistoryPage{AsOfSequence: asOfSeq}
	for rows.Next() {
		var e JournalHistoryEntry
		var journalType int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(journalType).String()
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Entries) == limit {
		cursor := page.Entries[len(page.Entries)-1].Sequence
		page.NextCursor = &cursor
	}
	return page, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// projected balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}
