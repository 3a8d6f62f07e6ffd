package persistence

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/event"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// dedupEventTypes are the event types whose idempotency key guards a
// request against reapplication.
var dedupEventTypes = []string{
	event.EventTypeTransactionsProcessed.String(),
	event.EventTypeDeposit.String(),
	event.EventTypeWithdrawal.String(),
}

// PostgresIdempotencyChecker finds applied requests in the event log. It
// backs the core's second dedup tier.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsProcessed reports whether an event was persisted under key. The
// lookup is served by the events_idempotency unique index.
func (pic *PostgresIdempotencyChecker) IsProcessed(ctx context.Context, key core.DedupKey) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, key.Type.String(), key.Key).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns up to limit most recent dedup keys, oldest first, for
// warming the in-memory tier after a restart. Withdrawals delivered inside
// a batch are covered by their batch and skipped.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]core.DedupKey, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key
		FROM event_log.events
		WHERE event_type = ANY($1)
		  AND (event_type = $2 OR payload ? 'request_id')
		ORDER BY sequence DESC
		LIMIT $3
	`, pq.Array(dedupEventTypes), event.EventTypeTransactionsProcessed.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []core.DedupKey
	for rows.Next() {
		var typ, key string
		if err := rows.Scan(&typ, &key); err != nil {
			return nil, err
		}
		keys = append(keys, core.DedupKey{Type: event.ParseEventType(typ), Key: key})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}
