package projection

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WorkerID names this worker's row in projections.watermark.
const WorkerID = "main"

// ProjectionWorker updates projection tables from committed outputs.
// The projection channel is fed with non-blocking sends, so the tables may
// miss updates under load; RebuildProjections restores them from the log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSeq.Set(float64(seq))
			}
		}
	}
}

// LastSequence returns the last sequence applied to the tables.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			asset := j.DebitAccount.Asset.Hex()
			amount := j.Amount.Dec()
			if err := applyEntry(ctx, tx, j.DebitAccount.AccountPath(), asset, "-"+amount, seq); err != nil {
				return fmt.Errorf("debit projection: %w", err)
			}
			if err := applyEntry(ctx, tx, j.CreditAccount.AccountPath(), asset, amount, seq); err != nil {
				return fmt.Errorf("credit projection: %w", err)
			}
		}
	}

	if w, ok := output.Envelope.Event.(*event.Withdrawal); ok && w.Signed() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.nonces (account, next_nonce, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (account)
			DO UPDATE SET next_nonce = GREATEST(projections.nonces.next_nonce, $2), last_sequence = $3
		`, w.Account.Hex(), *w.Nonce+1, seq); err != nil {
			return fmt.Errorf("nonce projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WorkerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyEntry adds a signed decimal delta to one account balance.
func applyEntry(ctx context.Context, tx *sql.Tx, accountPath, asset, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, accountPath, asset, delta, seq)
	return err
}

// LoadWatermark returns the last projected sequence, or -1.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, WorkerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// RebuildProjections rebuilds all projection tables from the event log in
// one transaction.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []struct {
		name string
		sql  string
	}{
		{"truncate balances", `TRUNCATE projections.balances`},
		{"truncate nonces", `TRUNCATE projections.nonces`},
		{"clear watermark", `DELETE FROM projections.watermark WHERE worker_id = 'main'`},
		{"rebuild balances", `
			INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
			SELECT account_path, asset, SUM(delta), MAX(sequence)
			FROM (
				SELECT credit_account AS account_path, asset, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT debit_account AS account_path, asset, -amount AS delta, sequence FROM event_log.journal
			) entries
			GROUP BY account_path, asset`},
		{"rebuild nonces", `
			INSERT INTO projections.nonces (account, next_nonce, last_sequence)
			SELECT account, MAX((payload->>'nonce')::numeric) + 1, MAX(sequence)
			FROM event_log.events
			WHERE event_type = 'Withdrawal' AND payload ? 'nonce'
			GROUP BY account`},
		{"rebuild watermark", `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			SELECT 'main', MAX(sequence), NOW() FROM event_log.events
			HAVING MAX(sequence) IS NOT NULL`},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.sql); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
