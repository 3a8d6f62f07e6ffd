package core

import (
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/settlement"
	"ExchangeLedger/internal/state"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BatchResult reports the outcome of SubmitTransactions.
type BatchResult struct {
	BatchID uuid.UUID
	// Count is the number of items applied by this call.
	Count          uint64
	ProcessedCount uint64
	// Duplicate is set when the batch had already been applied; nothing
	// changed.
	Duplicate bool
}

// SubmitTransactions applies a batch of pre-authorized operations on behalf
// of the submitter. Either every item is applied or none is: the first
// failing item aborts the batch with that item's error.
//
// A nil batchID gets a fresh one. Resubmitting an applied batch id is a
// no-op reported through BatchResult.Duplicate.
func (e *Exchange) SubmitTransactions(ctx context.Context, caller common.Address, batchID uuid.UUID, items [][]byte) (BatchResult, error) {
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}
	res := BatchResult{BatchID: batchID}

	err := e.execute(ctx, "submit_transactions", func(op *operation) error {
		if err := op.txn.RequireSubmitter(caller); err != nil {
			return err
		}
		key := DedupKey{Type: event.EventTypeTransactionsProcessed, Key: batchID.String()}
		if e.idempotency.IsDuplicate(ctx, key) {
			res.Duplicate = true
			res.ProcessedCount = op.txn.ProcessedCount
			return nil
		}

		// Decode everything first so a malformed item costs no signature checks.
		txs, err := settlement.DecodeBatch(items)
		if err != nil {
			return err
		}
		for i, tx := range txs {
			if err := e.applyItem(op, tx, batchID); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}

		res.Count = uint64(len(txs))
		res.ProcessedCount = op.txn.ProcessedCount + res.Count
		if res.Count == 0 {
			return nil
		}
		op.txn.ProcessedCount = res.ProcessedCount
		op.record(&event.TransactionsProcessed{
			BatchID:        batchID,
			Count:          res.Count,
			ProcessedCount: res.ProcessedCount,
		}, nil, batchID.String())
		op.onCommit = append(op.onCommit, func() {
			e.idempotency.MarkProcessed(key)
			if e.metrics != nil {
				e.metrics.BatchItems.Observe(float64(res.Count))
			}
		})
		return nil
	})
	if err != nil {
		return BatchResult{BatchID: batchID}, err
	}
	return res, nil
}

// applyItem authenticates and applies one decoded batch item.
func (e *Exchange) applyItem(op *operation, tx settlement.Transaction, batchID uuid.UUID) error {
	var sw settlement.SignedWithdrawal
	switch t := tx.(type) {
	case settlement.NativeWithdrawal:
		sw = t.SignedWithdrawal
	case settlement.TokenWithdrawal:
		sw = t.SignedWithdrawal
	default:
		return fmt.Errorf("%w: %s", ledger.ErrInvalidTransactionType, tx.Type())
	}

	if err := sw.Verify(e.domain, sw.Signature); err != nil {
		return err
	}
	if err := op.txn.Nonces.Consume(sw.Sender, sw.Nonce); err != nil {
		e.recordNonceRejection(err)
		return err
	}

	nonce := sw.Nonce
	_, err := e.withdraw(op, &event.Withdrawal{
		Account: sw.Sender,
		Asset:   sw.Token,
		Amount:  sw.Amount,
		Nonce:   &nonce,
		BatchID: &batchID,
	}, "")
	return err
}

func (e *Exchange) recordNonceRejection(err error) {
	if e.metrics == nil {
		return
	}
	kind := "gap"
	var nerr *state.NonceError
	if errors.As(err, &nerr) && nerr.Replay() {
		kind = "replay"
	}
	e.metrics.NonceRejections.WithLabelValues(kind).Inc()
}
