package core

import (
	"ExchangeLedger/internal/custody"
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/ledger"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DepositNative credits caller with amount of the native asset pulled from
// its wallet.
func (e *Exchange) DepositNative(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.Deposit(ctx, caller, ledger.NativeAsset, amount)
}

// DepositToken credits caller with amount of token pulled from its wallet.
func (e *Exchange) DepositToken(ctx context.Context, caller, token common.Address, amount *uint256.Int) error {
	if ledger.IsNative(token) {
		return fmt.Errorf("%w: zero token address", ledger.ErrInvalidAddress)
	}
	return e.Deposit(ctx, caller, token, amount)
}

// TransferResult reports the outcome of a keyed deposit or withdrawal.
type TransferResult struct {
	RequestID uuid.UUID
	// Amount is what moved; nil when Duplicate is set.
	Amount *uint256.Int
	// Duplicate is set when the request had already been applied; nothing
	// changed.
	Duplicate bool
}

// Deposit credits caller with amount of asset. The external transfer and the
// credit happen together or not at all.
func (e *Exchange) Deposit(ctx context.Context, caller, asset common.Address, amount *uint256.Int) error {
	_, err := e.SubmitDeposit(ctx, uuid.Nil, caller, asset, amount)
	return err
}

// SubmitDeposit is Deposit keyed by a caller-chosen request id. Repeating an
// applied request id for the same caller is a no-op reported through
// TransferResult.Duplicate. A nil requestID gets a fresh one.
func (e *Exchange) SubmitDeposit(ctx context.Context, requestID uuid.UUID, caller, asset common.Address, amount *uint256.Int) (TransferResult, error) {
	fresh := requestID == uuid.Nil
	if fresh {
		requestID = uuid.New()
	}
	res := TransferResult{RequestID: requestID}
	key := transferKey(event.EventTypeDeposit, caller, requestID)

	err := e.execute(ctx, "deposit", func(op *operation) error {
		if err := op.txn.RequireInitialized(); err != nil {
			return err
		}
		if caller == (common.Address{}) {
			return fmt.Errorf("%w: zero depositor", ledger.ErrInvalidAddress)
		}
		if !fresh && e.idempotency.IsDuplicate(ctx, key) {
			res.Duplicate = true
			return nil
		}
		batch, err := op.gen.GenerateDeposit(caller, asset, amount, op.ref, op.ts.UnixMicro())
		if err != nil {
			return err
		}
		if err := op.txn.Balances.ApplyBatch(batch); err != nil {
			return err
		}
		op.transfers = append(op.transfers, custody.Transfer{
			Direction: custody.In,
			Account:   caller,
			Asset:     asset,
			Amount:    amount.Clone(),
		})
		op.record(&event.Deposit{
			Account:   caller,
			Asset:     asset,
			Amount:    amount.Clone(),
			RequestID: &requestID,
		}, batch, key.Key)
		op.onCommit = append(op.onCommit, func() { e.idempotency.MarkProcessed(key) })
		res.Amount = amount.Clone()
		return nil
	})
	if err != nil {
		return TransferResult{RequestID: requestID}, err
	}
	return res, nil
}

// WithdrawNative sends amount of the native asset to caller's wallet.
// A zero amount withdraws the whole balance.
func (e *Exchange) WithdrawNative(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return e.Withdraw(ctx, caller, ledger.NativeAsset, amount)
}

// WithdrawToken sends amount of token to caller's wallet.
// A zero amount withdraws the whole balance.
func (e *Exchange) WithdrawToken(ctx context.Context, caller, token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if ledger.IsNative(token) {
		return nil, fmt.Errorf("%w: zero token address", ledger.ErrInvalidAddress)
	}
	return e.Withdraw(ctx, caller, token, amount)
}

// Withdraw debits caller and returns the amount actually withdrawn.
func (e *Exchange) Withdraw(ctx context.Context, caller, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	res, err := e.SubmitWithdraw(ctx, uuid.Nil, caller, asset, amount)
	if err != nil {
		return nil, err
	}
	return res.Amount, nil
}

// SubmitWithdraw is Withdraw keyed by a caller-chosen request id, with the
// same duplicate handling as SubmitDeposit.
func (e *Exchange) SubmitWithdraw(ctx context.Context, requestID uuid.UUID, caller, asset common.Address, amount *uint256.Int) (TransferResult, error) {
	fresh := requestID == uuid.Nil
	if fresh {
		requestID = uuid.New()
	}
	res := TransferResult{RequestID: requestID}
	key := transferKey(event.EventTypeWithdrawal, caller, requestID)

	err := e.execute(ctx, "withdraw", func(op *operation) error {
		if err := op.txn.RequireInitialized(); err != nil {
			return err
		}
		if caller == (common.Address{}) {
			return fmt.Errorf("%w: zero account", ledger.ErrInvalidAddress)
		}
		if !fresh && e.idempotency.IsDuplicate(ctx, key) {
			res.Duplicate = true
			return nil
		}
		paid, err := e.withdraw(op, &event.Withdrawal{
			Account:   caller,
			Asset:     asset,
			Amount:    amount,
			RequestID: &requestID,
		}, key.Key)
		if err != nil {
			return err
		}
		op.onCommit = append(op.onCommit, func() { e.idempotency.MarkProcessed(key) })
		res.Amount = paid
		return nil
	})
	if err != nil {
		return TransferResult{RequestID: requestID}, err
	}
	return res, nil
}

// Receive handles value sent to the ledger outside of Deposit. It is always
// refused: credit only ever comes from an explicit deposit.
func (e *Exchange) Receive(ctx context.Context, from, asset common.Address, amount *uint256.Int) error {
	return e.execute(ctx, "receive", func(op *operation) error {
		return fmt.Errorf("%w: use Deposit", ledger.ErrDirectTransferRejected)
	})
}

// withdraw moves w.Amount of w.Asset from w.Account to its wallet inside op
// and records w. A nil or zero amount resolves to the full balance.
func (e *Exchange) withdraw(op *operation, w *event.Withdrawal, key string) (*uint256.Int, error) {
	resolved := w.Amount
	if resolved == nil || resolved.IsZero() {
		resolved = op.txn.Balances.UserBalance(w.Account, w.Asset)
		if resolved.IsZero() {
			return nil, fmt.Errorf("%w: nothing to withdraw for %s in %s",
				ledger.ErrInsufficientBalance, w.Account.Hex(), ledger.AssetName(w.Asset))
		}
	}

	journalType := ledger.JournalTypeWithdrawal
	if w.Signed() {
		journalType = ledger.JournalTypeSignedWithdrawal
	}
	batch, err := op.gen.GenerateWithdrawal(w.Account, w.Asset, resolved, journalType, op.ref, op.ts.UnixMicro())
	if err != nil {
		return nil, err
	}
	if err := op.txn.Balances.ApplyBatch(batch); err != nil {
		return nil, err
	}

	op.transfers = append(op.transfers, custody.Transfer{
		Direction: custody.Out,
		Account:   w.Account,
		Asset:     w.Asset,
		Amount:    resolved.Clone(),
	})
	w.Amount = resolved.Clone()
	op.record(w, batch, key)
	return resolved.Clone(), nil
}

// transferKey scopes a request id to its caller, so one account cannot
// shadow another's request by reusing its id.
func transferKey(t event.EventType, caller common.Address, requestID uuid.UUID) DedupKey {
	return DedupKey{Type: t, Key: caller.Hex() + ":" + requestID.String()}
}
