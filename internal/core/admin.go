package core

import (
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/state"
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Initialize activates the ledger with caller as owner. It succeeds once.
func (e *Exchange) Initialize(ctx context.Context, caller, submitter common.Address) error {
	return e.execute(ctx, "initialize", func(op *operation) error {
		if err := op.txn.Initialize(caller, submitter, state.Baseline); err != nil {
			return err
		}
		op.record(&event.Initialized{Version: op.txn.Version}, nil, "")
		op.record(&event.OwnershipTransferred{NewOwner: caller}, nil, "")
		op.record(&event.SubmitterChanged{NewSubmitter: submitter}, nil, "")
		op.onCommit = append(op.onCommit, func() {
			e.logger.Info().
				Str("owner", caller.Hex()).
				Str("submitter", submitter.Hex()).
				Str("version", state.FormatVersion(state.Baseline.Version())).
				Msg("ledger initialized")
		})
		return nil
	})
}

// SetSubmitter replaces the batch submitter. Owner only.
func (e *Exchange) SetSubmitter(ctx context.Context, caller, submitter common.Address) error {
	return e.execute(ctx, "set_submitter", func(op *operation) error {
		prev, err := op.txn.SetSubmitter(caller, submitter)
		if err != nil {
			return err
		}
		op.record(&event.SubmitterChanged{PreviousSubmitter: prev, NewSubmitter: submitter}, nil, "")
		op.onCommit = append(op.onCommit, func() {
			e.logger.Info().Str("previous", prev.Hex()).Str("submitter", submitter.Hex()).Msg("submitter changed")
		})
		return nil
	})
}

// TransferOwnership hands the owner role to owner. Owner only.
func (e *Exchange) TransferOwnership(ctx context.Context, caller, owner common.Address) error {
	return e.execute(ctx, "transfer_ownership", func(op *operation) error {
		prev, err := op.txn.TransferOwnership(caller, owner)
		if err != nil {
			return err
		}
		op.record(&event.OwnershipTransferred{PreviousOwner: prev, NewOwner: owner}, nil, "")
		op.onCommit = append(op.onCommit, func() {
			e.logger.Info().Str("previous", prev.Hex()).Str("owner", owner.Hex()).Msg("ownership transferred")
		})
		return nil
	})
}

// RenounceOwnership leaves the ledger ownerless. Owner-only operations are
// unavailable from then on.
func (e *Exchange) RenounceOwnership(ctx context.Context, caller common.Address) error {
	return e.execute(ctx, "renounce_ownership", func(op *operation) error {
		prev, err := op.txn.RenounceOwnership(caller)
		if err != nil {
			return err
		}
		op.record(&event.OwnershipTransferred{PreviousOwner: prev}, nil, "")
		op.onCommit = append(op.onCommit, func() {
			e.logger.Warn().Str("previous", prev.Hex()).Msg("ownership renounced")
		})
		return nil
	})
}

// Upgrade activates the registered implementation name and runs its
// migration with initData. Owner only. Balances, nonces and roles carry
// over unless the migration changes them.
func (e *Exchange) Upgrade(ctx context.Context, caller common.Address, name string, initData []byte) error {
	return e.execute(ctx, "upgrade", func(op *operation) error {
		if err := op.txn.RequireOwner(caller); err != nil {
			return err
		}
		impl, err := e.registry.Lookup(name)
		if err != nil {
			return err
		}
		if err := op.txn.Upgrade(caller, impl, initData); err != nil {
			return err
		}
		op.record(&event.Upgraded{
			Implementation: impl.Name(),
			Version:        impl.Version(),
			InitData:       hexutil.Bytes(common.CopyBytes(initData)),
		}, nil, "")
		op.record(&event.Initialized{Version: impl.Version()}, nil, "")
		op.onCommit = append(op.onCommit, func() {
			e.logger.Info().
				Str("implementation", impl.Name()).
				Str("version", state.FormatVersion(impl.Version())).
				Msg("ledger upgraded")
		})
		return nil
	})
}

// Implementations lists the upgrade targets known to the ledger.
func (e *Exchange) Implementations() []string {
	return e.registry.Names()
}
