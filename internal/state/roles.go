package state

import (
	"ExchangeLedger/internal/ledger"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RequireInitialized fails until the ledger has been initialized.
func (h Header) RequireInitialized() error {
	if !h.Initialized {
		return ledger.ErrNotInitialized
	}
	return nil
}

// RequireOwner admits only the current owner. After renouncement nobody is.
func (h Header) RequireOwner(caller common.Address) error {
	if err := h.RequireInitialized(); err != nil {
		return err
	}
	if h.Owner == (common.Address{}) || caller != h.Owner {
		return fmt.Errorf("%w: %s is not the owner", ledger.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// RequireSubmitter admits only the current submitter.
func (h Header) RequireSubmitter(caller common.Address) error {
	if err := h.RequireInitialized(); err != nil {
		return err
	}
	if h.Submitter == (common.Address{}) || caller != h.Submitter {
		return fmt.Errorf("%w: %s is not the submitter", ledger.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func requireNonZero(role string, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: zero %s", ledger.ErrInvalidAddress, role)
	}
	return nil
}

// Initialize moves the ledger to Active with owner and submitter set.
func (t *Txn) Initialize(owner, submitter common.Address, impl Implementation) error {
	if t.Initialized {
		return ledger.ErrAlreadyInitialized
	}
	if err := requireNonZero("owner", owner); err != nil {
		return err
	}
	if err := requireNonZero("submitter", submitter); err != nil {
		return err
	}
	t.Initialized = true
	t.Owner = owner
	t.Submitter = submitter
	t.Version = impl.Version()
	t.Implementation = impl.Name()
	return nil
}

// SetSubmitter replaces the submitter and returns the previous one.
func (t *Txn) SetSubmitter(caller, submitter common.Address) (common.Address, error) {
	if err := t.RequireOwner(caller); err != nil {
		return common.Address{}, err
	}
	if err := requireNonZero("submitter", submitter); err != nil {
		return common.Address{}, err
	}
	prev := t.Submitter
	t.Submitter = submitter
	return prev, nil
}

// TransferOwnership hands ownership to owner and returns the previous owner.
func (t *Txn) TransferOwnership(caller, owner common.Address) (common.Address, error) {
	if err := t.RequireOwner(caller); err != nil {
		return common.Address{}, err
	}
	if err := requireNonZero("owner", owner); err != nil {
		return common.Address{}, err
	}
	prev := t.Owner
	t.Owner = owner
	return prev, nil
}

// RenounceOwnership leaves the ledger without an owner.
func (t *Txn) RenounceOwnership(caller common.Address) (common.Address, error) {
	if err := t.RequireOwner(caller); err != nil {
		return common.Address{}, err
	}
	prev := t.Owner
	t.Owner = common.Address{}
	return prev, nil
}
