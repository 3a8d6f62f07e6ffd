package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed and balanced.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateConservation verifies that for every asset the holder balances sum
// to the custody account.
func (v *InvariantValidator) ValidateConservation() error {
	totals := v.tracker.ComputeAssetTotals()
	snapshot := v.tracker.Snapshot()

	for asset, total := range totals {
		custody := v.tracker.CustodyBalance(asset)
		if !custody.Eq(total) {
			return fmt.Errorf("conservation violated for %s: holders=%s custody=%s",
				AssetName(asset), total.Dec(), custody.Dec())
		}
	}
	// custody without any holder
	for key, balance := range snapshot {
		if key.IsUser() {
			continue
		}
		if _, ok := totals[key.Asset]; !ok && !balance.IsZero() {
			return fmt.Errorf("conservation violated for %s: holders=0 custody=%s",
				AssetName(key.Asset), balance.Dec())
		}
	}
	return nil
}

// ValidateHoldings compares the custody accounts with what the custodian
// reports to hold.
func (v *InvariantValidator) ValidateHoldings(holdings map[common.Address]*uint256.Int) error {
	for asset, held := range holdings {
		custody := v.tracker.CustodyBalance(asset)
		if !custody.Eq(held) {
			return fmt.Errorf("custody mismatch for %s: ledger=%s custodian=%s",
				AssetName(asset), custody.Dec(), held.Dec())
		}
	}
	return nil
}
