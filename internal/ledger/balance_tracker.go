package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances.
//
// A tracker obtained from Fork reads through to its parent and keeps its own
// writes until Merge. The parent must not be mutated while a fork is open;
// the engine guarantees this by allowing one writer at a time.
type BalanceTracker struct {
	parent   *BalanceTracker
	balances map[AccountKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// Fork returns a write overlay on top of bt.
func (bt *BalanceTracker) Fork() *BalanceTracker {
	return &BalanceTracker{
		parent:   bt,
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// Merge writes the overlay's balances into its parent. Zero balances are
// dropped from the parent.
func (bt *BalanceTracker) Merge() {
	if bt.parent == nil {
		return
	}
	for k, v := range bt.balances {
		if v.IsZero() {
			delete(bt.parent.balances, k)
			continue
		}
		bt.parent.balances[k] = v
	}
	bt.balances = make(map[AccountKey]*uint256.Int)
}

func (bt *BalanceTracker) get(key AccountKey) *uint256.Int {
	for t := bt; t != nil; t = t.parent {
		if v, ok := t.balances[key]; ok {
			return v
		}
	}
	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v := bt.get(key); v != nil {
		return v.Clone()
	}
	return new(uint256.Int)
}

// UserBalance returns the holder's balance of asset.
func (bt *BalanceTracker) UserBalance(owner, asset common.Address) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(owner, asset))
}

// CustodyBalance returns the amount of asset the ledger accounts as held in custody.
func (bt *BalanceTracker) CustodyBalance(asset common.Address) *uint256.Int {
	return bt.GetBalance(NewCustodyAccountKey(asset))
}

// ValidateSufficient checks that key can be decreased by amount.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, amount *uint256.Int) error {
	have := bt.GetBalance(key)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s have=%s need=%s",
			ErrInsufficientBalance, key.AccountPath(), have.Dec(), amount.Dec())
	}
	return nil
}

func (bt *BalanceTracker) adjusted(key AccountKey, amount *uint256.Int, increase bool) (*uint256.Int, error) {
	cur := bt.GetBalance(key)
	if increase {
		next, overflow := new(uint256.Int).AddOverflow(cur, amount)
		if overflow {
			return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, key.AccountPath())
		}
		return next, nil
	}
	if cur.Lt(amount) {
		return nil, fmt.Errorf("%w: %s have=%s need=%s",
			ErrInsufficientBalance, key.AccountPath(), cur.Dec(), amount.Dec())
	}
	return new(uint256.Int).Sub(cur, amount), nil
}

// ApplyJournal applies a single journal entry to balances. Nothing is
// written unless both legs can be applied.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	debit, err := bt.adjusted(j.DebitAccount, j.Amount, j.DebitAccount.debitIncreases())
	if err != nil {
		return err
	}
	credit, err := bt.adjusted(j.CreditAccount, j.Amount, !j.CreditAccount.debitIncreases())
	if err != nil {
		return err
	}
	bt.balances[j.DebitAccount] = debit
	bt.balances[j.CreditAccount] = credit
	return nil
}

// ApplyBatch applies all journals in a batch, or none of them.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	overlay := bt.Fork()
	for _, j := range batch.Journals {
		if err := overlay.ApplyJournal(j); err != nil {
			return err
		}
	}
	for k, v := range overlay.balances {
		bt.balances[k] = v
	}
	return nil
}

// Snapshot returns a flattened copy of all non-zero balances.
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	var chain []*BalanceTracker
	for t := bt; t != nil; t = t.parent {
		chain = append(chain, t)
	}
	out := make(map[AccountKey]*uint256.Int)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].balances {
			if v.IsZero() {
				delete(out, k)
				continue
			}
			out[k] = v.Clone()
		}
	}
	return out
}

// SortedKeys returns snapshot keys ordered by AccountPath.
func SortedKeys(balances map[AccountKey]*uint256.Int) []AccountKey {
	keys := make([]AccountKey, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}

// Restore replaces all balances. Only valid on a root tracker.
func (bt *BalanceTracker) Restore(balances map[AccountKey]*uint256.Int) {
	bt.balances = make(map[AccountKey]*uint256.Int, len(balances))
	for k, v := range balances {
		if v == nil || v.IsZero() {
			continue
		}
		bt.balances[k] = v.Clone()
	}
}

// ComputeAssetTotals sums holder balances per asset.
func (bt *BalanceTracker) ComputeAssetTotals() map[common.Address]*uint256.Int {
	totals := make(map[common.Address]*uint256.Int)
	for key, balance := range bt.Snapshot() {
		if !key.IsUser() {
			continue
		}
		sum, ok := totals[key.Asset]
		if !ok {
			sum = new(uint256.Int)
			totals[key.Asset] = sum
		}
		sum.Add(sum, balance)
	}
	return totals
}
