// Package custody is the boundary between the ledger and the wallets that
// hold the actual assets. A settlement moves value between account holders'
// external wallets and the ledger's vault, all of it or none of it.
package custody

import (
	"ExchangeLedger/internal/ledger"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Direction of a transfer relative to the ledger's vault.
type Direction uint8

const (
	// In pulls value from the account's wallet into the vault.
	In Direction = iota
	// Out pushes value from the vault to the account's wallet.
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Transfer is one external movement of value.
type Transfer struct {
	Direction Direction
	Account   common.Address
	Asset     common.Address
	Amount    *uint256.Int
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s %s %s %s", t.Direction, t.Amount.Dec(), ledger.AssetName(t.Asset), t.Account.Hex())
}

// Custodian executes external transfers.
type Custodian interface {
	// Settle executes every transfer or none. A failure wraps
	// ledger.ErrExternalTransferFailed.
	Settle(ctx context.Context, transfers []Transfer) error

	// Holdings reports the vault content per asset.
	Holdings(ctx context.Context) (map[common.Address]*uint256.Int, error)
}
