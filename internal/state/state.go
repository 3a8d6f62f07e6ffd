package state

import (
	"ExchangeLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// LayoutID identifies the shape of ExchangeState. An implementation can
// only be upgraded to if it declares the same layout.
const LayoutID = "exchange.ledger.state.v1"

// Header holds the scalar part of the ledger state.
type Header struct {
	Initialized    bool
	Version        uint64
	Implementation string
	Owner          common.Address
	Submitter      common.Address
	ProcessedCount uint64
}

// ExchangeState is the complete committed ledger state.
// Not thread-safe: the engine serializes writers and guards readers.
type ExchangeState struct {
	Header
	Balances *ledger.BalanceTracker
	Nonces   *NonceTracker
}

func New() *ExchangeState {
	return &ExchangeState{
		Balances: ledger.NewBalanceTracker(),
		Nonces:   NewNonceTracker(),
	}
}

// Begin opens a write transaction on s. At most one may be open at a time.
func (s *ExchangeState) Begin() *Txn {
	return &Txn{
		Header:   s.Header,
		Balances: s.Balances.Fork(),
		Nonces:   s.Nonces.Fork(),
		base:     s,
	}
}

// Txn is a write overlay over ExchangeState. Reads see the transaction's own
// writes; nothing reaches the base state before Commit.
type Txn struct {
	Header
	Balances *ledger.BalanceTracker
	Nonces   *NonceTracker

	base *ExchangeState
}

// Commit applies the transaction to its base state.
func (t *Txn) Commit() {
	t.base.Header = t.Header
	t.Balances.Merge()
	t.Nonces.Merge()
}
