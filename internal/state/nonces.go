package state

import (
	"ExchangeLedger/internal/ledger"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// NonceError describes a rejected nonce. It wraps ledger.ErrInvalidNonce.
type NonceError struct {
	Account  common.Address
	Expected uint64
	Got      uint64
}

func (e *NonceError) Error() string {
	kind := "gap"
	if e.Replay() {
		kind = "replay"
	}
	return fmt.Sprintf("%s: %s account=%s expected=%d got=%d",
		ledger.ErrInvalidNonce, kind, e.Account.Hex(), e.Expected, e.Got)
}

func (e *NonceError) Unwrap() error {
	return ledger.ErrInvalidNonce
}

// Replay reports whether the nonce was already consumed.
func (e *NonceError) Replay() bool {
	return e.Got < e.Expected
}

// NonceTracker holds the next expected nonce per account.
// Forks read through to their parent until merged, like ledger.BalanceTracker.
type NonceTracker struct {
	parent *NonceTracker
	next   map[common.Address]uint64
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{
		next: make(map[common.Address]uint64),
	}
}

func (nt *NonceTracker) Fork() *NonceTracker {
	return &NonceTracker{
		parent: nt,
		next:   make(map[common.Address]uint64),
	}
}

func (nt *NonceTracker) Merge() {
	if nt.parent == nil {
		return
	}
	for k, v := range nt.next {
		nt.parent.next[k] = v
	}
	nt.next = make(map[common.Address]uint64)
}

// Next returns the nonce the account's next authorization must carry.
func (nt *NonceTracker) Next(account common.Address) uint64 {
	for t := nt; t != nil; t = t.parent {
		if v, ok := t.next[account]; ok {
			return v
		}
	}
	return 0
}

// Consume accepts nonce only if it equals the expected one, then advances it.
// The last nonce is never accepted: advancing past it would wrap to zero and
// reopen every earlier signature.
func (nt *NonceTracker) Consume(account common.Address, nonce uint64) error {
	expected := nt.Next(account)
	if nonce != expected {
		return &NonceError{Account: account, Expected: expected, Got: nonce}
	}
	if nonce == math.MaxUint64 {
		return fmt.Errorf("%w: nonces of %s exhausted", ledger.ErrInvalidNonce, account.Hex())
	}
	nt.next[account] = expected + 1
	return nil
}

// Set forces the next expected nonce (used during recovery)
func (nt *NonceTracker) Set(account common.Address, next uint64) {
	nt.next[account] = next
}

// Snapshot returns every account with a non-zero next nonce.
func (nt *NonceTracker) Snapshot() map[common.Address]uint64 {
	var chain []*NonceTracker
	for t := nt; t != nil; t = t.parent {
		chain = append(chain, t)
	}
	out := make(map[common.Address]uint64)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].next {
			out[k] = v
		}
	}
	return out
}
