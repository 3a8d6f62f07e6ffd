package state

import (
	"ExchangeLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// CanonicalBalanceBytes encodes one balance for deterministic hashing:
// length-prefixed account path followed by the 32-byte big-endian amount.
func CanonicalBalanceBytes(key ledger.AccountKey, amount *uint256.Int) []byte {
	path := key.AccountPath()
	buf := make([]byte, 0, 1+len(path)+32)
	buf = append(buf, byte(len(path)))
	buf = append(buf, path...)
	word := amount.Bytes32()
	return append(buf, word[:]...)
}

// BalanceDigest returns the canonical bytes of keys' balances in tracker,
// ordered by account path.
func BalanceDigest(tracker *ledger.BalanceTracker, keys []ledger.AccountKey) []byte {
	balances := make(map[ledger.AccountKey]*uint256.Int, len(keys))
	for _, k := range keys {
		balances[k] = tracker.GetBalance(k)
	}
	digest := make([]byte, 0, len(keys)*96)
	for _, k := range ledger.SortedKeys(balances) {
		digest = append(digest, CanonicalBalanceBytes(k, balances[k])...)
	}
	return digest
}
