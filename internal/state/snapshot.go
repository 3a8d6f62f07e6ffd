package state

import (
	"ExchangeLedger/internal/ledger"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SchemaVersion is the format version of persisted snapshots.
const SchemaVersion = 1

const (
	scopeUser    = "user"
	scopeCustody = "custody"
)

// Snapshot is the serializable form of ExchangeState.
type Snapshot struct {
	SchemaVersion  int                       `json:"schema_version"`
	Sequence       int64                     `json:"sequence"`
	StateHash      common.Hash               `json:"state_hash"`
	Initialized    bool                      `json:"initialized"`
	Version        uint64                    `json:"version"`
	Implementation string                    `json:"implementation"`
	Owner          common.Address            `json:"owner"`
	Submitter      common.Address            `json:"submitter"`
	ProcessedCount uint64                    `json:"processed_count"`
	Nonces         map[common.Address]uint64 `json:"nonces"`
	Balances       []BalanceEntry            `json:"balances"`
}

type BalanceEntry struct {
	Scope  string         `json:"scope"`
	Owner  common.Address `json:"owner,omitempty"`
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

// Snapshot captures the state. lastSequence and hash identify the last
// event reflected in it.
func (s *ExchangeState) Snapshot(lastSequence int64, hash [32]byte) *Snapshot {
	balances := s.Balances.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for _, k := range ledger.SortedKeys(balances) {
		entry := BalanceEntry{Asset: k.Asset, Amount: balances[k]}
		if k.IsUser() {
			entry.Scope = scopeUser
			entry.Owner = k.Owner
		} else {
			entry.Scope = scopeCustody
		}
		entries = append(entries, entry)
	}
	return &Snapshot{
		SchemaVersion:  SchemaVersion,
		Sequence:       lastSequence,
		StateHash:      common.Hash(hash),
		Initialized:    s.Initialized,
		Version:        s.Version,
		Implementation: s.Implementation,
		Owner:          s.Owner,
		Submitter:      s.Submitter,
		ProcessedCount: s.ProcessedCount,
		Nonces:         s.Nonces.Snapshot(),
		Balances:       entries,
	}
}

// Restore rebuilds state from a snapshot.
func Restore(snap *Snapshot) (*ExchangeState, error) {
	if snap.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %d (want %d)", snap.SchemaVersion, SchemaVersion)
	}

	balances := make(map[ledger.AccountKey]*uint256.Int, len(snap.Balances))
	for _, e := range snap.Balances {
		if e.Amount == nil {
			return nil, fmt.Errorf("snapshot balance without amount")
		}
		var key ledger.AccountKey
		switch e.Scope {
		case scopeUser:
			key = ledger.NewUserAccountKey(e.Owner, e.Asset)
		case scopeCustody:
			key = ledger.NewCustodyAccountKey(e.Asset)
		default:
			return nil, fmt.Errorf("snapshot balance with unknown scope %q", e.Scope)
		}
		balances[key] = e.Amount
	}

	s := New()
	s.Header = Header{
		Initialized:    snap.Initialized,
		Version:        snap.Version,
		Implementation: snap.Implementation,
		Owner:          snap.Owner,
		Submitter:      snap.Submitter,
		ProcessedCount: snap.ProcessedCount,
	}
	s.Balances.Restore(balances)
	for account, next := range snap.Nonces {
		s.Nonces.Set(account, next)
	}

	if err := ledger.NewInvariantValidator(s.Balances).ValidateConservation(); err != nil {
		return nil, fmt.Errorf("snapshot rejected: %w", err)
	}
	return s, nil
}
