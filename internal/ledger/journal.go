package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeSignedWithdrawal
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeSignedWithdrawal:
		return "signed_withdrawal"
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry.
// A deposit debits custody and credits the holder; a withdrawal debits the
// holder and credits custody.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Amount        *uint256.Int // always positive
	JournalType   JournalType
	Timestamp     int64 // epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount of a single asset between two distinct accounts, so the batch is
// balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.CreditAccount.Asset {
			return fmt.Errorf("journal %s moves between assets", j.JournalID)
		}
	}

	return nil
}

// Stamp assigns the global event sequence to the batch and its entries.
func (b *Batch) Stamp(sequence int64) {
	b.Sequence = sequence
	for i := range b.Journals {
		b.Journals[i].Sequence = sequence
	}
}

// Merge appends the entries of other, re-parenting them under b.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	for _, j := range other.Journals {
		j.BatchID = b.BatchID
		b.Journals = append(b.Journals, j)
	}
}

// AffectedAccounts returns every account touched by the batch.
func (b *Batch) AffectedAccounts() []AccountKey {
	if b == nil {
		return nil
	}
	seen := make(map[AccountKey]struct{}, len(b.Journals)*2)
	keys := make([]AccountKey, 0, len(b.Journals)*2)
	for _, j := range b.Journals {
		for _, k := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}
