package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches for ledger movements
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// GenerateDeposit creates journals for a deposit.
// Moves funds: custody:<asset> (debit) → user:<owner>:<asset> (credit)
func (jg *JournalGenerator) GenerateDeposit(
	owner, asset common.Address,
	amount *uint256.Int,
	eventRef string,
	timestamp int64,
) (*Batch, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidAmount)
	}

	batch := newBatch(eventRef, timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      eventRef,
		DebitAccount:  NewCustodyAccountKey(asset),
		CreditAccount: NewUserAccountKey(owner, asset),
		Amount:        amount.Clone(),
		JournalType:   JournalTypeDeposit,
		Timestamp:     timestamp,
	})
	return batch, nil
}

// GenerateWithdrawal creates journals for a withdrawal.
// Moves funds: user:<owner>:<asset> (debit) → custody:<asset> (credit)
// Pre-check: the holder must have sufficient balance.
func (jg *JournalGenerator) GenerateWithdrawal(
	owner, asset common.Address,
	amount *uint256.Int,
	journalType JournalType,
	eventRef string,
	timestamp int64,
) (*Batch, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(owner, asset), amount); err != nil {
		return nil, err
	}

	batch := newBatch(eventRef, timestamp)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      eventRef,
		DebitAccount:  NewUserAccountKey(owner, asset),
		CreditAccount: NewCustodyAccountKey(asset),
		Amount:        amount.Clone(),
		JournalType:   journalType,
		Timestamp:     timestamp,
	})
	return batch, nil
}

func newBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}
}
