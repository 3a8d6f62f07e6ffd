package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// Initialized is emitted when the ledger leaves the uninitialized state and
// after every upgrade, carrying the active implementation version.
type Initialized struct {
	Version uint64 `json:"version"`
}

func (e *Initialized) EventType() EventType     { return EventTypeInitialized }
func (e *Initialized) Subject() *common.Address { return nil }

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (e *OwnershipTransferred) EventType() EventType     { return EventTypeOwnershipTransferred }
func (e *OwnershipTransferred) Subject() *common.Address { return nil }

type SubmitterChanged struct {
	PreviousSubmitter common.Address `json:"previous_submitter"`
	NewSubmitter      common.Address `json:"new_submitter"`
}

func (e *SubmitterChanged) EventType() EventType     { return EventTypeSubmitterChanged }
func (e *SubmitterChanged) Subject() *common.Address { return nil }

// Upgraded names the implementation that became active. InitData is kept
// so replay can re-run the implementation's migration.
type Upgraded struct {
	Implementation string        `json:"implementation"`
	Version        uint64        `json:"version"`
	InitData       hexutil.Bytes `json:"init_data,omitempty"`
}

func (e *Upgraded) EventType() EventType     { return EventTypeUpgraded }
func (e *Upgraded) Subject() *common.Address { return nil }

// TransactionsProcessed closes an accepted settlement batch.
type TransactionsProcessed struct {
	BatchID        uuid.UUID `json:"batch_id"`
	Count          uint64    `json:"count"`
	ProcessedCount uint64    `json:"processed_count"`
}

func (e *TransactionsProcessed) EventType() EventType     { return EventTypeTransactionsProcessed }
func (e *TransactionsProcessed) Subject() *common.Address { return nil }
