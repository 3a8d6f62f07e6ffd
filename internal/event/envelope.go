package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialized
	EventTypeOwnershipTransferred
	EventTypeSubmitterChanged
	EventTypeDeposit
	EventTypeWithdrawal
	EventTypeTransactionsProcessed
	EventTypeUpgraded
)

var eventTypeNames = map[EventType]string{
	EventTypeInitialized:           "Initialized",
	EventTypeOwnershipTransferred:  "OwnershipTransferred",
	EventTypeSubmitterChanged:      "SubmitterChanged",
	EventTypeDeposit:               "Deposit",
	EventTypeWithdrawal:            "Withdrawal",
	EventTypeTransactionsProcessed: "TransactionsProcessed",
	EventTypeUpgraded:              "Upgraded",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType maps a stored name back to its EventType.
func ParseEventType(name string) EventType {
	for et, n := range eventTypeNames {
		if n == name {
			return et
		}
	}
	return EventTypeUnknown
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	EventID uuid.UUID

	// Global monotonic sequence assigned by core
	Sequence int64

	// Unique per event type; for TransactionsProcessed it is the batch id
	IdempotencyKey string

	EventType EventType

	// Account the event concerns (nil for global events)
	Account *common.Address

	Timestamp time.Time

	// JSON-encoded Event
	Payload []byte
	Event   Event

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// Subject returns the account the event concerns (nil for global events)
	Subject() *common.Address
}
