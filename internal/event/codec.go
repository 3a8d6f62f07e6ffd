package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event payload for the log.
func Encode(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return payload, nil
}

// New returns an empty payload value for et.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeInitialized:
		return &Initialized{}, nil
	case EventTypeOwnershipTransferred:
		return &OwnershipTransferred{}, nil
	case EventTypeSubmitterChanged:
		return &SubmitterChanged{}, nil
	case EventTypeDeposit:
		return &Deposit{}, nil
	case EventTypeWithdrawal:
		return &Withdrawal{}, nil
	case EventTypeTransactionsProcessed:
		return &TransactionsProcessed{}, nil
	case EventTypeUpgraded:
		return &Upgraded{}, nil
	}
	return nil, fmt.Errorf("unknown event type %d", et)
}

// Decode parses a stored payload of type et.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
