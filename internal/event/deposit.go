package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Deposit records value credited to an account after the custodian pulled
// it from the account's external wallet. RequestID is the caller's
// single-use id for the request.
type Deposit struct {
	Account   common.Address `json:"account"`
	Asset     common.Address `json:"asset"`
	Amount    *uint256.Int   `json:"amount"`
	RequestID *uuid.UUID     `json:"request_id,omitempty"`
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) Subject() *common.Address {
	return &d.Account
}
