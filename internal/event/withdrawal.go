package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Withdrawal records value debited from an account and pushed to its
// external wallet. Amount is the resolved amount, never the withdraw-all
// sentinel. Signed withdrawals carry the nonce they consumed and the batch
// that delivered them; direct ones carry the caller's request id.
type Withdrawal struct {
	Account   common.Address `json:"account"`
	Asset     common.Address `json:"asset"`
	Amount    *uint256.Int   `json:"amount"`
	Nonce     *uint64        `json:"nonce,omitempty"`
	BatchID   *uuid.UUID     `json:"batch_id,omitempty"`
	RequestID *uuid.UUID     `json:"request_id,omitempty"`
}

func (w *Withdrawal) EventType() EventType {
	return EventTypeWithdrawal
}

func (w *Withdrawal) Subject() *common.Address {
	return &w.Account
}

// Signed reports whether the withdrawal consumed a nonce.
func (w *Withdrawal) Signed() bool {
	return w.Nonce != nil
}
