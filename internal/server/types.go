package server

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Request and response messages of exchangeledger.v1.Exchange. Amounts are
// decimal strings, addresses are 0x-prefixed hex and assets accept "native".

// DepositRequest and WithdrawRequest carry a caller-chosen request id. It is
// part of the signed body, and repeating it is answered with Duplicate set
// instead of moving funds again.
type DepositRequest struct {
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type WithdrawRequest struct {
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	// "0" withdraws the whole balance.
	Amount string `json:"amount"`
}

// TransferResponse answers Deposit and Withdraw. Amount is empty for a
// duplicate.
type TransferResponse struct {
	RequestID string `json:"request_id"`
	Amount    string `json:"amount,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type SubmitTransactionsRequest struct {
	BatchID      string          `json:"batch_id,omitempty"`
	Transactions []hexutil.Bytes `json:"transactions"`
}

type SubmitTransactionsResponse struct {
	BatchID        string `json:"batch_id"`
	Count          uint64 `json:"count"`
	ProcessedCount uint64 `json:"processed_count"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

type InitializeRequest struct {
	Submitter string `json:"submitter"`
}

type SetSubmitterRequest struct {
	Submitter string `json:"submitter"`
}

type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

type RenounceOwnershipRequest struct{}

type UpgradeRequest struct {
	Implementation string        `json:"implementation"`
	InitData       hexutil.Bytes `json:"init_data,omitempty"`
}

type GetBalanceRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type GetNonceRequest struct {
	Account string `json:"account"`
}

type NonceResponse struct {
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"`
}

type GetInfoRequest struct{}

type InfoResponse struct {
	Initialized     bool     `json:"initialized"`
	Owner           string   `json:"owner"`
	Submitter       string   `json:"submitter"`
	ProcessedCount  uint64   `json:"processed_count"`
	Version         string   `json:"version"`
	Implementation  string   `json:"implementation"`
	Implementations []string `json:"implementations"`
	Domain          Domain   `json:"domain"`
	DomainSeparator string   `json:"domain_separator"`
	LastSequence    int64    `json:"last_sequence"`
	StateHash       string   `json:"state_hash"`
}

// Domain is the typed-data domain withdrawals must be signed under.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chain_id"`
	VerifyingContract string `json:"verifying_contract"`
}

// Empty is returned by operations without a result.
type Empty struct{}
