package ingestion

import (
	"ExchangeLedger/internal/ledger"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Command names. They double as the method a caller signs, so a signature
// for one command cannot be replayed as another.
const (
	MethodDeposit            = "Deposit"
	MethodWithdraw           = "Withdraw"
	MethodSubmitTransactions = "SubmitTransactions"
)

// Command is a parsed ingest message.
type Command interface {
	Method() string
}

// DepositCommand pulls Amount of Asset from the caller's wallet.
// RequestID makes redelivery of the same signed message harmless.
type DepositCommand struct {
	RequestID uuid.UUID
	Asset     common.Address
	Amount    *uint256.Int
}

func (DepositCommand) Method() string { return MethodDeposit }

// WithdrawCommand pays Amount of Asset to the caller; zero means all of it.
type WithdrawCommand struct {
	RequestID uuid.UUID
	Asset     common.Address
	Amount    *uint256.Int
}

func (WithdrawCommand) Method() string { return MethodWithdraw }

// BatchCommand is a settlement batch from the submitter.
type BatchCommand struct {
	BatchID      uuid.UUID
	Transactions [][]byte
}

func (BatchCommand) Method() string { return MethodSubmitTransactions }

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings of base units.

type transferJSON struct {
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type batchJSON struct {
	BatchID      string          `json:"batch_id"`
	Transactions []hexutil.Bytes `json:"transactions"`
}

// ParseRawEvent converts a received message into the command named by the
// subject it arrived on.
func ParseRawEvent(raw RawEvent) (Command, error) {
	switch raw.Command {
	case MethodDeposit:
		t, err := parseTransfer(raw.Data, false)
		if err != nil {
			return nil, fmt.Errorf("parse Deposit: %w", err)
		}
		return DepositCommand(t), nil
	case MethodWithdraw:
		t, err := parseTransfer(raw.Data, true)
		if err != nil {
			return nil, fmt.Errorf("parse Withdraw: %w", err)
		}
		return WithdrawCommand(t), nil
	case MethodSubmitTransactions:
		return parseBatch(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command: %s", raw.Command)
	}
}

type transfer struct {
	RequestID uuid.UUID
	Asset     common.Address
	Amount    *uint256.Int
}

// parseTransfer decodes a deposit or withdraw body. The request id is
// mandatory: JetStream redelivers unacknowledged messages.
func parseTransfer(data []byte, allowZero bool) (transfer, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return transfer{}, err
	}
	id, err := uuid.Parse(j.RequestID)
	if err != nil || id == uuid.Nil {
		return transfer{}, fmt.Errorf("request_id %q: must be a non-nil uuid", j.RequestID)
	}
	asset, err := ledger.ParseAsset(j.Asset)
	if err != nil {
		return transfer{}, fmt.Errorf("asset: %w", err)
	}
	amount, err := uint256.FromDecimal(j.Amount)
	if err != nil {
		return transfer{}, fmt.Errorf("%w: amount %q", ledger.ErrInvalidAmount, j.Amount)
	}
	if amount.IsZero() && !allowZero {
		return transfer{}, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmount)
	}
	return transfer{RequestID: id, Asset: asset, Amount: amount}, nil
}

func parseBatch(data []byte) (BatchCommand, error) {
	var j batchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return BatchCommand{}, fmt.Errorf("parse SubmitTransactions: %w", err)
	}
	var cmd BatchCommand
	if j.BatchID != "" {
		id, err := uuid.Parse(j.BatchID)
		if err != nil {
			return BatchCommand{}, fmt.Errorf("parse batch_id: %w", err)
		}
		cmd.BatchID = id
	}
	cmd.Transactions = make([][]byte, len(j.Transactions))
	for i, tx := range j.Transactions {
		cmd.Transactions[i] = tx
	}
	return cmd, nil
}
