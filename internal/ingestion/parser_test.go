package ingestion_test

import (
	"ExchangeLedger/internal/ingestion"
	"ExchangeLedger/internal/ledger"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const requestID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func rawFromJSON(t *testing.T, command string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Command:   command,
		Data:      data,
		Header:    func(string) string { return "" },
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
		TermFunc:  func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	token := "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	raw := rawFromJSON(t, ingestion.MethodDeposit, map[string]string{
		"request_id": requestID,
		"asset":      token,
		"amount":     "1000000000000000000000",
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dep, ok := cmd.(ingestion.DepositCommand)
	if !ok {
		t.Fatalf("expected DepositCommand, got %T", cmd)
	}
	if dep.RequestID.String() != requestID {
		t.Errorf("request_id: got %s", dep.RequestID)
	}
	if dep.Asset != common.HexToAddress(token) {
		t.Errorf("asset: got %s, want %s", dep.Asset.Hex(), token)
	}
	if dep.Amount.Dec() != "1000000000000000000000" {
		t.Errorf("amount: got %s", dep.Amount.Dec())
	}
}

func TestParseDeposit_RejectsZeroAmount(t *testing.T) {
	raw := rawFromJSON(t, ingestion.MethodDeposit, map[string]string{"request_id": requestID, "asset": "native", "amount": "0"})

	_, err := ingestion.ParseRawEvent(raw)
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestParseTransfer_RequiresRequestID(t *testing.T) {
	for _, id := range []string{"", "not-a-uuid", "00000000-0000-0000-0000-000000000000"} {
		raw := rawFromJSON(t, ingestion.MethodWithdraw, map[string]string{"request_id": id, "asset": "native", "amount": "1"})
		if _, err := ingestion.ParseRawEvent(raw); err == nil {
			t.Errorf("request_id %q: expected error", id)
		}
	}
}

func TestParseWithdraw_ZeroMeansAll(t *testing.T) {
	raw := rawFromJSON(t, ingestion.MethodWithdraw, map[string]string{"request_id": requestID, "asset": "native", "amount": "0"})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	wd := cmd.(ingestion.WithdrawCommand)
	if !wd.Amount.IsZero() {
		t.Errorf("amount: got %s, want 0", wd.Amount.Dec())
	}
	if wd.Asset != ledger.NativeAsset {
		t.Errorf("asset: got %s, want native", wd.Asset.Hex())
	}
}

func TestParseBatch(t *testing.T) {
	raw := rawFromJSON(t, ingestion.MethodSubmitTransactions, map[string]interface{}{
		"batch_id":     "550e8400-e29b-41d4-a716-446655440000",
		"transactions": []string{"0x00aa", "0x01bb"},
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	batch := cmd.(ingestion.BatchCommand)
	if batch.BatchID.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("batch_id: got %s", batch.BatchID)
	}
	if len(batch.Transactions) != 2 || batch.Transactions[1][0] != 0x01 {
		t.Errorf("transactions: got %x", batch.Transactions)
	}
}

func TestParseBatch_InvalidHex(t *testing.T) {
	raw := rawFromJSON(t, ingestion.MethodSubmitTransactions, map[string]interface{}{
		"transactions": []string{"zz"},
	})
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for non-hex transaction")
	}
}

func TestParseUnknownCommand(t *testing.T) {
	raw := rawFromJSON(t, "Liquidate", map[string]string{})
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	raw := ingestion.RawEvent{Command: ingestion.MethodDeposit, Data: []byte("{not json")}
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
