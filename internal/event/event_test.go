package event_test

import (
	"ExchangeLedger/internal/event"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_NamesRoundTrip(t *testing.T) {
	for et := event.EventTypeInitialized; et <= event.EventTypeUpgraded; et++ {
		assert.Equal(t, et, event.ParseEventType(et.String()))
	}
	assert.Equal(t, event.EventTypeUnknown, event.ParseEventType("TradeFill"))
}

func TestDecode_SignedWithdrawal(t *testing.T) {
	nonce := uint64(4)
	batch := uuid.New()
	in := &event.Withdrawal{
		Account: common.HexToAddress("0x0a"),
		Asset:   common.HexToAddress("0x0b"),
		Amount:  uint256.MustFromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935"),
		Nonce:   &nonce,
		BatchID: &batch,
	}
	payload, err := event.Encode(in)
	require.NoError(t, err)

	out, err := event.Decode(event.EventTypeWithdrawal, payload)
	require.NoError(t, err)
	w := out.(*event.Withdrawal)
	assert.True(t, w.Signed())
	assert.Equal(t, in.Amount, w.Amount)
	assert.Equal(t, batch, *w.BatchID)
	assert.Equal(t, &in.Account, w.Subject())
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := event.Decode(event.EventTypeUnknown, []byte(`{}`))
	assert.Error(t, err)
}
