package settlement_test

import (
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/settlement"
	"ExchangeLedger/internal/signing"
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	token  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	sig    = bytes.Repeat([]byte{0xab}, signing.SignatureLength)
)

func TestEncode_TagPrefixesAbiBody(t *testing.T) {
	item, err := settlement.Encode(settlement.NativeWithdrawal{SignedWithdrawal: settlement.SignedWithdrawal{
		Withdrawal: signing.Withdrawal{Sender: sender, Amount: uint256.NewInt(40)},
		Signature:  sig,
	}})
	require.NoError(t, err)
	assert.Equal(t, byte(settlement.TypeNativeWithdrawal), item[0])
	// static head is 4 words, then the bytes length word and 3 words of signature
	assert.Len(t, item, 1+32*4+32+96)
	assert.Equal(t, common.LeftPadBytes(sender.Bytes(), 32), item[1:33])
}

func TestDecode_NativeWithdrawal(t *testing.T) {
	in := settlement.NativeWithdrawal{SignedWithdrawal: settlement.SignedWithdrawal{
		Withdrawal: signing.Withdrawal{Sender: sender, Amount: uint256.NewInt(40), Nonce: 9},
		Signature:  sig,
	}}
	item, err := settlement.Encode(in)
	require.NoError(t, err)

	tx, err := settlement.Decode(item)
	require.NoError(t, err)
	out, ok := tx.(settlement.NativeWithdrawal)
	require.True(t, ok)
	assert.Equal(t, sender, out.Sender)
	assert.True(t, ledger.IsNative(out.Token))
	assert.Equal(t, uint64(40), out.Amount.Uint64())
	assert.Equal(t, uint64(9), out.Nonce)
	assert.Equal(t, sig, out.Signature)
}

func TestDecode_TokenWithdrawalWithdrawAllSentinel(t *testing.T) {
	in := settlement.TokenWithdrawal{SignedWithdrawal: settlement.SignedWithdrawal{
		Withdrawal: signing.Withdrawal{Sender: sender, Token: token, Amount: nil, Nonce: 1},
		Signature:  sig,
	}}
	item, err := settlement.Encode(in)
	require.NoError(t, err)

	tx, err := settlement.Decode(item)
	require.NoError(t, err)
	out := tx.(settlement.TokenWithdrawal)
	assert.Equal(t, token, out.Token)
	assert.True(t, out.Amount.IsZero())
	assert.Equal(t, settlement.TypeTokenWithdrawal, out.Type())
}

func TestDecode_InvalidItems(t *testing.T) {
	valid, err := settlement.Encode(settlement.TokenWithdrawal{SignedWithdrawal: settlement.SignedWithdrawal{
		Withdrawal: signing.Withdrawal{Sender: sender, Token: token, Amount: uint256.NewInt(1)},
		Signature:  sig,
	}})
	require.NoError(t, err)

	retagged := append([]byte{2}, valid[1:]...)
	nativeAsToken, err := settlement.Encode(settlement.NativeWithdrawal{SignedWithdrawal: settlement.SignedWithdrawal{
		Withdrawal: signing.Withdrawal{Sender: sender, Amount: new(uint256.Int)},
		Signature:  sig,
	}})
	require.NoError(t, err)
	nativeAsToken[0] = byte(settlement.TypeTokenWithdrawal)

	cases := map[string][]byte{
		"empty":     {},
		"tag only":  {0},
		"tag 2":     retagged,
		"tag 255":   append([]byte{255}, valid[1:]...),
		"truncated": valid[:40],
		"wrong tag": nativeAsToken,
	}
	for name, item := range cases {
		_, err := settlement.Decode(item)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransactionType, name)
	}
}

func TestDecodeBatch_ReportsItemIndex(t *testing.T) {
	good, err := settlement.Encode(settlement.NativeWithdrawal{SignedWithdrawal: settlement.SignedWithdrawal{
		Withdrawal: signing.Withdrawal{Sender: sender, Amount: uint256.NewInt(1)},
		Signature:  sig,
	}})
	require.NoError(t, err)

	_, err = settlement.DecodeBatch([][]byte{good, {7}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransactionType)
	assert.Contains(t, err.Error(), "item 1")
}
