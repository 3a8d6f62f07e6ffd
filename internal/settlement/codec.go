// Package settlement defines the pre-authorized operations carried in a
// settlement batch and their wire encoding: one tag byte followed by the
// ABI encoding of the operation's fields.
package settlement

import (
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/signing"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TransactionType is the leading tag byte of a batch item.
type TransactionType uint8

const (
	TypeNativeWithdrawal TransactionType = 0
	TypeTokenWithdrawal  TransactionType = 1
)

func (t TransactionType) String() string {
	switch t {
	case TypeNativeWithdrawal:
		return "NativeWithdrawal"
	case TypeTokenWithdrawal:
		return "TokenWithdrawal"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// Transaction is one authorized operation of a batch.
type Transaction interface {
	Type() TransactionType
}

// SignedWithdrawal is a withdrawal authorized off-line by its sender.
type SignedWithdrawal struct {
	signing.Withdrawal
	Signature []byte
}

// NativeWithdrawal withdraws the native currency.
type NativeWithdrawal struct {
	SignedWithdrawal
}

func (NativeWithdrawal) Type() TransactionType { return TypeNativeWithdrawal }

// TokenWithdrawal withdraws a token.
type TokenWithdrawal struct {
	SignedWithdrawal
}

func (TokenWithdrawal) Type() TransactionType { return TypeTokenWithdrawal }

var (
	nativeArgs abi.Arguments
	tokenArgs  abi.Arguments
)

func init() {
	addressT := mustType("address")
	uint256T := mustType("uint256")
	uint64T := mustType("uint64")
	bytesT := mustType("bytes")

	nativeArgs = abi.Arguments{
		{Name: "sender", Type: addressT},
		{Name: "amount", Type: uint256T},
		{Name: "nonce", Type: uint64T},
		{Name: "signature", Type: bytesT},
	}
	tokenArgs = abi.Arguments{
		{Name: "sender", Type: addressT},
		{Name: "token", Type: addressT},
		{Name: "amount", Type: uint256T},
		{Name: "nonce", Type: uint64T},
		{Name: "signature", Type: bytesT},
	}
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", name, err))
	}
	return t
}

func amountOrZero(a *uint256.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return a.ToBig()
}

// Encode serializes tx as tag ‖ abi.encode(fields).
func Encode(tx Transaction) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch t := tx.(type) {
	case NativeWithdrawal:
		body, err = nativeArgs.Pack(t.Sender, amountOrZero(t.Amount), t.Nonce, t.Signature)
	case TokenWithdrawal:
		body, err = tokenArgs.Pack(t.Sender, t.Token, amountOrZero(t.Amount), t.Nonce, t.Signature)
	default:
		return nil, fmt.Errorf("%w: %T", ledger.ErrInvalidTransactionType, tx)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tx.Type(), err)
	}
	return append([]byte{byte(tx.Type())}, body...), nil
}

// Decode parses one batch item. Unknown tags, empty items and bodies that do
// not decode under their tag's layout are ledger.ErrInvalidTransactionType.
func Decode(item []byte) (Transaction, error) {
	if len(item) == 0 {
		return nil, fmt.Errorf("%w: empty item", ledger.ErrInvalidTransactionType)
	}
	tag := TransactionType(item[0])
	body := item[1:]

	switch tag {
	case TypeNativeWithdrawal:
		vals, err := nativeArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed %s: %v", ledger.ErrInvalidTransactionType, tag, err)
		}
		w, err := withdrawalFrom(ledger.NativeAsset, vals[0], vals[1], vals[2], vals[3])
		if err != nil {
			return nil, err
		}
		return NativeWithdrawal{SignedWithdrawal: w}, nil

	case TypeTokenWithdrawal:
		vals, err := tokenArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed %s: %v", ledger.ErrInvalidTransactionType, tag, err)
		}
		token, ok := vals[1].(common.Address)
		if !ok || ledger.IsNative(token) {
			return nil, fmt.Errorf("%w: token withdrawal without token", ledger.ErrInvalidTransactionType)
		}
		w, err := withdrawalFrom(token, vals[0], vals[2], vals[3], vals[4])
		if err != nil {
			return nil, err
		}
		return TokenWithdrawal{SignedWithdrawal: w}, nil

	default:
		return nil, fmt.Errorf("%w: tag %d", ledger.ErrInvalidTransactionType, uint8(tag))
	}
}

func withdrawalFrom(token common.Address, sender, amount, nonce, sig any) (SignedWithdrawal, error) {
	s, ok1 := sender.(common.Address)
	a, ok2 := amount.(*big.Int)
	n, ok3 := nonce.(uint64)
	b, ok4 := sig.([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return SignedWithdrawal{}, fmt.Errorf("%w: unexpected field types", ledger.ErrInvalidTransactionType)
	}
	amt, overflow := uint256.FromBig(a)
	if overflow {
		return SignedWithdrawal{}, fmt.Errorf("%w: amount overflows uint256", ledger.ErrInvalidTransactionType)
	}
	return SignedWithdrawal{
		Withdrawal: signing.Withdrawal{
			Sender: s,
			Token:  token,
			Amount: amt,
			Nonce:  n,
		},
		Signature: b,
	}, nil
}

// DecodeBatch decodes every item, stopping at the first bad one.
func DecodeBatch(items [][]byte) ([]Transaction, error) {
	txs := make([]Transaction, 0, len(items))
	for i, item := range items {
		tx, err := Decode(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
