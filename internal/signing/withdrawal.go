package signing

import (
	"ExchangeLedger/internal/ledger"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// Primary type names of the two withdrawal authorizations.
const (
	NativeWithdrawalType = "WithdrawNative"
	TokenWithdrawalType  = "Withdraw"
)

var (
	nativeWithdrawalFields = []apitypes.Type{
		{Name: "sender", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint64"},
	}
	tokenWithdrawalFields = []apitypes.Type{
		{Name: "sender", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint64"},
	}
)

// Withdrawal is the message an account holder signs to authorize a
// withdrawal carried in a settlement batch. Token is ledger.NativeAsset for
// the native variant. An Amount of zero authorizes withdrawing the whole
// balance.
type Withdrawal struct {
	Sender common.Address
	Token  common.Address
	Amount *uint256.Int
	Nonce  uint64
}

// IsNative reports whether the message is the native-currency variant.
func (w Withdrawal) IsNative() bool {
	return ledger.IsNative(w.Token)
}

// PrimaryType returns the EIP-712 primary type of the variant.
func (w Withdrawal) PrimaryType() string {
	if w.IsNative() {
		return NativeWithdrawalType
	}
	return TokenWithdrawalType
}

// TypedData builds the EIP-712 document for the withdrawal under domain d.
func (w Withdrawal) TypedData(d Domain) apitypes.TypedData {
	amount := new(uint256.Int)
	if w.Amount != nil {
		amount.Set(w.Amount)
	}
	message := apitypes.TypedDataMessage{
		"sender": w.Sender.Hex(),
		"amount": (*math.HexOrDecimal256)(amount.ToBig()),
		"nonce":  (*math.HexOrDecimal256)(new(big.Int).SetUint64(w.Nonce)),
	}
	types := apitypes.Types{domainTypeName: domainFields}
	if w.IsNative() {
		types[NativeWithdrawalType] = nativeWithdrawalFields
	} else {
		types[TokenWithdrawalType] = tokenWithdrawalFields
		message["token"] = w.Token.Hex()
	}
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: w.PrimaryType(),
		Domain:      d.typed(),
		Message:     message,
	}
}

// Digest returns keccak256(0x19 0x01 ‖ domainSeparator ‖ hashStruct(message)).
func (w Withdrawal) Digest(d Domain) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(w.TypedData(d))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash withdrawal: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Verify checks that sig is a valid signature of the withdrawal by its sender.
func (w Withdrawal) Verify(d Domain, sig []byte) error {
	digest, err := w.Digest(d)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidSignature, err)
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != w.Sender {
		return fmt.Errorf("%w: signed by %s, sender is %s", ledger.ErrInvalidSignature, signer.Hex(), w.Sender.Hex())
	}
	return nil
}
