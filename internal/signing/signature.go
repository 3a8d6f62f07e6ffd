package signing

import (
	"ExchangeLedger/internal/ledger"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r ‖ s ‖ v signature.
const SignatureLength = crypto.SignatureLength

// RecoverSigner returns the address that produced sig over digest.
//
// v may be 27/28 or 0/1. Signatures with s in the upper half of the curve
// order are rejected, as is a recovery yielding the zero address.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ledger.ErrInvalidSignature, len(sig))
	}

	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: malformed or malleable signature", ledger.ErrInvalidSignature)
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ledger.ErrInvalidSignature, err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: recovered zero address", ledger.ErrInvalidSignature)
	}
	return signer, nil
}

// Sign signs digest with key and returns r ‖ s ‖ v with v in {27, 28}.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignWithdrawal signs w under domain d.
func SignWithdrawal(d Domain, w Withdrawal, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := w.Digest(d)
	if err != nil {
		return nil, err
	}
	return Sign(digest, key)
}
