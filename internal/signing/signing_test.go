package signing_test

import (
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/signing"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDomain = signing.NewDomain(big.NewInt(1337), common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))

var testToken = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")

func word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// expectedDigest computes the EIP-712 digest by hand.
func expectedDigest(d signing.Domain, w signing.Withdrawal) common.Hash {
	sep := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		word(d.ChainID.Bytes()),
		word(d.VerifyingContract.Bytes()),
	)
	amount := w.Amount.Bytes32()
	nonce := word(new(big.Int).SetUint64(w.Nonce).Bytes())

	var structHash []byte
	if ledger.IsNative(w.Token) {
		structHash = crypto.Keccak256(
			crypto.Keccak256([]byte("WithdrawNative(address sender,uint256 amount,uint64 nonce)")),
			word(w.Sender.Bytes()), amount[:], nonce,
		)
	} else {
		structHash = crypto.Keccak256(
			crypto.Keccak256([]byte("Withdraw(address sender,address token,uint256 amount,uint64 nonce)")),
			word(w.Sender.Bytes()), word(w.Token.Bytes()), amount[:], nonce,
		)
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, sep, structHash)
}

// ============================================================================
// Test: Domain
// ============================================================================

func TestDomain_SeparatorMatchesManualEncoding(t *testing.T) {
	sep, err := testDomain.Separator()
	require.NoError(t, err)

	want := crypto.Keccak256Hash(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte(signing.DefaultDomainName)),
		crypto.Keccak256([]byte(signing.DefaultDomainVersion)),
		word(big.NewInt(1337).Bytes()),
		word(testDomain.VerifyingContract.Bytes()),
	)
	assert.Equal(t, want, sep)
}

func TestDomain_SeparatorDependsOnChain(t *testing.T) {
	other := signing.NewDomain(big.NewInt(1), testDomain.VerifyingContract)
	a, err := testDomain.Separator()
	require.NoError(t, err)
	b, err := other.Separator()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDomain_Validate(t *testing.T) {
	require.NoError(t, testDomain.Validate())
	assert.Error(t, signing.Domain{Name: "x", Version: "1"}.Validate())
}

// ============================================================================
// Test: Withdrawal digests
// ============================================================================

func TestWithdrawal_DigestMatchesManualEncoding(t *testing.T) {
	sender := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	cases := []signing.Withdrawal{
		{Sender: sender, Token: ledger.NativeAsset, Amount: uint256.NewInt(40), Nonce: 0},
		{Sender: sender, Token: testToken, Amount: uint256.NewInt(1_000_000), Nonce: 7},
		{Sender: sender, Token: testToken, Amount: new(uint256.Int), Nonce: 1},
	}
	for _, w := range cases {
		got, err := w.Digest(testDomain)
		require.NoError(t, err)
		assert.Equal(t, expectedDigest(testDomain, w), got, w.PrimaryType())
	}
}

func TestWithdrawal_PrimaryType(t *testing.T) {
	assert.Equal(t, signing.NativeWithdrawalType, signing.Withdrawal{}.PrimaryType())
	assert.Equal(t, signing.TokenWithdrawalType, signing.Withdrawal{Token: testToken}.PrimaryType())
}

// ============================================================================
// Test: signature integrity
// ============================================================================

func TestWithdrawal_SignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := signing.Withdrawal{
		Sender: crypto.PubkeyToAddress(key.PublicKey),
		Token:  testToken,
		Amount: uint256.NewInt(40),
		Nonce:  3,
	}
	sig, err := signing.SignWithdrawal(testDomain, w, key)
	require.NoError(t, err)
	require.Len(t, sig, signing.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	require.NoError(t, w.Verify(testDomain, sig))
}

func TestWithdrawal_TamperedFieldsRejected(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	base := signing.Withdrawal{
		Sender: crypto.PubkeyToAddress(key.PublicKey),
		Token:  testToken,
		Amount: uint256.NewInt(40),
		Nonce:  0,
	}
	sig, err := signing.SignWithdrawal(testDomain, base, key)
	require.NoError(t, err)

	tampered := map[string]signing.Withdrawal{
		"sender": {Sender: common.HexToAddress("0x01"), Token: base.Token, Amount: base.Amount, Nonce: base.Nonce},
		"token":  {Sender: base.Sender, Token: common.HexToAddress("0x02"), Amount: base.Amount, Nonce: base.Nonce},
		"amount": {Sender: base.Sender, Token: base.Token, Amount: uint256.NewInt(41), Nonce: base.Nonce},
		"nonce":  {Sender: base.Sender, Token: base.Token, Amount: base.Amount, Nonce: 1},
		"native": {Sender: base.Sender, Token: ledger.NativeAsset, Amount: base.Amount, Nonce: base.Nonce},
	}
	for name, w := range tampered {
		err := w.Verify(testDomain, sig)
		assert.ErrorIs(t, err, ledger.ErrInvalidSignature, name)
	}

	otherDomain := signing.NewDomain(big.NewInt(1), testDomain.VerifyingContract)
	assert.ErrorIs(t, base.Verify(otherDomain, sig), ledger.ErrInvalidSignature)
}

func TestRecoverSigner_AcceptsZeroOneRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256Hash([]byte("digest"))

	raw, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	signer, err := signing.RecoverSigner(digest, raw)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)
}

func TestRecoverSigner_RejectsMalformed(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256Hash([]byte("digest"))
	sig, err := signing.Sign(digest, key)
	require.NoError(t, err)

	_, err = signing.RecoverSigner(digest, sig[:64])
	assert.ErrorIs(t, err, ledger.ErrInvalidSignature)

	badV := append([]byte(nil), sig...)
	badV[64] = 29
	_, err = signing.RecoverSigner(digest, badV)
	assert.ErrorIs(t, err, ledger.ErrInvalidSignature)

	zeroR := append([]byte(nil), sig...)
	copy(zeroR[:32], make([]byte, 32))
	_, err = signing.RecoverSigner(digest, zeroR)
	assert.ErrorIs(t, err, ledger.ErrInvalidSignature)
}

func TestRecoverSigner_RejectsHighS(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256Hash([]byte("malleable"))
	sig, err := signing.Sign(digest, key)
	require.NoError(t, err)

	// (r, n-s, v^1) is the malleated twin of a valid signature.
	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	highS := new(big.Int).Sub(n, s)
	twin := append([]byte(nil), sig...)
	copy(twin[32:64], word(highS.Bytes()))
	if twin[64] == 27 {
		twin[64] = 28
	} else {
		twin[64] = 27
	}

	_, err = signing.RecoverSigner(digest, twin)
	assert.ErrorIs(t, err, ledger.ErrInvalidSignature)
}

// ============================================================================
// Test: signed requests
// ============================================================================

func headerGetter(h map[string]string) func(string) string {
	return func(k string) string { return h[k] }
}

func TestRequest_SignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := signing.NewRequestSigner(key)
	verifier := signing.NewRequestVerifier(time.Minute)

	body := []byte(`{"amount":"10"}`)
	headers, err := signer.Headers("/exchange.v1.Exchange/Deposit", body)
	require.NoError(t, err)

	caller, err := verifier.Verify("/exchange.v1.Exchange/Deposit", body, headerGetter(headers))
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), caller)
}

func TestRequest_Rejections(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := signing.NewRequestSigner(key)
	body := []byte("payload")
	headers, err := signer.Headers("m", body)
	require.NoError(t, err)

	verifier := signing.NewRequestVerifier(time.Minute)

	_, err = verifier.Verify("m", []byte("other"), headerGetter(headers))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized, "tampered body")

	_, err = verifier.Verify("other-method", body, headerGetter(headers))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized, "method replay")

	_, err = verifier.Verify("m", body, headerGetter(map[string]string{}))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized, "missing headers")

	spoofed := map[string]string{}
	for k, v := range headers {
		spoofed[k] = v
	}
	spoofed[signing.HeaderCaller] = common.HexToAddress("0x1234").Hex()
	_, err = verifier.Verify("m", body, headerGetter(spoofed))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized, "spoofed caller")

	late := signing.NewRequestVerifier(time.Minute).WithClock(func() time.Time {
		return time.Now().Add(10 * time.Minute)
	})
	_, err = late.Verify("m", body, headerGetter(headers))
	assert.ErrorIs(t, err, ledger.ErrUnauthorized, "expired")
}
