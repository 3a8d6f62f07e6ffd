package signing

import (
	"ExchangeLedger/internal/ledger"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transport headers carrying the caller's request signature. gRPC metadata
// keys are lower case, so the same names serve NATS headers and gRPC.
const (
	HeaderCaller    = "x-exchange-caller"
	HeaderTimestamp = "x-exchange-timestamp"
	HeaderSignature = "x-exchange-signature"
)

// RequestDigest is the personal-message hash a caller signs:
// TextHash(keccak256(method ‖ "\n" ‖ unix_seconds ‖ "\n" ‖ body)).
func RequestDigest(method string, timestamp int64, body []byte) common.Hash {
	inner := crypto.Keccak256(
		[]byte(method), []byte("\n"),
		[]byte(strconv.FormatInt(timestamp, 10)), []byte("\n"),
		body,
	)
	return common.BytesToHash(accounts.TextHash(inner))
}

// RequestSigner produces authentication headers for one key.
type RequestSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	now     func() time.Time
}

func NewRequestSigner(key *ecdsa.PrivateKey) *RequestSigner {
	return &RequestSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		now:     time.Now,
	}
}

// Address returns the signer's account.
func (s *RequestSigner) Address() common.Address {
	return s.address
}

// Headers signs method and body and returns the header set to attach.
func (s *RequestSigner) Headers(method string, body []byte) (map[string]string, error) {
	ts := s.now().Unix()
	sig, err := Sign(RequestDigest(method, ts, body), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		HeaderCaller:    s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: hexutil.Encode(sig),
	}, nil
}

// RequestVerifier authenticates signed requests.
type RequestVerifier struct {
	maxAge time.Duration
	now    func() time.Time
}

func NewRequestVerifier(maxAge time.Duration) *RequestVerifier {
	return &RequestVerifier{maxAge: maxAge, now: time.Now}
}

// WithClock replaces the verifier's time source.
func (v *RequestVerifier) WithClock(now func() time.Time) *RequestVerifier {
	v.now = now
	return v
}

// Verify checks the headers returned by get against method and body and
// returns the authenticated caller. Failures wrap ledger.ErrUnauthorized.
func (v *RequestVerifier) Verify(method string, body []byte, get func(string) string) (common.Address, error) {
	callerHex := get(HeaderCaller)
	tsRaw := get(HeaderTimestamp)
	sigHex := get(HeaderSignature)
	if callerHex == "" || tsRaw == "" || sigHex == "" {
		return common.Address{}, fmt.Errorf("%w: missing request signature", ledger.ErrUnauthorized)
	}
	if !common.IsHexAddress(callerHex) {
		return common.Address{}, fmt.Errorf("%w: malformed caller", ledger.ErrUnauthorized)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed timestamp", ledger.ErrUnauthorized)
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if v.maxAge > 0 && age > v.maxAge {
		return common.Address{}, fmt.Errorf("%w: request timestamp outside %s window", ledger.ErrUnauthorized, v.maxAge)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ledger.ErrUnauthorized)
	}

	signer, err := RecoverSigner(RequestDigest(method, ts, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ledger.ErrUnauthorized, err)
	}
	caller := common.HexToAddress(callerHex)
	if signer != caller {
		return common.Address{}, fmt.Errorf("%w: signature does not match caller", ledger.ErrUnauthorized)
	}
	return caller, nil
}
