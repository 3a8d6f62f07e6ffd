package ledger

import "errors"

// Ledger error taxonomy. Callers wrap these with detail via fmt.Errorf("%w: ...")
// and match them with errors.Is.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidNonce           = errors.New("invalid nonce")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrAlreadyInitialized     = errors.New("already initialized")
	ErrNotInitialized         = errors.New("not initialized")
	ErrExternalTransferFailed = errors.New("external transfer failed")

	ErrInvalidAmount          = errors.New("invalid amount")
	ErrBalanceOverflow        = errors.New("balance overflow")
	ErrDirectTransferRejected = errors.New("direct transfers are not accepted")
	ErrUnknownImplementation  = errors.New("unknown implementation")
	ErrIncompatibleLayout     = errors.New("incompatible storage layout")
	ErrVersionMismatch        = errors.New("version mismatch")
)

// ReasonInternal is reported for errors outside the taxonomy.
const ReasonInternal = "Internal"

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInvalidNonce, "InvalidNonce"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrInvalidTransactionType, "InvalidTransactionType"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrExternalTransferFailed, "ExternalTransferFailed"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrBalanceOverflow, "BalanceOverflow"},
	{ErrDirectTransferRejected, "DirectTransferRejected"},
	{ErrUnknownImplementation, "UnknownImplementation"},
	{ErrIncompatibleLayout, "IncompatibleLayout"},
	{ErrVersionMismatch, "VersionMismatch"},
}

// Reason returns the stable reason code of err, e.g. "InvalidNonce".
// The first matching taxonomy entry wins.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// IsRejection reports whether err is a deterministic ledger rejection
// (retrying the same request can never succeed).
func IsRejection(err error) bool {
	r := Reason(err)
	return r != "" && r != ReasonInternal && r != "ExternalTransferFailed"
}
