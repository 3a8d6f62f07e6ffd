package server

import (
	"ExchangeLedger/internal/ledger"
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a ledger error to a gRPC status. The message starts with the
// reason code so clients can branch on it without parsing the rest.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codeOf(err), fmt.Sprintf("%s: %v", ledger.Reason(err), err))
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, ledger.ErrNotInitialized),
		errors.Is(err, ledger.ErrAlreadyInitialized),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return codes.FailedPrecondition
	case errors.Is(err, ledger.ErrExternalTransferFailed):
		return codes.Aborted
	case ledger.IsRejection(err):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func invalidArgument(format string, args ...any) error {
	return status.Error(codes.InvalidArgument, fmt.Sprintf(format, args...))
}
