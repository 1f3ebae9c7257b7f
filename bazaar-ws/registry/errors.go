package registry

import (
	"context"
	"errors"
)

// Authentication failures. Verifier implementations wrap one of these so the
// registry can label the failure; the registry behaves the same for all of them.
var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrExpiredCredential   = errors.New("expired credential")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrMissingIdentity     = errors.New("credential carries no identity")
	ErrVerifierUnavailable = errors.New("verifier unavailable")
)

// FailureReason maps an authentication error to a stable label for logs and metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed"
	case errors.Is(err, ErrExpiredCredential):
		return "expired"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	case errors.Is(err, ErrMissingIdentity):
		return "missing_identity"
	case errors.Is(err, ErrVerifierUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "unavailable"
	default:
		return "invalid"
	}
}
