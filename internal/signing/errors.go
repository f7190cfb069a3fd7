package signing

import (
	"context"
	"errors"
	"fmt"
)

// ErrSelfVerification is returned when a freshly produced signature does not verify against the
// signer's own public key. It indicates a broken key or signer and is never the caller's fault.
var ErrSelfVerification = errors.New("signature failed self-verification")

// BadRequestError reports certContent that cannot be signed.
type BadRequestError struct {
	Reason string
	Err    error
}

func (e *BadRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad request: %s: %v", e.Reason, e.Err)
	}
	return "bad request: " + e.Reason
}

func (e *BadRequestError) Unwrap() error { return e.Err }

// SigningError wraps a failure of the underlying signer.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return "signing failed: " + e.Err.Error() }

func (e *SigningError) Unwrap() error { return e.Err }

// errorKind classifies err for metrics and logs.
func errorKind(err error) string {
	var (
		badRequest *BadRequestError
		signingErr *SigningError
	)
	switch {
	case IsCancelled(err):
		return "cancelled"
	case errors.As(err, &badRequest):
		return "bad_request"
	case errors.Is(err, ErrSelfVerification):
		return "self_verification"
	case errors.As(err, &signingErr):
		return "signing"
	}
	return "internal"
}

// IsCancelled reports whether err means the caller went away or ran out of time.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
