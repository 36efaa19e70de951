package payments

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable reason a relay operation did not succeed
type Kind string

const (
	// authentication
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"

	// domain state
	KindInvalidRequest          Kind = "invalid_request"
	KindPaymentNotFound         Kind = "payment_not_found"
	KindBookingNotFound         Kind = "booking_not_found"
	KindInvalidState            Kind = "invalid_state"
	KindAttemptsExhausted       Kind = "attempts_exhausted"
	KindVerificationExpired     Kind = "verification_expired"
	KindResendTooSoon           Kind = "resend_too_soon"
	KindInvalidAmount           Kind = "invalid_amount"
	KindAmountExceedsRefundable Kind = "amount_exceeds_refundable"
	KindConcurrentRequest       Kind = "concurrent_request"
	KindConcurrentUpdate        Kind = "concurrent_update"

	// network
	KindGatewayUnreachable Kind = "gateway_unreachable"

	// gateway reported, returned in Result rather than as an error
	KindGatewayError          Kind = "gateway_error"
	KindMACVerificationFailed Kind = "mac_verification_failed"
	KindAmountMismatch        Kind = "amount_mismatch"

	KindInternal Kind = "internal_error"
)

// Error is a relay failure that never reached a gateway decision
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: k}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func retryableError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: true, Err: err}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf extracts the Kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsNetwork reports whether err is a transient transport failure
func IsNetwork(err error) bool {
	return KindOf(err) == KindGatewayUnreachable
}

// IsRetryable reports whether the caller may repeat the same request
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}
