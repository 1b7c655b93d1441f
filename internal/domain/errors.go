package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindConflict   ErrorKind = "conflict"
	KindBadRequest ErrorKind = "bad_request"
)

// Error is a local failure with a stable code. errors.Is matches on Code.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage copies e with a more specific message, keeping the code.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrSessionNotFound     = &Error{Kind: KindNotFound, Code: "SESSION_NOT_FOUND", Message: "booking session not found"}
	ErrSessionExpired      = &Error{Kind: KindForbidden, Code: "SESSION_EXPIRED", Message: "session expired, start over"}
	ErrSessionNotActive    = &Error{Kind: KindForbidden, Code: "SESSION_NOT_ACTIVE", Message: "booking session is no longer active"}
	ErrSessionForbidden    = &Error{Kind: KindForbidden, Code: "SESSION_FORBIDDEN", Message: "caller may not act on this session"}
	ErrFlowNotAllowed      = &Error{Kind: KindForbidden, Code: "FLOW_NOT_ALLOWED", Message: "operation not permitted for this booking flow"}
	ErrActivityForbidden   = &Error{Kind: KindForbidden, Code: "ACTIVITY_FORBIDDEN", Message: "caller may not book this activity"}
	ErrActivityNotFound    = &Error{Kind: KindNotFound, Code: "ACTIVITY_NOT_FOUND", Message: "activity not found"}
	ErrHoldExpired         = &Error{Kind: KindConflict, Code: "HOLD_EXPIRED", Message: "cabin hold expired, re-select a cabin"}
	ErrIdempotencyInFlight = &Error{Kind: KindConflict, Code: "IDEMPOTENCY_IN_FLIGHT", Message: "a booking with this idempotency key is already in progress"}
	ErrIdempotencyReused   = &Error{Kind: KindConflict, Code: "IDEMPOTENCY_KEY_REUSED", Message: "idempotency key already used for a different booking"}
	ErrRecordNotFound      = &Error{Kind: KindNotFound, Code: "IDEMPOTENCY_RECORD_NOT_FOUND", Message: "idempotency record not found"}
	ErrHandoffInvalid      = &Error{Kind: KindBadRequest, Code: "HANDOFF_INVALID", Message: "session cannot be handed off in its current state"}
	ErrInvalidRequest      = &Error{Kind: KindBadRequest, Code: "INVALID_REQUEST", Message: "invalid request"}
)

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
