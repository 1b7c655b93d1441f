package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorCode is the stable upstream failure category.
type ErrorCode string

const (
	CodeInvalidSession     ErrorCode = "INVALID_SESSION"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeCruiseNotAvailable ErrorCode = "CRUISE_NOT_AVAILABLE"
	CodeCabinNotAvailable  ErrorCode = "CABIN_NOT_AVAILABLE"
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeBookingFailed      ErrorCode = "BOOKING_FAILED"
	CodeUnknown            ErrorCode = "UNKNOWN_ERROR"
)

// Error is every failure the gateway returns, whatever layer it came from.
type Error struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Endpoint   string
	// Payload is the raw upstream body, when there was one.
	Payload json.RawMessage
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fusion %s [%s] %s: %v", e.Endpoint, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("fusion %s [%s] %s", e.Endpoint, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether replaying the same request can succeed.
// INVALID_SESSION is deliberately excluded: the session key is dead.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeRateLimit, CodeServiceUnavailable:
		return true
	}
	return false
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable upstream failure.
func IsRetryable(err error) bool {
	fe, ok := AsError(err)
	return ok && fe.Retryable()
}

// HasCode reports whether err is an upstream failure with the given code.
func HasCode(err error, code ErrorCode) bool {
	fe, ok := AsError(err)
	return ok && fe.Code == code
}

// payloadError is the error object the upstream embeds in a 200 response.
type payloadError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapTransportError(endpoint string, err error) *Error {
	fe := &Error{Endpoint: endpoint, Cause: err}

	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Code, fe.Message = CodeTimeout, "upstream request timed out"
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Code, fe.Message = CodeTimeout, "upstream request timed out"
	case errors.As(err, &dnsErr):
		fe.Code, fe.Message = CodeServiceUnavailable, "upstream host could not be resolved"
	case errors.Is(err, syscall.ECONNREFUSED):
		fe.Code, fe.Message = CodeServiceUnavailable, "upstream refused the connection"
	case errors.Is(err, context.Canceled):
		fe.Code, fe.Message = CodeUnknown, "request canceled"
	default:
		fe.Code, fe.Message = CodeServiceUnavailable, "upstream unreachable"
	}
	return fe
}

func mapStatusError(endpoint string, status int, body []byte) *Error {
	fe := &Error{Endpoint: endpoint, StatusCode: status}
	if json.Valid(body) {
		fe.Payload = json.RawMessage(body)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		fe.Code, fe.Message = CodeInvalidCredentials, "upstream rejected the access token"
	case status == http.StatusTooManyRequests:
		fe.Code, fe.Message = CodeRateLimit, "upstream rate limit exceeded"
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		fe.Code, fe.Message = CodeTimeout, "upstream gateway timed out"
	case status >= 500:
		fe.Code, fe.Message = CodeServiceUnavailable, fmt.Sprintf("upstream returned %d", status)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		fe.Code, fe.Message = CodeValidation, "upstream rejected the request"
	default:
		fe.Code, fe.Message = CodeUnknown, fmt.Sprintf("unexpected upstream status %d", status)
	}

	// A structured error body carries a better message than the status line.
	var env struct {
		Error *payloadError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		fe.Message = env.Error.Message
	}
	return fe
}

func mapPayloadError(endpoint string, pe *payloadError, body []byte) *Error {
	return &Error{
		Code:       classifyPayloadCode(endpoint, pe.Code, pe.Message),
		Message:    pe.Message,
		StatusCode: http.StatusOK,
		Endpoint:   endpoint,
		Payload:    json.RawMessage(body),
	}
}

// classifyPayloadCode folds the upstream's free-form error codes into the taxonomy.
func classifyPayloadCode(endpoint, code, message string) ErrorCode {
	text := strings.ToLower(code + " " + message)

	switch ErrorCode(strings.ToUpper(code)) {
	case CodeInvalidSession, CodeTimeout, CodeRateLimit, CodeServiceUnavailable, CodeInvalidCredentials,
		CodeCruiseNotAvailable, CodeCabinNotAvailable, CodeValidation, CodeBookingFailed:
		return ErrorCode(strings.ToUpper(code))
	}

	switch {
	case strings.Contains(text, "session"):
		return CodeInvalidSession
	case strings.Contains(text, "token") || strings.Contains(text, "credential") || strings.Contains(text, "unauthori"):
		return CodeInvalidCredentials
	case strings.Contains(text, "rate limit") || strings.Contains(text, "too many"):
		return CodeRateLimit
	case strings.Contains(text, "cabin") && isUnavailable(text):
		return CodeCabinNotAvailable
	case (strings.Contains(text, "cruise") || strings.Contains(text, "sailing")) && isUnavailable(text):
		return CodeCruiseNotAvailable
	case strings.Contains(text, "invalid") || strings.Contains(text, "missing") || strings.Contains(text, "required"):
		return CodeValidation
	case endpoint == endpointBook:
		return CodeBookingFailed
	}
	return CodeUnknown
}

func isUnavailable(text string) bool {
	return strings.Contains(text, "not available") || strings.Contains(text, "unavailable") ||
		strings.Contains(text, "sold out") || strings.Contains(text, "no longer")
}
