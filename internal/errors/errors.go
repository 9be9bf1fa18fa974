package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is one of the fixed error codes every failed API response carries.
type Code string

const (
	CodeBadInput        Code = "BAD_INPUT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeFeatureDisabled Code = "FEATURE_DISABLED"
	CodeInternal        Code = "INTERNAL"
	CodeContract        Code = "CONTRACT"
)

// Codes lists the taxonomy in declaration order.
var Codes = []Code{
	CodeBadInput, CodeNotFound, CodeRateLimited,
	CodeFeatureDisabled, CodeInternal, CodeContract,
}

// Valid reports whether c belongs to the taxonomy.
func (c Code) Valid() bool {
	switch c {
	case CodeBadInput, CodeNotFound, CodeRateLimited,
		CodeFeatureDisabled, CodeInternal, CodeContract:
		return true
	}
	return false
}

// Status maps a code to the HTTP status written with it.
func (c Code) Status() int {
	switch c {
	case CodeBadInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeFeatureDisabled:
		return http.StatusForbidden
	case CodeContract:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may retry after backoff.
func (c Code) Retryable() bool {
	return c == CodeRateLimited
}

// EdgeError is an error that can be returned to clients as an error envelope.
type EdgeError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	CorrID  string `json:"corrId,omitempty"`
	// Details is verbose debugging text. It is never serialized and only
	// copied into Message on non-production environments.
	Details    string `json:"-"`
	underlying error
}

func (e *EdgeError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.underlying)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *EdgeError) Unwrap() error {
	return e.underlying
}

// Status returns the HTTP status for the error's code.
func (e *EdgeError) Status() int {
	return e.Code.Status()
}

// WriteJSON writes the error envelope to the response.
func (e *EdgeError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	json.NewEncoder(w).Encode(struct {
		OK bool `json:"ok"`
		*EdgeError
	}{false, e})
}

// Common errors
var (
	ErrUnknownBrand = &EdgeError{
		Code:    CodeBadInput,
		Message: "unknown brand",
	}

	ErrRouteNotFound = &EdgeError{
		Code:    CodeNotFound,
		Message: "no page or action matches this path",
	}

	ErrInvalidAdminKey = &EdgeError{
		Code:    CodeBadInput,
		Message: "invalid admin credential",
	}

	ErrRateLimited = &EdgeError{
		Code:    CodeRateLimited,
		Message: "too many requests for this brand",
	}

	ErrInternal = &EdgeError{
		Code:    CodeInternal,
		Message: "internal error",
	}

	ErrBackendTimeout = &EdgeError{
		Code:    CodeInternal,
		Message: "backend timed out",
	}

	ErrBackendUnavailable = &EdgeError{
		Code:    CodeInternal,
		Message: "backend unavailable",
	}
)

// New creates a new EdgeError
func New(code Code, message string) *EdgeError {
	return &EdgeError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with a taxonomy code and client-safe message
func Wrap(err error, code Code, message string) *EdgeError {
	return &EdgeError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// BadInput is shorthand for a BAD_INPUT error.
func BadInput(format string, args ...any) *EdgeError {
	return New(CodeBadInput, fmt.Sprintf(format, args...))
}

// NotFound is shorthand for a NOT_FOUND error.
func NotFound(format string, args ...any) *EdgeError {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// FeatureDisabled names the feature that blocked the request.
func FeatureDisabled(feature string) *EdgeError {
	return New(CodeFeatureDisabled, fmt.Sprintf("feature %q is disabled for this brand", feature))
}

// Contract reports a backend payload that failed schema validation.
func Contract(action string, err error) *EdgeError {
	e := Wrap(err, CodeContract, fmt.Sprintf("backend response for %s violates its contract", action))
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// WithDetails adds debugging details to the error
func (e *EdgeError) WithDetails(details string) *EdgeError {
	return &EdgeError{
		Code:       e.Code,
		Message:    e.Message,
		CorrID:     e.CorrID,
		Details:    details,
		underlying: e.underlying,
	}
}

// WithCorrID adds a correlation ID to the error
func (e *EdgeError) WithCorrID(corrID string) *EdgeError {
	return &EdgeError{
		Code:       e.Code,
		Message:    e.Message,
		CorrID:     corrID,
		Details:    e.Details,
		underlying: e.underlying,
	}
}

// As finds the first EdgeError in err's chain.
func As(err error) (*EdgeError, bool) {
	var ee *EdgeError
	if stderrors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
