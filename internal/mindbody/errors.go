package mindbody

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies upstream call failures.
type ErrorKind string

const (
	// ErrKindNetwork covers transport failures and timeouts.
	ErrKindNetwork ErrorKind = "network"
	// ErrKindUpstream covers 4xx/5xx responses from the API.
	ErrKindUpstream ErrorKind = "upstream"
	// ErrKindAuth covers failed token issuance or missing credentials.
	ErrKindAuth ErrorKind = "auth"
	// ErrKindEmptyResponse covers empty or unparseable bodies.
	ErrKindEmptyResponse ErrorKind = "empty_response"
	// ErrKindValidation covers local precondition failures; nothing was
	// sent upstream.
	ErrKindValidation ErrorKind = "validation"
)

// ErrNotFound marks a valid "absent" outcome, e.g. a client search with no
// match. Callers that check-then-create treat it as data, not failure.
var ErrNotFound = errors.New("mindbody: not found")

// APIError is the uniform error surfaced by the gateway and its callers.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("mindbody: %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("mindbody: %s error: %s", e.Kind, e.Message)
}

// NewValidationError reports a local precondition failure.
func NewValidationError(format string, args ...any) *APIError {
	return &APIError{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

// ErrorKindOf extracts the kind from an error chain, or "" if the error is
// not an APIError.
func ErrorKindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsAuthError reports whether err is an auth-kind APIError.
func IsAuthError(err error) bool {
	return ErrorKindOf(err) == ErrKindAuth
}

// IsUnauthorized reports whether err is an upstream 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
