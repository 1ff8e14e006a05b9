package oauthkit

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an integration failure for route handlers.
type Kind string

const (
	KindNotConnected   Kind = "not_connected"
	KindAuthExpired    Kind = "auth_expired"
	KindProviderError  Kind = "provider_error"
	KindTransportError Kind = "transport_error"
)

// Machine-readable codes carried by Error.
const (
	CodeNotConnected            = "NOT_CONNECTED"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeAuthFailedAfterRefresh  = "AUTH_FAILED_AFTER_REFRESH"
	CodeReauthorizationRequired = "REAUTHORIZATION_REQUIRED"
	CodePermissionDenied        = "PERMISSION_DENIED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeAPIError                = "API_ERROR"
	CodeTransportError          = "TRANSPORT_ERROR"
)

var (
	// ErrNotConnected matches errors of KindNotConnected.
	ErrNotConnected = errors.New("integration.not_connected")
	// ErrAuthExpired matches errors of KindAuthExpired.
	ErrAuthExpired = errors.New("integration.auth_expired")
	// ErrProviderError matches errors of KindProviderError.
	ErrProviderError = errors.New("integration.provider_error")
	// ErrTransportError matches errors of KindTransportError.
	ErrTransportError = errors.New("integration.transport_error")
)

// Error is the tagged failure surfaced to route handlers.
type Error struct {
	Kind    Kind
	Code    string
	Service string
	Detail  string
	// Status is the upstream HTTP status, zero when none was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	message := fmt.Sprintf("%s.%s", e.Kind, e.Service)
	if e.Code != "" {
		message += " [" + e.Code + "]"
	}
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers can use errors.Is(err, ErrAuthExpired).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotConnected:
		return e.Kind == KindNotConnected
	case ErrAuthExpired:
		return e.Kind == KindAuthExpired
	case ErrProviderError:
		return e.Kind == KindProviderError
	case ErrTransportError:
		return e.Kind == KindTransportError
	default:
		return false
	}
}

func newNotConnected(serviceName string, cause error) *Error {
	return &Error{
		Kind:    KindNotConnected,
		Code:    CodeNotConnected,
		Service: serviceName,
		Detail:  "no credential on file; complete the OAuth consent flow",
		Err:     cause,
	}
}

func newAuthExpired(serviceName string, code string, detail string, cause error) *Error {
	return &Error{
		Kind:    KindAuthExpired,
		Code:    code,
		Service: serviceName,
		Detail:  detail,
		Status:  http.StatusUnauthorized,
		Err:     cause,
	}
}

// NewProviderError tags a non-authorization upstream failure.
func NewProviderError(serviceName string, status int, message string, cause error) *Error {
	code := CodeAPIError
	switch status {
	case http.StatusUnauthorized:
		code = CodeUnauthorized
	case http.StatusForbidden:
		code = CodePermissionDenied
	case http.StatusTooManyRequests:
		code = CodeRateLimited
	}
	return &Error{
		Kind:    KindProviderError,
		Code:    code,
		Service: serviceName,
		Detail:  message,
		Status:  status,
		Err:     cause,
	}
}

// NewCredentialRejected tags an upstream failure that rejected the access
// token itself even though the status was not 401.
func NewCredentialRejected(serviceName string, status int, message string, cause error) *Error {
	rejected := NewProviderError(serviceName, status, message, cause)
	rejected.Code = CodeUnauthorized
	return rejected
}

// NewTransportError tags a network-level failure reaching a provider API.
func NewTransportError(serviceName string, cause error) *Error {
	return &Error{
		Kind:    KindTransportError,
		Code:    CodeTransportError,
		Service: serviceName,
		Detail:  "upstream unreachable",
		Err:     cause,
	}
}

// AsError extracts the tagged Error from err, if any.
func AsError(err error) (*Error, bool) {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged, true
	}
	return nil, false
}

type statusCoder interface {
	StatusCode() int
}

// IsAuthorizationFailure reports whether err says the presented access token
// was rejected. Only these failures are worth a refresh.
func IsAuthorizationFailure(err error) bool {
	if err == nil {
		return false
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		// Engine outcomes (not connected, expired) are terminal for the request.
		return tagged.Kind == KindProviderError &&
			(tagged.Status == http.StatusUnauthorized || tagged.Code == CodeUnauthorized)
	}
	var coder statusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode() == http.StatusUnauthorized
	}
	return false
}
