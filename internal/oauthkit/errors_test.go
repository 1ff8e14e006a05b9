package oauthkit

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type statusError struct {
	status int
}

func (err statusError) Error() string {
	return fmt.Sprintf("status %d", err.status)
}

func (err statusError) StatusCode() int {
	return err.status
}

func TestNewProviderErrorCodes(t *testing.T) {
	testCases := []struct {
		status int
		code   string
	}{
		{status: http.StatusUnauthorized, code: CodeUnauthorized},
		{status: http.StatusForbidden, code: CodePermissionDenied},
		{status: http.StatusTooManyRequests, code: CodeRateLimited},
		{status: http.StatusBadGateway, code: CodeAPIError},
		{status: 0, code: CodeAPIError},
	}
	for _, testCase := range testCases {
		providerErr := NewProviderError(ServiceAnalytics, testCase.status, "failure", nil)
		if providerErr.Code != testCase.code {
			t.Fatalf("status %d: expected code %s, got %s", testCase.status, testCase.code, providerErr.Code)
		}
		if !errors.Is(providerErr, ErrProviderError) {
			t.Fatalf("status %d: expected ErrProviderError match", testCase.status)
		}
	}
}

func TestIsAuthorizationFailure(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "provider 401", err: NewProviderError(ServiceGmail, http.StatusUnauthorized, "", nil), want: true},
		{name: "credential rejected", err: NewCredentialRejected(ServiceGmail, http.StatusForbidden, "", nil), want: true},
		{name: "wrapped provider 401", err: fmt.Errorf("gmail.list: %w", NewProviderError(ServiceGmail, http.StatusUnauthorized, "", nil)), want: true},
		{name: "provider 403", err: NewProviderError(ServiceGmail, http.StatusForbidden, "", nil), want: false},
		{name: "auth expired", err: newAuthExpired(ServiceGmail, CodeAuthFailedAfterRefresh, "", nil), want: false},
		{name: "not connected", err: newNotConnected(ServiceGmail, nil), want: false},
		{name: "transport", err: NewTransportError(ServiceGmail, errors.New("reset")), want: false},
		{name: "status coder 401", err: statusError{status: http.StatusUnauthorized}, want: true},
		{name: "status coder 500", err: statusError{status: http.StatusInternalServerError}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := IsAuthorizationFailure(testCase.err); got != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func TestErrorMatchesKindSentinels(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("handler: %w", NewTransportError(ServiceSearchConsole, cause))
	if !errors.Is(wrapped, ErrTransportError) {
		t.Fatalf("expected ErrTransportError match")
	}
	if errors.Is(wrapped, ErrProviderError) {
		t.Fatalf("did not expect ErrProviderError match")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	tagged, ok := AsError(wrapped)
	if !ok || tagged.Service != ServiceSearchConsole {
		t.Fatalf("expected tagged error, got %v", wrapped)
	}
}

func TestKnownService(t *testing.T) {
	for _, serviceName := range []string{ServiceGmail, ServiceSearchConsole, ServiceAnalytics} {
		if !KnownService(serviceName) {
			t.Fatalf("expected %s to be known", serviceName)
		}
	}
	if KnownService("google-drive") {
		t.Fatalf("expected unknown service to be rejected")
	}
}
