package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/genai"
)

// ErrEmptyAddress is returned when an analysis is requested without an address.
var ErrEmptyAddress = errors.New("address is required")

// ProviderErrorKind labels a provider failure for logs and the audit trail.
// Callers must not branch on it: every kind is surfaced to users the same way.
type ProviderErrorKind string

const (
	ProviderErrorNetwork           ProviderErrorKind = "network"
	ProviderErrorAuth              ProviderErrorKind = "auth"
	ProviderErrorProvider          ProviderErrorKind = "provider"
	ProviderErrorCanceled          ProviderErrorKind = "canceled"
	ProviderErrorMalformedResponse ProviderErrorKind = "malformed_response"
)

// ProviderError is any failure of the external analysis call.
type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(err error) *ProviderError {
	return &ProviderError{Kind: classifyProviderError(err), Err: err}
}

func classifyProviderError(err error) ProviderErrorKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ProviderErrorCanceled
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return ProviderErrorAuth
		}
		return ProviderErrorProvider
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ProviderErrorNetwork
	}

	return ProviderErrorProvider
}
