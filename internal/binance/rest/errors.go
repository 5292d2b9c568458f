package rest

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialsMissing is returned before any network activity when a
	// private endpoint is called without an API key/secret configured.
	ErrCredentialsMissing = errors.New("api key/secret required for private endpoints")

	// ErrUnauthorized marks responses where credentials were present but
	// rejected by the exchange.
	ErrUnauthorized = errors.New("unauthorized by exchange")
)

// UpstreamError carries a non-2xx exchange response or a transport
// failure so callers can decide between retry and surfacing.
type UpstreamError struct {
	Status int
	Body   string
	Cause  error
}

func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Cause)
	}
	return fmt.Sprintf("upstream http %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	if e.Status == 401 || e.Status == 403 {
		return ErrUnauthorized
	}
	return e.Cause
}

// Transient reports whether a retry could plausibly succeed. Client
// errors other than timeout and rate-limit responses are permanent.
func (e *UpstreamError) Transient() bool {
	if e.Cause != nil {
		return true
	}
	if e.Status == 408 || e.Status == 429 {
		return true
	}
	return e.Status >= 500
}
