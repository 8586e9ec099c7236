package oauth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	// ErrCheckMissing is returned by Checks.Use when the check cookie is absent.
	ErrCheckMissing = errors.New("oauth: check cookie missing")
	// ErrStateMismatch is returned when the callback state differs from the cookie.
	ErrStateMismatch = errors.New("oauth: state mismatch")
	// ErrNonceMismatch is returned when the ID token nonce differs from the cookie.
	ErrNonceMismatch = errors.New("oauth: nonce mismatch")
	// ErrMissingCode is returned when the callback carries no authorization code.
	ErrMissingCode = errors.New("oauth: authorization code missing")
	// ErrMissingEndpoint is returned when a required endpoint is neither configured nor discovered.
	ErrMissingEndpoint = errors.New("oauth: endpoint not configured")
	// ErrDiscovery is returned when OIDC discovery fails.
	ErrDiscovery = errors.New("oauth: discovery failed")
	// ErrInvalidIDToken is returned when the ID token does not validate.
	ErrInvalidIDToken = errors.New("oauth: invalid id token")
	// ErrProfile is returned when no usable profile could be obtained.
	ErrProfile = errors.New("oauth: profile unavailable")
	// ErrInvalidProvider is returned by the provider builders for inconsistent configuration.
	ErrInvalidProvider = errors.New("oauth: invalid provider configuration")
)

// Error is a provider-side failure with the raw protocol fields attached.
type Error struct {
	ProviderID  string
	Code        string
	Description string
	URI         string
	Err         error
}

func (e *Error) Error() string {
	msg := "oauth " + e.ProviderID
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(providerID, code string, err error) *Error {
	return &Error{ProviderID: providerID, Code: code, Err: err}
}

// wrapExchangeError lifts the token endpoint's error response fields.
func wrapExchangeError(providerID string, err error) *Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		out := &Error{
			ProviderID:  providerID,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			URI:         re.ErrorURI,
			Err:         err,
		}
		if out.Code == "" && re.Response != nil {
			out.Code = fmt.Sprintf("http_%d", re.Response.StatusCode)
		}
		return out
	}
	return newError(providerID, "token_exchange_failed", err)
}
