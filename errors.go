package authcore

import "errors"

var (
	// ErrProviderNotConfigured is returned when a request names a provider the engine does not know.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrProviderType is returned when a provider is used by an operation its type does not support.
	ErrProviderType = errors.New("operation not supported by provider type")
	// ErrSigningKeyMissing is returned when tokens are requested from an engine without a private key.
	ErrSigningKeyMissing = errors.New("access token signing key missing")
	// ErrMalformedID is returned for malformed identifiers such as a refresh token without a session part.
	ErrMalformedID = errors.New("malformed identifier")
	// ErrMissingIdentifier is returned when a request lacks the account identifier it needs.
	ErrMissingIdentifier = errors.New("missing account identifier")
	// ErrEngineNotReady is returned by methods on a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnknownRequest is returned by Dispatch for request types it does not route.
	ErrUnknownRequest = errors.New("unknown request type")
	// ErrStoreUnavailable wraps store failures surfaced by Dispatch.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConfigInvalid wraps every Config.Validate failure.
	ErrConfigInvalid = errors.New("invalid config")
	// ErrUnauthorized is returned by ValidateAccessToken for tokens that do not verify.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenClockSkew is returned by ValidateAccessToken for tokens issued in the future.
	ErrTokenClockSkew = errors.New("token issued in the future")
	// ErrSessionNotFound is returned by strict validation when the token's session is gone.
	ErrSessionNotFound = errors.New("session not found")
)

// FailureCode names an expected protocol failure. Failures are returned as
// data by Dispatch and never roll back the transaction that produced them.
type FailureCode string

const (
	// InvalidAccountID means no account exists for the provider and id.
	InvalidAccountID FailureCode = "InvalidAccountId"
	// TooManyFailedAttempts means the identifier's attempt budget is spent.
	TooManyFailedAttempts FailureCode = "TooManyFailedAttempts"
	// InvalidSecret means the account exists but the secret did not match.
	InvalidSecret FailureCode = "InvalidSecret"
	// InvalidCode means the verification code is unknown or not for this caller.
	InvalidCode FailureCode = "InvalidCode"
	// ExpiredCode means the verification code was found but had expired.
	ExpiredCode FailureCode = "ExpiredCode"
	// InvalidVerifier means the OAuth verifier is unknown or already used.
	InvalidVerifier FailureCode = "InvalidVerifier"
	// AccountDeleted means the account's user no longer exists.
	AccountDeleted FailureCode = "AccountDeleted"
	// ProviderMismatch means the account belongs to another provider type.
	ProviderMismatch FailureCode = "ProviderMismatch"
	// RateLimited means the request was refused by a limiter.
	RateLimited FailureCode = "RateLimited"
	// InvalidRefreshToken means the refresh token is unknown or malformed.
	InvalidRefreshToken FailureCode = "InvalidRefreshToken"
	// ExpiredSession means the session or refresh token has expired.
	ExpiredSession FailureCode = "ExpiredSession"
	// OAuthFailed means the OAuth callback could not be completed.
	OAuthFailed FailureCode = "OAuthFailed"
	// InternalError stands in for a flow failure with no public code.
	InternalError FailureCode = "InternalError"

	// InvalidCredentials is the public rendering of account-existence failures.
	InvalidCredentials FailureCode = "InvalidCredentials"
)

// Sentinels matched by a *Failure of the same code through errors.Is.
var (
	ErrInvalidAccountID      = errors.New("invalid account id")
	ErrTooManyFailedAttempts = errors.New("too many failed attempts")
	ErrInvalidSecret         = errors.New("invalid secret")
	ErrInvalidCode           = errors.New("invalid code")
	ErrExpiredCode           = errors.New("expired code")
	ErrInvalidVerifier       = errors.New("invalid verifier")
	ErrAccountDeleted        = errors.New("account deleted")
	ErrProviderMismatch      = errors.New("provider mismatch")
	ErrRateLimited           = errors.New("rate limited")
	ErrInvalidRefreshToken   = errors.New("invalid refresh token")
	ErrExpiredSession        = errors.New("expired session")
	ErrOAuthFailed           = errors.New("oauth failed")
	ErrInternal              = errors.New("internal error")
)

var failureSentinels = map[FailureCode]error{
	InvalidAccountID:      ErrInvalidAccountID,
	TooManyFailedAttempts: ErrTooManyFailedAttempts,
	InvalidSecret:         ErrInvalidSecret,
	InvalidCode:           ErrInvalidCode,
	ExpiredCode:           ErrExpiredCode,
	InvalidVerifier:       ErrInvalidVerifier,
	AccountDeleted:        ErrAccountDeleted,
	ProviderMismatch:      ErrProviderMismatch,
	RateLimited:           ErrRateLimited,
	InvalidRefreshToken:   ErrInvalidRefreshToken,
	ExpiredSession:        ErrExpiredSession,
	OAuthFailed:           ErrOAuthFailed,
	InternalError:         ErrInternal,
}

// Failure is an expected protocol failure. It is a [Result] when returned by
// [Engine.Dispatch] and an error when returned by the typed helpers.
//
// OAuth failures carry the provider's raw error fields.
type Failure struct {
	Code       FailureCode
	ProviderID string
	Detail     string

	OAuthError       string
	OAuthDescription string
	OAuthURI         string

	Err error
}

func (*Failure) isResult() {}

func (f *Failure) Error() string {
	msg := string(f.Code)
	if f.ProviderID != "" {
		msg += " (" + f.ProviderID + ")"
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches the sentinel of the failure's code, so that
// errors.Is(err, ErrInvalidSecret) holds for a Failure{Code: InvalidSecret}.
func (f *Failure) Is(target error) bool {
	if sentinel, ok := failureSentinels[f.Code]; ok && sentinel == target {
		return true
	}
	if other, ok := target.(*Failure); ok {
		return other.Code == f.Code
	}
	return false
}

// PublicCode collapses failures that would reveal whether an account exists.
func PublicCode(code FailureCode) FailureCode {
	switch code {
	case InvalidAccountID, AccountDeleted, InvalidSecret:
		return InvalidCredentials
	default:
		return code
	}
}

// AsFailure extracts a *Failure from a Dispatch result or from an error chain.
func AsFailure(v any) (*Failure, bool) {
	switch x := v.(type) {
	case *Failure:
		return x, x != nil
	case error:
		var f *Failure
		if errors.As(x, &f) {
			return f, true
		}
	}
	return nil, false
}

func newFailure(code FailureCode, providerID string) *Failure {
	return &Failure{Code: code, ProviderID: providerID}
}
