package flows

// FailureKind classifies expected flow failures for root-level mapping.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureInvalidAccountID
	FailureTooManyFailedAttempts
	FailureInvalidSecret
	FailureInvalidCode
	FailureExpiredCode
	FailureInvalidVerifier
	FailureAccountDeleted
	FailureProviderMismatch
	FailureRateLimited
	FailureInvalidRefreshToken
	FailureExpiredSession
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureInvalidAccountID:
		return "invalid_account_id"
	case FailureTooManyFailedAttempts:
		return "too_many_failed_attempts"
	case FailureInvalidSecret:
		return "invalid_secret"
	case FailureInvalidCode:
		return "invalid_code"
	case FailureExpiredCode:
		return "expired_code"
	case FailureInvalidVerifier:
		return "invalid_verifier"
	case FailureAccountDeleted:
		return "account_deleted"
	case FailureProviderMismatch:
		return "provider_mismatch"
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidRefreshToken:
		return "invalid_refresh_token"
	case FailureExpiredSession:
		return "expired_session"
	default:
		return "unknown"
	}
}
