package session

// Tokens is a freshly minted access token and refresh token pair.
type Tokens struct {
	Token        string
	RefreshToken string
}

// RefreshFailureKind classifies why a refresh terminated its session.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureTokenNotFound
	RefreshFailureTokenExpired
	RefreshFailureSessionMismatch
	RefreshFailureSessionNotFound
	RefreshFailureSessionExpired
)

// String returns a stable label for logs and audit events.
func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureTokenNotFound:
		return "token_not_found"
	case RefreshFailureTokenExpired:
		return "token_expired"
	case RefreshFailureSessionMismatch:
		return "session_mismatch"
	case RefreshFailureSessionNotFound:
		return "session_not_found"
	case RefreshFailureSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the rotated token pair or the reason the
// session was terminated.
type RefreshResult struct {
	Failure   RefreshFailureKind
	UserID    string
	SessionID string
	Tokens    *Tokens
}
