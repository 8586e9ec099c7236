package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/accounts"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

var (
	// ErrUnknownProvider is returned when a request names a provider that is
	// not configured.
	ErrUnknownProvider = errors.New("flows: provider not configured")
	// ErrWrongProviderType is returned when a provider is used by an
	// operation its type does not support.
	ErrWrongProviderType = errors.New("flows: operation not supported by provider type")
	// ErrMissingIdentifier is returned when a request lacks the account
	// identifier it needs.
	ErrMissingIdentifier = errors.New("flows: missing account identifier")
)

// DefaultCodeTTL bounds codes issued by createVerificationCode without an
// explicit expiration time.
const DefaultCodeTTL = 15 * time.Minute

// DefaultOAuthCodeTTL bounds the one-time code minted by userOAuth.
const DefaultOAuthCodeTTL = 5 * time.Minute

// OAuthCodeLength is the length of the code minted by userOAuth.
const OAuthCodeLength = 32

// ProviderInfo is what the flows need to know about a configured provider.
type ProviderInfo struct {
	ID   string
	Type accounts.ProviderType
	// AllowDangerousEmailAccountLinking applies to oauth and oidc providers.
	AllowDangerousEmailAccountLinking *bool
}

// Deps is the immutable wiring shared by every flow.
type Deps struct {
	Sessions  *session.Manager
	Accounts  *accounts.Resolver
	Codes     *stores.CodeStore
	Verifiers *stores.VerifierStore
	Limiter   *rate.Limiter
	Hasher    password.Hasher

	Provider func(id string) (ProviderInfo, bool)
	// NewOAuthCode mints the code returned by userOAuth.
	NewOAuthCode func() (string, error)
	OAuthCodeTTL time.Duration
	CodeTTL      time.Duration

	ParseAccess  func(token string) (*jwt.AccessClaims, error)
	MaxClockSkew time.Duration

	Now  func() time.Time
	Warn func(msg string, keysAndValues ...any)
}

func (d Deps) warn(msg string, kv ...any) {
	if d.Warn != nil {
		d.Warn(msg, kv...)
	}
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) codeTTL() time.Duration {
	if d.CodeTTL > 0 {
		return d.CodeTTL
	}
	return DefaultCodeTTL
}

func (d Deps) oauthCodeTTL() time.Duration {
	if d.OAuthCodeTTL > 0 {
		return d.OAuthCodeTTL
	}
	return DefaultOAuthCodeTTL
}

func (d Deps) provider(id string, allowed ...accounts.ProviderType) (ProviderInfo, error) {
	if d.Provider == nil {
		return ProviderInfo{}, ErrUnknownProvider
	}
	info, ok := d.Provider(id)
	if !ok {
		return ProviderInfo{}, ErrUnknownProvider
	}
	if len(allowed) == 0 {
		return info, nil
	}
	for _, t := range allowed {
		if info.Type == t {
			return info, nil
		}
	}
	return ProviderInfo{}, ErrWrongProviderType
}

// sessionUser resolves the user behind the caller's current session, or "".
func (d Deps) sessionUser(ctx context.Context, tx store.Tx, sessionID string) (string, error) {
	sess, err := d.Sessions.ActiveSession(ctx, tx, sessionID)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.UserID, nil
}
