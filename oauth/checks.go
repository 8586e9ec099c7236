package oauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/MrEthical07/authcore/internal"
)

// DefaultCheckTTL bounds how long a pending authorization stays usable.
const DefaultCheckTTL = 15 * time.Minute

// Checks creates and consumes the single-use state, pkce and nonce cookies.
type Checks struct {
	ttl      time.Duration
	insecure bool
	now      func() time.Time
}

// ChecksOption configures Checks.
type ChecksOption func(*Checks)

// WithCheckTTL overrides DefaultCheckTTL.
func WithCheckTTL(ttl time.Duration) ChecksOption {
	return func(c *Checks) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithInsecureCookies drops the Secure attribute and the __Host- prefix for
// plain-http development servers.
func WithInsecureCookies() ChecksOption {
	return func(c *Checks) { c.insecure = true }
}

// WithChecksClock overrides the time source used for cookie expiry.
func WithChecksClock(now func() time.Time) ChecksOption {
	return func(c *Checks) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChecks creates a check store.
func NewChecks(opts ...ChecksOption) *Checks {
	c := &Checks{ttl: DefaultCheckTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CookieName is the cookie that carries check kind for providerID.
func (c *Checks) CookieName(kind Check, providerID string) string {
	name := providerID + "OAuth" + checkSuffix(kind)
	if c.insecure {
		return name
	}
	return "__Host-" + name
}

func checkSuffix(kind Check) string {
	switch kind {
	case CheckPKCE:
		return "PKCECodeVerifier"
	default:
		s := string(kind)
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

// Create generates a fresh value for kind and the cookie carrying it. For
// pkce the value is the code verifier.
func (c *Checks) Create(kind Check, providerID string) (string, *http.Cookie, error) {
	var value string
	switch kind {
	case CheckPKCE:
		value = oauth2.GenerateVerifier()
	case CheckState, CheckNonce:
		v, err := internal.NewOpaqueToken()
		if err != nil {
			return "", nil, fmt.Errorf("generate %s: %w", kind, err)
		}
		value = v
	default:
		return "", nil, fmt.Errorf("%w: unknown check %q", ErrInvalidProvider, kind)
	}
	cookie := c.cookie(kind, providerID)
	cookie.Value = value
	cookie.MaxAge = int(c.ttl / time.Second)
	cookie.Expires = c.now().Add(c.ttl)
	return value, cookie, nil
}

// Use reads the check value for kind from cookies. The returned cookie clears
// the check and is set whether or not the value was found.
func (c *Checks) Use(kind Check, providerID string, cookies []*http.Cookie) (string, *http.Cookie, error) {
	cleared := c.cookie(kind, providerID)
	cleared.MaxAge = -1
	cleared.Expires = time.Unix(0, 0)

	name := cleared.Name
	for _, ck := range cookies {
		if ck != nil && ck.Name == name && ck.Value != "" {
			return ck.Value, cleared, nil
		}
	}
	return "", cleared, fmt.Errorf("%w: %s", ErrCheckMissing, name)
}

func (c *Checks) cookie(kind Check, providerID string) *http.Cookie {
	return &http.Cookie{
		Name:        c.CookieName(kind, providerID),
		Path:        "/",
		HttpOnly:    true,
		Secure:      !c.insecure,
		SameSite:    c.sameSite(),
		Partitioned: !c.insecure,
	}
}

func (c *Checks) sameSite() http.SameSite {
	if c.insecure {
		return http.SameSiteLaxMode
	}
	return http.SameSiteNoneMode
}
