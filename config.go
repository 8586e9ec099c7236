package authcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config defines the engine's tunables. It is resolved once at startup and
// threaded into every component by [Builder.Build].
type Config struct {
	JWT              JWTConfig
	Session          SessionConfig
	RateLimit        RateLimitConfig
	VerificationCode VerificationCodeConfig
	Linking          LinkingConfig
	OAuth            OAuthConfig
	Password         PasswordConfig
	Audit            AuditConfig
	Metrics          MetricsConfig
	ValidationMode   ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "rs256"
	// PrivateKey is PEM or a raw Ed25519 key. Without it the engine can only
	// verify tokens and every token-issuing request fails with ErrSigningKeyMissing.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	KeyID      string
	Leeway     time.Duration
	// MaxClockSkew rejects tokens whose iat lies further in the future.
	MaxClockSkew time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds session and refresh-token lifetimes.
type SessionConfig struct {
	TotalDuration time.Duration
	// InactiveDuration is the lifetime of each refresh token.
	InactiveDuration time.Duration
}

// RateLimitConfig configures the failed-attempt budget.
type RateLimitConfig struct {
	MaxFailedAttemptsPerHour int
}

// VerificationCodeConfig configures one-time codes.
type VerificationCodeConfig struct {
	// MaxAge is used when createVerificationCode gets no expiration time.
	MaxAge time.Duration
	// OAuthCodeMaxAge bounds codes minted after an OAuth callback.
	OAuthCodeMaxAge time.Duration
	// Digits is the length of codes generated by NewVerificationCode.
	Digits int
}

// LinkingConfig is the account-linking policy.
type LinkingConfig struct {
	// RequireVerifiedCredential stops ShouldLinkViaEmail/Phone from linking an
	// identity whose own email or phone is not verified.
	RequireVerifiedCredential bool
}

// OAuthConfig configures check cookies and the callback orchestrator.
type OAuthConfig struct {
	CheckTTL       time.Duration
	VerifierMaxAge time.Duration
	MetadataTTL    time.Duration
	IDTokenLeeway  time.Duration
	// InsecureCookies drops the Secure attribute for plain-http development.
	InsecureCookies bool
	SiteURL         string
}

// PasswordConfig holds Argon2id parameters for credential secrets.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MaxSecretBytes int
	UpgradeOnLogin bool
}

// AuditConfig configures asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ValidationMode selects how [Engine.ValidateAccessToken] checks tokens.
type ValidationMode int

const (
	// ModeJWTOnly trusts the signature and expiry of the access token.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict additionally requires the token's session to be active.
	ModeStrict
)

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. The signing key must still
// be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "ed25519",
			Leeway:        5 * time.Second,
			MaxClockSkew:  30 * time.Second,
		},
		Session: SessionConfig{
			TotalDuration:    30 * 24 * time.Hour,
			InactiveDuration: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			MaxFailedAttemptsPerHour: 10,
		},
		VerificationCode: VerificationCodeConfig{
			MaxAge:          15 * time.Minute,
			OAuthCodeMaxAge: 5 * time.Minute,
			Digits:          8,
		},
		OAuth: OAuthConfig{
			CheckTTL:       15 * time.Minute,
			VerifierMaxAge: 15 * time.Minute,
			MetadataTTL:    time.Hour,
			IDTokenLeeway:  time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MaxSecretBytes: 1024,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		ValidationMode: ModeStrict,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c, wrapped in ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "rs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
		return errors.New("JWT requires PrivateKey or PublicKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.MaxClockSkew < 0 {
		return errors.New("JWT Leeway and MaxClockSkew must be >= 0")
	}

	// Session
	if c.Session.TotalDuration <= 0 {
		return errors.New("Session TotalDuration must be > 0")
	}
	if c.Session.InactiveDuration <= 0 {
		return errors.New("Session InactiveDuration must be > 0")
	}

	if c.RateLimit.MaxFailedAttemptsPerHour <= 0 {
		return errors.New("RateLimit MaxFailedAttemptsPerHour must be > 0")
	}

	// Codes
	if c.VerificationCode.MaxAge <= 0 {
		return errors.New("VerificationCode MaxAge must be > 0")
	}
	if c.VerificationCode.OAuthCodeMaxAge <= 0 {
		return errors.New("VerificationCode OAuthCodeMaxAge must be > 0")
	}
	if c.VerificationCode.Digits < 6 || c.VerificationCode.Digits > 12 {
		return errors.New("VerificationCode Digits must be between 6 and 12")
	}

	// OAuth
	if c.OAuth.CheckTTL <= 0 || c.OAuth.VerifierMaxAge <= 0 {
		return errors.New("OAuth CheckTTL and VerifierMaxAge must be > 0")
	}
	if c.OAuth.MetadataTTL < 0 || c.OAuth.IDTokenLeeway < 0 {
		return errors.New("OAuth MetadataTTL and IDTokenLeeway must be >= 0")
	}
	if c.OAuth.SiteURL != "" && !strings.HasPrefix(c.OAuth.SiteURL, "http://") && !strings.HasPrefix(c.OAuth.SiteURL, "https://") {
		return errors.New("OAuth SiteURL must be an http(s) URL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.ValidationMode != ModeJWTOnly && c.ValidationMode != ModeStrict {
		return errors.New("ValidationMode is invalid")
	}
	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

type configEnv struct {
	PrivateKey       string        `env:"AUTH_JWT_PRIVATE_KEY"`
	PublicKey        string        `env:"AUTH_JWT_PUBLIC_KEY"`
	SigningMethod    string        `env:"AUTH_JWT_SIGNING_METHOD"        envDefault:"ed25519"`
	Issuer           string        `env:"AUTH_JWT_ISSUER"`
	Audience         string        `env:"AUTH_JWT_AUDIENCE"`
	KeyID            string        `env:"AUTH_JWT_KEY_ID"`
	AccessTTL        time.Duration `env:"AUTH_ACCESS_TOKEN_TTL"          envDefault:"1h"`
	SessionTotal     time.Duration `env:"AUTH_SESSION_TOTAL_DURATION"    envDefault:"720h"`
	SessionInactive  time.Duration `env:"AUTH_SESSION_INACTIVE_DURATION" envDefault:"720h"`
	MaxFailed        int           `env:"AUTH_MAX_FAILED_ATTEMPTS"       envDefault:"10"`
	CodeMaxAge       time.Duration `env:"AUTH_CODE_MAX_AGE"              envDefault:"15m"`
	SiteURL          string        `env:"AUTH_SITE_URL"`
	InsecureCookies  bool          `env:"AUTH_INSECURE_COOKIES"`
	RequireVerified  bool          `env:"AUTH_LINK_REQUIRE_VERIFIED"`
	AuditEnabled     bool          `env:"AUTH_AUDIT_ENABLED"`
	MetricsEnabled   bool          `env:"AUTH_METRICS_ENABLED"`
	StrictValidation bool          `env:"AUTH_STRICT_VALIDATION"         envDefault:"true"`
}

// LoadConfigFromEnv overlays the AUTH_* environment variables on
// DefaultConfig. Keys may be PEM text or base64 of the raw key bytes.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = decodeKey(raw.PrivateKey)
	cfg.JWT.PublicKey = decodeKey(raw.PublicKey)
	cfg.JWT.SigningMethod = strings.ToLower(raw.SigningMethod)
	cfg.JWT.Issuer = raw.Issuer
	cfg.JWT.Audience = raw.Audience
	cfg.JWT.KeyID = raw.KeyID
	cfg.JWT.AccessTTL = raw.AccessTTL
	cfg.Session.TotalDuration = raw.SessionTotal
	cfg.Session.InactiveDuration = raw.SessionInactive
	cfg.RateLimit.MaxFailedAttemptsPerHour = raw.MaxFailed
	cfg.VerificationCode.MaxAge = raw.CodeMaxAge
	cfg.OAuth.SiteURL = strings.TrimRight(raw.SiteURL, "/")
	cfg.OAuth.InsecureCookies = raw.InsecureCookies
	cfg.Linking.RequireVerifiedCredential = raw.RequireVerified
	cfg.Audit.Enabled = raw.AuditEnabled
	cfg.Metrics.Enabled = raw.MetricsEnabled
	if !raw.StrictValidation {
		cfg.ValidationMode = ModeJWTOnly
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = cfg.OAuth.SiteURL
	}
	return cfg, nil
}

func decodeKey(v string) []byte {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		// Env files often carry PEM with escaped newlines.
		return []byte(strings.ReplaceAll(v, `\n`, "\n"))
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b
	}
	return []byte(v)
}
