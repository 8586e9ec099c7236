package jwt

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectDivider separates the user id from the session id in the subject claim.
const SubjectDivider = "|"

// SigningMethod selects the asymmetric algorithm used for access tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodRS256 signs with RSASSA-PKCS1-v1_5 using SHA-256.
	MethodRS256 SigningMethod = "rs256"
)

var (
	// ErrMissingPrivateKey is returned by CreateAccess when the manager was built verify-only.
	ErrMissingPrivateKey = errors.New("jwt: private key not configured")
	// ErrMalformedSubject is returned when the subject claim does not carry a user and session id.
	ErrMalformedSubject = errors.New("jwt: malformed subject")
)

// Config describes the signing key and the claims every access token carries.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	// PrivateKey is PEM (PKCS#8 or PKCS#1 for RSA) or a raw 64-byte Ed25519 key.
	PrivateKey []byte
	// PublicKey is optional when PrivateKey is set; it is derived.
	PublicKey    []byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	KeyID        string
}

// Manager issues and verifies access tokens whose subject is
// "<userId>|<sessionId>".
type Manager struct {
	config  Config
	signKey crypto.Signer
	pubKey  crypto.PublicKey
	now     func() time.Time
}

// AccessClaims are the registered claims of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the user component of the subject.
func (c *AccessClaims) UserID() string {
	uid, _, _ := SplitSubject(c.Subject)
	return uid
}

// SessionID returns the session component of the subject.
func (c *AccessClaims) SessionID() string {
	_, sid, _ := SplitSubject(c.Subject)
	return sid
}

// Subject joins a user and session id into the subject claim form.
func Subject(userID, sessionID string) string {
	return userID + SubjectDivider + sessionID
}

// SplitSubject is the inverse of Subject.
func SplitSubject(sub string) (userID, sessionID string, err error) {
	userID, sessionID, ok := strings.Cut(sub, SubjectDivider)
	if !ok || userID == "" || sessionID == "" || strings.Contains(sessionID, SubjectDivider) {
		return "", "", ErrMalformedSubject
	}
	return userID, sessionID, nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for iat/exp.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager parses the configured keys. A manager built with only a public
// key can verify but not sign.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	switch cfg.SigningMethod {
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			key, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = key
			m.pubKey = key.Public()
		}
		if len(cfg.PublicKey) > 0 {
			key, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.pubKey = key
		}
	case MethodRS256:
		if len(cfg.PrivateKey) > 0 {
			key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
			if err != nil {
				return nil, errors.New("invalid rsa private key")
			}
			if key.N.BitLen() < 2048 {
				return nil, errors.New("rsa key must be at least 2048 bits")
			}
			m.signKey = key
			m.pubKey = &key.PublicKey
		}
		if len(cfg.PublicKey) > 0 {
			key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKey)
			if err != nil {
				return nil, errors.New("invalid rsa public key")
			}
			m.pubKey = key
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if m.pubKey == nil {
		return nil, fmt.Errorf("%s requires a private or public key", cfg.SigningMethod)
	}
	return m, nil
}

// CanSign reports whether a private key is configured.
func (j *Manager) CanSign() bool { return j.signKey != nil }

// TTL returns the configured access-token lifetime.
func (j *Manager) TTL() time.Duration { return j.config.AccessTTL }

// CreateAccess signs a token for the session, valid for AccessTTL.
func (j *Manager) CreateAccess(userID, sessionID string) (string, error) {
	if j.signKey == nil {
		return "", ErrMissingPrivateKey
	}
	if userID == "" || sessionID == "" {
		return "", ErrMalformedSubject
	}

	now := j.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   Subject(userID, sessionID),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.signKey)
}

// ParseAccess verifies signature, algorithm, expiry, issuer and audience, and
// requires a well-formed subject.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.pubKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}
	if _, _, err := SplitSubject(claims.Subject); err != nil {
		return nil, err
	}
	return claims, nil
}

// JWKS renders the verification key as a JSON Web Key Set so resource
// servers can validate access tokens without sharing configuration.
func (j *Manager) JWKS() ([]byte, error) {
	key := map[string]string{"use": "sig", "alg": j.getMethod().Alg()}
	if j.config.KeyID != "" {
		key["kid"] = j.config.KeyID
	}
	switch pub := j.pubKey.(type) {
	case ed25519.PublicKey:
		key["kty"] = "OKP"
		key["crv"] = "Ed25519"
		key["x"] = base64.RawURLEncoding.EncodeToString(pub)
	case *rsa.PublicKey:
		key["kty"] = "RSA"
		key["n"] = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		key["e"] = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	default:
		return nil, errors.New("unsupported public key type")
	}
	return json.Marshal(map[string]any{"keys": []any{key}})
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodRS256:
		return jwt.SigningMethodRS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
