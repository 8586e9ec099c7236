package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with key",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "no keys",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = nil
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "rs256 accepted",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: true,
		},
		{
			name: "hs256 rejected",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
			},
			wantValid: false,
		},
		{
			name: "negative clock skew",
			mutate: func(c *Config) {
				c.JWT.MaxClockSkew = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero session duration",
			mutate: func(c *Config) {
				c.Session.TotalDuration = 0
			},
			wantValid: false,
		},
		{
			name: "zero rate limit",
			mutate: func(c *Config) {
				c.RateLimit.MaxFailedAttemptsPerHour = 0
			},
			wantValid: false,
		},
		{
			name: "code digits too short",
			mutate: func(c *Config) {
				c.VerificationCode.Digits = 4
			},
			wantValid: false,
		},
		{
			name: "code digits max",
			mutate: func(c *Config) {
				c.VerificationCode.Digits = 12
			},
			wantValid: true,
		},
		{
			name: "site url without scheme",
			mutate: func(c *Config) {
				c.OAuth.SiteURL = "app.example.com"
			},
			wantValid: false,
		},
		{
			name: "weak argon memory",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "unknown validation mode",
			mutate: func(c *Config) {
				c.ValidationMode = ValidationMode(7)
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.JWT.PrivateKey = []byte("placeholder")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected invalid config")
				}
				if !errors.Is(err, ErrConfigInvalid) {
					t.Fatalf("expected ErrConfigInvalid, got %v", err)
				}
			}
		})
	}
}

func TestConfigCloneDoesNotAlias(t *testing.T) {
	key := []byte("secret-key")
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = key

	out := cloneConfig(cfg)
	key[0] = 'X'
	if out.JWT.PrivateKey[0] != 's' {
		t.Fatal("cloned config must not share key bytes")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("AUTH_JWT_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))
	t.Setenv("AUTH_SITE_URL", "https://app.example.com/")
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("AUTH_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("AUTH_STRICT_VALIDATION", "false")
	t.Setenv("AUTH_AUDIT_ENABLED", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if len(cfg.JWT.PrivateKey) != ed25519.PrivateKeySize {
		t.Fatalf("expected decoded private key, got %d bytes", len(cfg.JWT.PrivateKey))
	}
	if cfg.OAuth.SiteURL != "https://app.example.com" {
		t.Fatalf("expected trimmed site url, got %q", cfg.OAuth.SiteURL)
	}
	if cfg.JWT.Issuer != cfg.OAuth.SiteURL {
		t.Fatalf("expected issuer to default to site url, got %q", cfg.JWT.Issuer)
	}
	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", cfg.JWT.AccessTTL)
	}
	if cfg.RateLimit.MaxFailedAttemptsPerHour != 3 {
		t.Fatalf("unexpected rate limit %d", cfg.RateLimit.MaxFailedAttemptsPerHour)
	}
	if cfg.ValidationMode != ModeJWTOnly {
		t.Fatal("expected jwt-only validation")
	}
	if !cfg.Audit.Enabled {
		t.Fatal("expected audit enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env config should validate: %v", err)
	}
}

func TestLoadConfigFromEnvPEMEscapes(t *testing.T) {
	t.Setenv("AUTH_JWT_PUBLIC_KEY", `-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----`)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	want := "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----"
	if string(cfg.JWT.PublicKey) != want {
		t.Fatalf("expected unescaped PEM, got %q", cfg.JWT.PublicKey)
	}
}

func TestLoadConfigFromEnvBadDuration(t *testing.T) {
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "soon")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}
