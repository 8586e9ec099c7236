package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadProvidersYAML(t *testing.T) {
	doc := `
providers:
  - preset: github
    client_id: gh-client
    client_secret: ${GITHUB_SECRET}
    redirect_url: https://app.example.com/cb/github
  - id: corp
    type: oidc
    issuer: https://id.corp.example.com/
    client_id: corp-client
    client_secret: ${CORP_SECRET}
    token_endpoint_auth_method: client_secret_post
    checks: [state, nonce]
    allow_dangerous_email_account_linking: false
  - id: legacy
    client_id: legacy-client
    token_endpoint_auth_method: none
    authorization_url: https://legacy.example.com/authorize
    token_url: https://legacy.example.com/token
    userinfo_url: https://legacy.example.com/me
    authorization_params:
      prompt: login
`
	providers, err := LoadProvidersYAML(strings.NewReader(doc), envMap(map[string]string{
		"GITHUB_SECRET": "gh-secret",
		"CORP_SECRET":   "corp-secret",
	}))
	require.NoError(t, err)
	require.Len(t, providers, 3)

	gh := providers[0]
	require.Equal(t, "github", gh.ID)
	require.Equal(t, TypeOAuth2, gh.Type)
	require.Equal(t, "gh-secret", gh.ClientSecret)
	require.Equal(t, "https://api.github.com/user", gh.Endpoints.Userinfo)
	require.NotNil(t, gh.Profile)

	corp := providers[1]
	require.Equal(t, TypeOIDC, corp.Type)
	require.Equal(t, "https://id.corp.example.com", corp.Issuer)
	require.Equal(t, AuthClientSecretPost, corp.ClientAuth)
	require.True(t, corp.Requires(CheckNonce))
	require.False(t, corp.Requires(CheckPKCE))
	require.NotNil(t, corp.AllowDangerousEmailAccountLinking)
	require.False(t, *corp.AllowDangerousEmailAccountLinking)

	legacy := providers[2]
	require.Equal(t, AuthNone, legacy.ClientAuth)
	require.Equal(t, "login", legacy.AuthParams["prompt"])
}

func TestLoadProvidersYAMLUnsetEnv(t *testing.T) {
	doc := `
providers:
  - preset: google
    client_id: g
    client_secret: ${MISSING_SECRET}
`
	_, err := LoadProvidersYAML(strings.NewReader(doc), envMap(nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "MISSING_SECRET")
}

func TestLoadProvidersYAMLRejectsDuplicates(t *testing.T) {
	doc := `
providers:
  - preset: github
    client_id: a
    client_secret: b
  - preset: github
    client_id: c
    client_secret: d
`
	_, err := LoadProvidersYAML(strings.NewReader(doc), envMap(nil))
	require.ErrorIs(t, err, ErrInvalidProvider)
}

func TestLoadProvidersYAMLPrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	doc := `
providers:
  - id: signed
    type: oidc
    issuer: https://issuer.example.com
    client_id: signed-client
    private_key: ${SIGNING_KEY}
    private_key_id: key-1
`
	providers, err := LoadProvidersYAML(strings.NewReader(doc), envMap(map[string]string{"SIGNING_KEY": pemKey}))
	require.NoError(t, err)
	require.Equal(t, AuthPrivateKeyJWT, providers[0].ClientAuth)
	require.Equal(t, "key-1", providers[0].PrivateKeyID)
	_, ok := providers[0].PrivateKey.(*rsa.PrivateKey)
	require.True(t, ok)
}

func TestProviderBuildersValidate(t *testing.T) {
	_, err := NewOAuth2Provider("x", WithClient("id", "secret"))
	require.ErrorIs(t, err, ErrInvalidProvider)

	_, err = NewOIDCProvider("x", "", WithClient("id", "secret"))
	require.ErrorIs(t, err, ErrInvalidProvider)

	_, err = NewOIDCProvider("x", "https://issuer", WithClient("id", ""))
	require.ErrorIs(t, err, ErrInvalidProvider)

	_, err = NewOAuth2Provider("x",
		WithClient("id", "secret"),
		WithChecks(CheckNonce),
		WithEndpoints(Endpoints{Authorization: "a", Token: "t", Userinfo: "u"}),
	)
	require.ErrorIs(t, err, ErrInvalidProvider)

	p, err := NewOIDCProvider("x", "https://issuer", WithClient("id", ""), WithClientAuth(AuthNone))
	require.NoError(t, err)
	require.Equal(t, []string{"openid", "profile", "email"}, p.Scopes)
}

func TestDefaultProfileMapsCommonShapes(t *testing.T) {
	p, err := DefaultProfile(map[string]any{"id": float64(7), "avatar_url": "img", "email_verified": "true"}, nil)
	require.NoError(t, err)
	require.Equal(t, "7", p.ID)
	require.Equal(t, "img", p.Image)
	require.NotNil(t, p.EmailVerified)
	require.True(t, *p.EmailVerified)

	_, err = DefaultProfile(map[string]any{"name": "nobody"}, nil)
	require.ErrorIs(t, err, ErrProfile)
}
