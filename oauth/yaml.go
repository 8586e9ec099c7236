package oauth

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// providerFile is the YAML shape accepted by LoadProvidersYAML.
type providerFile struct {
	Providers []providerEntry `yaml:"providers"`
}

type providerEntry struct {
	ID                      string            `yaml:"id"`
	Type                    string            `yaml:"type"`
	Preset                  string            `yaml:"preset"`
	Issuer                  string            `yaml:"issuer"`
	ClientID                string            `yaml:"client_id"`
	ClientSecret            string            `yaml:"client_secret"`
	RedirectURL             string            `yaml:"redirect_url"`
	Scopes                  []string          `yaml:"scopes"`
	Checks                  []string          `yaml:"checks"`
	AuthorizationURL        string            `yaml:"authorization_url"`
	TokenURL                string            `yaml:"token_url"`
	UserinfoURL             string            `yaml:"userinfo_url"`
	JWKSURL                 string            `yaml:"jwks_url"`
	TokenEndpointAuthMethod string            `yaml:"token_endpoint_auth_method"`
	PrivateKey              string            `yaml:"private_key"`
	PrivateKeyID            string            `yaml:"private_key_id"`
	AuthorizationParams     map[string]string `yaml:"authorization_params"`
	DangerousEmailLinking   *bool             `yaml:"allow_dangerous_email_account_linking"`
}

// LoadProvidersYAML builds providers from a YAML document. String values
// may reference environment variables as ${NAME}; lookup resolves them and
// defaults to os.LookupEnv. An unset variable is an error.
func LoadProvidersYAML(r io.Reader, lookup func(string) (string, bool)) ([]*Provider, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var file providerFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode providers: %w", err)
	}

	out := make([]*Provider, 0, len(file.Providers))
	seen := map[string]struct{}{}
	for i, entry := range file.Providers {
		if err := expandEntry(&entry, lookup); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		p, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate provider id %q", ErrInvalidProvider, p.ID)
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func expandEntry(e *providerEntry, lookup func(string) (string, bool)) error {
	var missing []string
	expand := func(s string) string {
		return os.Expand(s, func(name string) string {
			v, ok := lookup(name)
			if !ok {
				missing = append(missing, name)
			}
			return v
		})
	}
	for _, f := range []*string{
		&e.ID, &e.Issuer, &e.ClientID, &e.ClientSecret, &e.RedirectURL,
		&e.AuthorizationURL, &e.TokenURL, &e.UserinfoURL, &e.JWKSURL,
		&e.PrivateKey, &e.PrivateKeyID,
	} {
		*f = expand(*f)
	}
	for k, v := range e.AuthorizationParams {
		e.AuthorizationParams[k] = expand(v)
	}
	if len(missing) > 0 {
		return fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (e providerEntry) build() (*Provider, error) {
	var opts []ProviderOption
	if len(e.Scopes) > 0 {
		opts = append(opts, WithScopes(e.Scopes...))
	}
	if len(e.Checks) > 0 {
		checks := make([]Check, 0, len(e.Checks))
		for _, c := range e.Checks {
			checks = append(checks, Check(c))
		}
		opts = append(opts, WithChecks(checks...))
	}
	if e.RedirectURL != "" {
		opts = append(opts, WithRedirectURL(e.RedirectURL))
	}
	opts = append(opts, WithEndpoints(Endpoints{
		Authorization: e.AuthorizationURL,
		Token:         e.TokenURL,
		Userinfo:      e.UserinfoURL,
		JWKS:          e.JWKSURL,
	}))
	if e.PrivateKey != "" {
		key, err := parsePrivateKey([]byte(e.PrivateKey))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPrivateKey(key, e.PrivateKeyID))
	}
	if e.TokenEndpointAuthMethod != "" {
		opts = append(opts, WithClientAuth(ClientAuthMethod(e.TokenEndpointAuthMethod)))
	}
	for k, v := range e.AuthorizationParams {
		opts = append(opts, WithAuthorizationParam(k, v))
	}
	if e.DangerousEmailLinking != nil {
		opts = append(opts, WithDangerousEmailLinking(*e.DangerousEmailLinking))
	}

	switch strings.ToLower(e.Preset) {
	case "github":
		p, err := GitHub(e.ClientID, e.ClientSecret, opts...)
		return withID(p, e.ID, err)
	case "google":
		p, err := Google(e.ClientID, e.ClientSecret, opts...)
		return withID(p, e.ID, err)
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidProvider, e.Preset)
	}

	opts = append([]ProviderOption{WithClient(e.ClientID, e.ClientSecret)}, opts...)
	switch Type(strings.ToLower(e.Type)) {
	case TypeOIDC:
		return NewOIDCProvider(e.ID, e.Issuer, opts...)
	case TypeOAuth2, "":
		return NewOAuth2Provider(e.ID, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", ErrInvalidProvider, e.Type)
	}
}

func withID(p *Provider, id string, err error) (*Provider, error) {
	if err != nil {
		return nil, err
	}
	if id != "" {
		p.ID = id
	}
	return p, nil
}

func parsePrivateKey(pemBytes []byte) (crypto.Signer, error) {
	if key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPrivateKeyFromPEM(pemBytes); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported private key", ErrInvalidProvider)
}
