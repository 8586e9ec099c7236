package oauth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	assertionTTL        = 5 * time.Minute
)

// exchangeConfig maps the provider's client authentication method onto an
// oauth2.Config plus extra token request parameters.
func (o *Orchestrator) exchangeConfig(p *Provider, e Endpoints) (*oauth2.Config, []oauth2.AuthCodeOption, error) {
	conf := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.Authorization,
			TokenURL:  e.Token,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	switch p.ClientAuth {
	case AuthClientSecretBasic, "":
		return conf, nil, nil
	case AuthClientSecretPost:
		conf.Endpoint.AuthStyle = oauth2.AuthStyleInParams
		return conf, nil, nil
	case AuthNone:
		conf.ClientSecret = ""
		conf.Endpoint.AuthStyle = oauth2.AuthStyleInParams
		return conf, nil, nil
	case AuthClientSecretJWT, AuthPrivateKeyJWT:
		assertion, err := o.clientAssertion(p, e.Token)
		if err != nil {
			return nil, nil, err
		}
		conf.ClientSecret = ""
		conf.Endpoint.AuthStyle = oauth2.AuthStyleInParams
		return conf, []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("client_assertion_type", clientAssertionType),
			oauth2.SetAuthURLParam("client_assertion", assertion),
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported token_endpoint_auth_method %q", ErrInvalidProvider, p.ClientAuth)
	}
}

func (o *Orchestrator) clientAssertion(p *Provider, audience string) (string, error) {
	now := o.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.ClientID,
		Subject:   p.ClientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}

	if p.ClientAuth == AuthClientSecretJWT {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.ClientSecret))
	}

	var method jwt.SigningMethod
	switch key := p.PrivateKey.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		switch key.Curve.Params().BitSize {
		case 256:
			method = jwt.SigningMethodES256
		case 384:
			method = jwt.SigningMethodES384
		case 521:
			method = jwt.SigningMethodES512
		default:
			return "", fmt.Errorf("%w: unsupported ecdsa curve", ErrInvalidProvider)
		}
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
	default:
		return "", fmt.Errorf("%w: unsupported private key type %T", ErrInvalidProvider, p.PrivateKey)
	}
	token := jwt.NewWithClaims(method, claims)
	if p.PrivateKeyID != "" {
		token.Header["kid"] = p.PrivateKeyID
	}
	return token.SignedString(p.PrivateKey)
}
