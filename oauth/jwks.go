package oauth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// JSONWebKey is one entry of a JWKS document.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// PublicKey decodes the key material. Unsupported key types return an error.
func (k JSONWebKey) PublicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N)
		if err != nil {
			return nil, fmt.Errorf("rsa n: %w", err)
		}
		e, err := b64Int(k.E)
		if err != nil {
			return nil, fmt.Errorf("rsa e: %w", err)
		}
		if !e.IsInt64() || e.Int64() > 1<<31-1 || e.Int64() < 3 {
			return nil, errors.New("rsa exponent out of range")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X)
		if err != nil {
			return nil, fmt.Errorf("ec x: %w", err)
		}
		y, err := b64Int(k.Y)
		if err != nil {
			return nil, fmt.Errorf("ec y: %w", err)
		}
		if !curve.IsOnCurve(x, y) {
			return nil, errors.New("ec point not on curve")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	case "OKP":
		if k.Crv != "Ed25519" {
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 key")
		}
		return ed25519.PublicKey(raw), nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func b64Int(s string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty")
	}
	return new(big.Int).SetBytes(raw), nil
}

type keySet struct {
	keys    []JSONWebKey
	fetched time.Time
}

// keyCache fetches JWKS documents and refetches once when a kid is unknown.
type keyCache struct {
	d *discovery

	mu   sync.Mutex
	sets map[string]keySet
}

func newKeyCache(d *discovery) *keyCache {
	return &keyCache{d: d, sets: map[string]keySet{}}
}

func (c *keyCache) fetch(ctx context.Context, url string) ([]JSONWebKey, error) {
	var doc struct {
		Keys []JSONWebKey `json:"keys"`
	}
	if err := getJSON(ctx, c.d.client, url, &doc); err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	c.mu.Lock()
	c.sets[url] = keySet{keys: doc.Keys, fetched: c.d.now()}
	c.mu.Unlock()
	return doc.Keys, nil
}

func (c *keyCache) key(ctx context.Context, url, kid string) (crypto.PublicKey, error) {
	c.mu.Lock()
	set, ok := c.sets[url]
	c.mu.Unlock()

	keys := set.keys
	fresh := false
	if !ok || c.d.now().Sub(set.fetched) >= c.d.ttl {
		var err error
		if keys, err = c.fetch(ctx, url); err != nil {
			return nil, err
		}
		fresh = true
	}
	if k, ok := pickKey(keys, kid); ok {
		return k.PublicKey()
	}
	if fresh {
		return nil, fmt.Errorf("no signing key for kid %q", kid)
	}
	keys, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if k, ok := pickKey(keys, kid); ok {
		return k.PublicKey()
	}
	return nil, fmt.Errorf("no signing key for kid %q", kid)
}

func pickKey(keys []JSONWebKey, kid string) (JSONWebKey, bool) {
	var candidates []JSONWebKey
	for _, k := range keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if kid == "" || k.Kid == kid {
			candidates = append(candidates, k)
		}
	}
	// Without a kid only an unambiguous set is usable.
	if len(candidates) == 1 || (kid != "" && len(candidates) > 0) {
		return candidates[0], true
	}
	return JSONWebKey{}, false
}
