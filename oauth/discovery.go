package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultMetadataTTL is how long discovered metadata and key sets are reused.
const DefaultMetadataTTL = time.Hour

const maxResponseBytes = 1 << 20

// Metadata is the subset of the OpenID provider configuration used here.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type metadataEntry struct {
	meta    Metadata
	fetched time.Time
}

// discovery caches provider metadata per issuer.
type discovery struct {
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]metadataEntry
}

func newDiscovery(client *http.Client, ttl time.Duration, now func() time.Time) *discovery {
	return &discovery{client: client, ttl: ttl, now: now, cache: map[string]metadataEntry{}}
}

func (d *discovery) metadata(ctx context.Context, issuer string) (Metadata, error) {
	d.mu.Lock()
	entry, ok := d.cache[issuer]
	d.mu.Unlock()
	if ok && d.now().Sub(entry.fetched) < d.ttl {
		return entry.meta, nil
	}

	var meta Metadata
	if err := getJSON(ctx, d.client, issuer+"/.well-known/openid-configuration", &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	if strings.TrimRight(meta.Issuer, "/") != issuer {
		return Metadata{}, fmt.Errorf("%w: issuer %q does not match %q", ErrDiscovery, meta.Issuer, issuer)
	}

	d.mu.Lock()
	d.cache[issuer] = metadataEntry{meta: meta, fetched: d.now()}
	d.mu.Unlock()
	return meta, nil
}

// resolve fills endpoints missing from the provider configuration.
func (d *discovery) resolve(ctx context.Context, p *Provider) (Endpoints, error) {
	e := p.Endpoints
	if p.Type != TypeOIDC {
		return e, nil
	}
	if e.Authorization != "" && e.Token != "" && e.JWKS != "" {
		return e, nil
	}
	meta, err := d.metadata(ctx, p.Issuer)
	if err != nil {
		return Endpoints{}, err
	}
	if e.Authorization == "" {
		e.Authorization = meta.AuthorizationEndpoint
	}
	if e.Token == "" {
		e.Token = meta.TokenEndpoint
	}
	if e.Userinfo == "" {
		e.Userinfo = meta.UserinfoEndpoint
	}
	if e.JWKS == "" {
		e.JWKS = meta.JWKSURI
	}
	return e, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}
