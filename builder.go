package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/accounts"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

const tracerName = "github.com/MrEthical07/authcore"

// ProviderType is the kind of a non-OAuth provider.
type ProviderType string

const (
	ProviderCredentials ProviderType = "credentials"
	ProviderEmail       ProviderType = "email"
	ProviderPhone       ProviderType = "phone"
)

// Builder collects the engine's collaborators. It is meant to be configured
// once during initialization; Build may only be called once.
type Builder struct {
	config Config
	store  store.Store

	logger         *zap.Logger
	auditSink      AuditSink
	triggers       store.Triggers
	tracerProvider trace.TracerProvider
	httpClient     *http.Client
	now            func() time.Time

	providers      map[string]ProviderType
	providerOrder  []string
	oauthProviders []*oauth.Provider

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		providers: map[string]ProviderType{},
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the transactional document store. It is required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the diagnostics logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Config.Audit is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTriggers registers lifecycle hooks fired inside every dispatch
// transaction for mutations of the named tables.
func (b *Builder) WithTriggers(triggers store.Triggers) *Builder {
	b.triggers = triggers
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithHTTPClient sets the client used for OAuth discovery, token exchange
// and userinfo requests.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithClock overrides the time source of every component. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithProvider registers a credentials, email or phone provider under id.
func (b *Builder) WithProvider(id string, typ ProviderType) *Builder {
	if _, ok := b.providers[id]; !ok {
		b.providerOrder = append(b.providerOrder, id)
	}
	b.providers[id] = typ
	return b
}

// WithOAuthProviders registers OAuth and OIDC providers built with the
// oauth package.
func (b *Builder) WithOAuthProviders(providers ...*oauth.Provider) *Builder {
	b.oauthProviders = append(b.oauthProviders, providers...)
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the dispatch latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- PROVIDERS --------
	providers, err := b.buildProviders()
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	}, jwt.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	var issuer session.TokenIssuer
	if jm.CanSign() {
		issuer = jm
	}
	sessions := session.NewManager(session.Config{
		TotalDuration:    cfg.Session.TotalDuration,
		InactiveDuration: cfg.Session.InactiveDuration,
	}, issuer, session.WithClock(now))

	// -------- LIMITER / SECRETS --------
	limiter, err := rate.New(rate.Config{MaxAttemptsPerHour: cfg.RateLimit.MaxFailedAttemptsPerHour}, rate.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	argon, err := password.NewArgon2(password.Config{
		Memory:         cfg.Password.Memory,
		Time:           cfg.Password.Time,
		Parallelism:    cfg.Password.Parallelism,
		SaltLength:     cfg.Password.SaltLength,
		KeyLength:      cfg.Password.KeyLength,
		MaxSecretBytes: cfg.Password.MaxSecretBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	var hasher password.Hasher = argon
	if !cfg.Password.UpgradeOnLogin {
		hasher = fixedHasher{argon}
	}

	// -------- OAUTH --------
	checkOpts := []oauth.ChecksOption{
		oauth.WithCheckTTL(cfg.OAuth.CheckTTL),
		oauth.WithChecksClock(now),
	}
	if cfg.OAuth.InsecureCookies {
		checkOpts = append(checkOpts, oauth.WithInsecureCookies())
	}
	orchOpts := []oauth.OrchestratorOption{
		oauth.WithClock(now),
		oauth.WithMetadataTTL(cfg.OAuth.MetadataTTL),
		oauth.WithIDTokenLeeway(cfg.OAuth.IDTokenLeeway),
	}
	if b.httpClient != nil {
		orchOpts = append(orchOpts, oauth.WithHTTPClient(b.httpClient))
	}
	orchestrator := oauth.NewOrchestrator(oauth.NewChecks(checkOpts...), orchOpts...)

	e := &Engine{
		config:       cfg,
		store:        b.store,
		triggers:     b.triggers,
		providers:    providers,
		jwtManager:   jm,
		orchestrator: orchestrator,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
		now:     now,
	}

	sugar := logger.Sugar()
	e.flows = flows.New(flows.Deps{
		Sessions:  sessions,
		Accounts:  accounts.NewResolver(accounts.Config{RequireVerifiedCredential: cfg.Linking.RequireVerifiedCredential}, now),
		Codes:     stores.NewCodeStore(now),
		Verifiers: stores.NewVerifierStore(cfg.OAuth.VerifierMaxAge, now),
		Limiter:   limiter,
		Hasher:    hasher,
		Provider:  e.providerInfo,
		NewOAuthCode: func() (string, error) {
			return internal.RandomString(flows.OAuthCodeLength, internal.AlphanumericAlphabet)
		},
		OAuthCodeTTL: cfg.VerificationCode.OAuthCodeMaxAge,
		CodeTTL:      cfg.VerificationCode.MaxAge,
		ParseAccess:  jm.ParseAccess,
		MaxClockSkew: cfg.JWT.MaxClockSkew,
		Now:          now,
		Warn:         sugar.Warnw,
	})

	b.built = true
	logger.Debug("authcore engine built",
		zap.Int("providers", len(providers)),
		zap.Bool("can_sign", jm.CanSign()),
		zap.Bool("audit", cfg.Audit.Enabled),
	)
	return e, nil
}

func (b *Builder) buildProviders() (map[string]registeredProvider, error) {
	out := make(map[string]registeredProvider, len(b.providers)+len(b.oauthProviders))
	for _, id := range b.providerOrder {
		if id == "" {
			return nil, fmt.Errorf("%w: provider id must not be empty", ErrConfigInvalid)
		}
		var typ accounts.ProviderType
		switch b.providers[id] {
		case ProviderCredentials:
			typ = accounts.TypeCredentials
		case ProviderEmail:
			typ = accounts.TypeEmail
		case ProviderPhone:
			typ = accounts.TypePhone
		default:
			return nil, fmt.Errorf("%w: provider %q has unsupported type %q", ErrConfigInvalid, id, b.providers[id])
		}
		out[id] = registeredProvider{info: flows.ProviderInfo{ID: id, Type: typ}}
	}
	for _, p := range b.oauthProviders {
		if p == nil {
			continue
		}
		if _, dup := out[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %q", ErrConfigInvalid, p.ID)
		}
		typ := accounts.TypeOAuth
		if p.Type == oauth.TypeOIDC {
			typ = accounts.TypeOIDC
		}
		out[p.ID] = registeredProvider{
			info: flows.ProviderInfo{
				ID:                                p.ID,
				Type:                              typ,
				AllowDangerousEmailAccountLinking: p.AllowDangerousEmailAccountLinking,
			},
			oauth: p,
		}
	}
	return out, nil
}

// fixedHasher hides NeedsUpgrade so that verified secrets are never rehashed.
type fixedHasher struct {
	password.Hasher
}
