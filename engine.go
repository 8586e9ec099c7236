package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Engine runs authentication operations against a transactional store.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
// All coordination between concurrent calls happens in the store.
type Engine struct {
	config       Config
	store        store.Store
	triggers     store.Triggers
	providers    map[string]registeredProvider
	flows        flows.Service
	jwtManager   *jwt.Manager
	orchestrator *oauth.Orchestrator
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

type registeredProvider struct {
	info  flows.ProviderInfo
	oauth *oauth.Provider
}

func (e *Engine) providerInfo(id string) (flows.ProviderInfo, bool) {
	p, ok := e.providers[id]
	return p.info, ok
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped is the number of audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// JWKS returns the public signing key as a JSON Web Key Set.
func (e *Engine) JWKS() ([]byte, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	return e.jwtManager.JWKS()
}

// NewVerificationCode returns a random numeric code of the configured length
// for use with [CreateVerificationCodeRequest].
func (e *Engine) NewVerificationCode() (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return internal.NewDigitCode(e.config.VerificationCode.Digits)
}

// Dispatch executes exactly one operation inside one store transaction.
//
// Expected protocol failures are returned as a *Failure result with a nil
// error, and the transaction commits whatever bookkeeping the failure
// required (rate-limit state, terminated sessions, consumed codes). A
// non-nil error means nothing was committed.
//
// Requests are passed by value.
func (e *Engine) Dispatch(ctx context.Context, req Request) (Result, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	if req == nil {
		return nil, ErrUnknownRequest
	}
	name := req.requestName()

	ctx, span := e.tracer.Start(ctx, "authcore.dispatch",
		trace.WithAttributes(attribute.String("authcore.request", name)))
	defer span.End()
	start := time.Now()

	var (
		res Result
		out outcome
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if len(e.triggers) > 0 {
			tx = store.WithTriggers(tx, e.triggers)
		}
		var err error
		res, out, err = e.route(ctx, tx, req)
		return err
	})
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricDispatchLatency, time.Since(start))
	}

	if err != nil {
		err = structuralError(name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		e.metricInc(MetricDispatchError)
		e.logger.Error("authcore: dispatch failed", zap.String("request", name), zap.Error(err))
		return nil, err
	}
	if f, ok := res.(*Failure); ok {
		span.SetAttributes(attribute.String("authcore.failure", string(f.Code)))
	}
	e.record(ctx, name, out)
	return res, nil
}

func (e *Engine) route(ctx context.Context, tx store.Tx, req Request) (Result, outcome, error) {
	current := CurrentSession(ctx)
	switch r := req.(type) {
	case SignInRequest:
		return e.signIn(ctx, tx, r, current)
	case SignOutRequest:
		return e.signOut(ctx, tx, current)
	case RefreshSessionRequest:
		return e.refreshSession(ctx, tx, r)
	case VerifyCodeAndSignInRequest:
		return e.verifyCodeAndSignIn(ctx, tx, r, current)
	case VerifierRequest:
		return e.createVerifier(ctx, tx, current)
	case VerifierSignatureRequest:
		return e.signVerifier(ctx, tx, r)
	case UserOAuthRequest:
		return e.userOAuth(ctx, tx, r)
	case CreateVerificationCodeRequest:
		return e.createVerificationCode(ctx, tx, r, current)
	case CreateAccountFromCredentialsRequest:
		return e.createAccount(ctx, tx, r, current)
	case RetrieveAccountWithCredentialsRequest:
		return e.retrieveAccount(ctx, tx, r)
	case ModifyAccountRequest:
		return e.modifyAccount(ctx, tx, r)
	case InvalidateSessionsRequest:
		return e.invalidateSessions(ctx, tx, r)
	default:
		return nil, outcome{}, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
}

// structuralError maps internal sentinels onto the public taxonomy while
// keeping the original chain.
func structuralError(request string, err error) error {
	var mapped error
	switch {
	case errors.Is(err, flows.ErrUnknownProvider):
		mapped = ErrProviderNotConfigured
	case errors.Is(err, flows.ErrWrongProviderType):
		mapped = ErrProviderType
	case errors.Is(err, flows.ErrMissingIdentifier):
		mapped = ErrMissingIdentifier
	case errors.Is(err, session.ErrMalformedRefreshToken), errors.Is(err, jwt.ErrMalformedSubject):
		mapped = ErrMalformedID
	case errors.Is(err, session.ErrNoTokenIssuer), errors.Is(err, jwt.ErrMissingPrivateKey):
		mapped = ErrSigningKeyMissing
	case errors.Is(err, store.ErrConflict):
		mapped = ErrStoreUnavailable
	}
	if mapped == nil || errors.Is(err, mapped) {
		return fmt.Errorf("authcore: %s: %w", request, err)
	}
	return fmt.Errorf("authcore: %s: %w: %w", request, mapped, err)
}

// failureOf converts a flow failure kind into the public taxonomy.
func failureOf(kind flows.FailureKind, providerID string) *Failure {
	var code FailureCode
	switch kind {
	case flows.FailureNone:
		return nil
	case flows.FailureInvalidAccountID:
		code = InvalidAccountID
	case flows.FailureTooManyFailedAttempts:
		code = TooManyFailedAttempts
	case flows.FailureInvalidSecret:
		code = InvalidSecret
	case flows.FailureInvalidCode:
		code = InvalidCode
	case flows.FailureExpiredCode:
		code = ExpiredCode
	case flows.FailureInvalidVerifier:
		code = InvalidVerifier
	case flows.FailureAccountDeleted:
		code = AccountDeleted
	case flows.FailureProviderMismatch:
		code = ProviderMismatch
	case flows.FailureRateLimited:
		code = RateLimited
	case flows.FailureInvalidRefreshToken:
		code = InvalidRefreshToken
	case flows.FailureExpiredSession:
		code = ExpiredSession
	default:
		code = InternalError
	}
	return newFailure(code, providerID)
}

/*
====================================
ACCESS TOKENS
====================================
*/

// ValidateAccessToken verifies an access token. In ModeStrict the token's
// session must also still be active, which costs one store transaction.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*Identity, error) {
	return e.validate(ctx, token, e.config.ValidationMode)
}

// ValidateAccessTokenMode is ValidateAccessToken with a per-call mode.
func (e *Engine) ValidateAccessTokenMode(ctx context.Context, token string, mode ValidationMode) (*Identity, error) {
	return e.validate(ctx, token, mode)
}

func (e *Engine) validate(ctx context.Context, token string, mode ValidationMode) (*Identity, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}

	var res flows.ValidateResult
	if mode == ModeStrict {
		err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = e.flows.Validate(ctx, tx, token)
			return err
		})
		if err != nil {
			return nil, structuralError("validate", err)
		}
	} else {
		var err error
		res, err = e.flows.Validate(ctx, nil, token)
		if err != nil {
			return nil, structuralError("validate", err)
		}
	}

	switch res.Failure {
	case flows.ValidateFailureUnauthorized:
		if errors.Is(res.Err, jwt.ErrMalformedSubject) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrMalformedID)
		}
		return nil, ErrUnauthorized
	case flows.ValidateFailureTokenClockSkew:
		return nil, ErrTokenClockSkew
	case flows.ValidateFailureSessionNotFound:
		return nil, ErrSessionNotFound
	}

	id := &Identity{
		UserID:    res.Claims.UserID(),
		SessionID: res.Claims.SessionID(),
	}
	if res.Claims.ExpiresAt != nil {
		id.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return id, nil
}
