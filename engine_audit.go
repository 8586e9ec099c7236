package authcore

import (
	"context"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

const (
	auditEventSignIn             = "sign_in"
	auditEventSignInFailure      = "sign_in_failure"
	auditEventSignOut            = "sign_out"
	auditEventRefresh            = "refresh_success"
	auditEventRefreshRejected    = "refresh_rejected"
	auditEventCodeIssued         = "verification_code_issued"
	auditEventCodeRejected       = "verification_code_rejected"
	auditEventOAuthStarted       = "oauth_started"
	auditEventOAuthSigned        = "oauth_verifier_signed"
	auditEventOAuthCompleted     = "oauth_completed"
	auditEventOAuthFailed        = "oauth_failed"
	auditEventAccountCreated     = "account_created"
	auditEventAccountRetrieved   = "account_retrieved"
	auditEventCredentialsFailed  = "credentials_rejected"
	auditEventSecretChanged      = "secret_changed"
	auditEventSessionInvalidated = "sessions_invalidated"
	auditEventRateLimited        = "rate_limited"
)

// outcome is what a handler reports for post-commit audit and metrics. The
// transaction may run a handler more than once; only the committed run's
// outcome is recorded.
type outcome struct {
	event     string
	provider  string
	userID    string
	sessionID string
	failure   FailureCode
	metrics   []MetricID
	metadata  map[string]string
}

func (o outcome) with(ids ...MetricID) outcome {
	o.metrics = append(o.metrics, ids...)
	return o
}

func (e *Engine) record(ctx context.Context, request string, o outcome) {
	for _, id := range o.metrics {
		e.metricInc(id)
	}
	if o.event == "" {
		return
	}
	e.emitAudit(ctx, request, o)
}

func (e *Engine) emitAudit(ctx context.Context, request string, o outcome) {
	if e == nil || e.audit == nil {
		return
	}
	event := internalaudit.Event{
		Timestamp:  e.now().UTC(),
		EventType:  o.event,
		Request:    request,
		ProviderID: o.provider,
		UserID:     o.userID,
		SessionID:  o.sessionID,
		IP:         clientIPFromContext(ctx),
		Success:    o.failure == "",
		Error:      string(o.failure),
		Metadata:   o.metadata,
	}
	e.audit.Emit(ctx, event)
}

// failureOutcome picks the event for a failed operation. Rate limiting is
// reported under its own event whatever the operation was.
func failureOutcome(event string, f *Failure) outcome {
	o := outcome{event: event, failure: f.Code, provider: f.ProviderID}
	switch f.Code {
	case RateLimited, TooManyFailedAttempts:
		o.event = auditEventRateLimited
		o.metrics = append(o.metrics, MetricRateLimited)
	}
	return o
}
