package authcore

import (
	"context"
	"strconv"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/store"
)

func (e *Engine) signIn(ctx context.Context, tx store.Tx, r SignInRequest, current string) (Result, outcome, error) {
	if r.UserID == "" {
		return nil, outcome{}, ErrMissingIdentifier
	}
	res, err := e.flows.SignIn(ctx, tx, flows.SignInRequest{
		UserID:           r.UserID,
		SessionID:        r.SessionID,
		GenerateTokens:   r.GenerateTokens,
		CurrentSessionID: current,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, ""); f != nil {
		o := failureOutcome(auditEventSignInFailure, f).with(MetricSignInFailure)
		o.userID = res.UserID
		return f, o, nil
	}

	o := outcome{event: auditEventSignIn, userID: res.UserID, sessionID: res.SessionID}.with(MetricSignInSuccess)
	if r.SessionID == "" {
		o = o.with(MetricSessionCreated)
	}
	return &SessionResult{UserID: res.UserID, SessionID: res.SessionID, Tokens: res.Tokens}, o, nil
}

func (e *Engine) signOut(ctx context.Context, tx store.Tx, current string) (Result, outcome, error) {
	res, err := e.flows.SignOut(ctx, tx, current)
	if err != nil {
		return nil, outcome{}, err
	}
	if !res.SignedOut {
		return &SignOutResult{}, outcome{}, nil
	}
	o := outcome{event: auditEventSignOut, userID: res.UserID, sessionID: res.SessionID}.with(MetricSignOut)
	return &SignOutResult{UserID: res.UserID, SessionID: res.SessionID}, o, nil
}

func (e *Engine) refreshSession(ctx context.Context, tx store.Tx, r RefreshSessionRequest) (Result, outcome, error) {
	res, err := e.flows.Refresh(ctx, tx, r.RefreshToken)
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, ""); f != nil {
		f.Detail = res.Reason.String()
		o := outcome{
			event:     auditEventRefreshRejected,
			userID:    res.UserID,
			sessionID: res.SessionID,
			failure:   f.Code,
			metadata:  map[string]string{"reason": res.Reason.String()},
		}
		if f.Code == ExpiredSession {
			o = o.with(MetricRefreshExpired)
		} else {
			o = o.with(MetricRefreshReuseDetected)
		}
		return f, o, nil
	}
	o := outcome{event: auditEventRefresh, userID: res.UserID, sessionID: res.SessionID}.with(MetricRefreshSuccess)
	return &SessionResult{UserID: res.UserID, SessionID: res.SessionID, Tokens: res.Tokens}, o, nil
}

func (e *Engine) verifyCodeAndSignIn(ctx context.Context, tx store.Tx, r VerifyCodeAndSignInRequest, current string) (Result, outcome, error) {
	res, err := e.flows.VerifyCodeAndSignIn(ctx, tx, flows.VerifyCodeRequest{
		Provider:            r.Provider,
		Code:                r.Code,
		Verifier:            r.Verifier,
		Email:               r.Email,
		Phone:               r.Phone,
		AllowExtraProviders: r.AllowExtraProviders,
		GenerateTokens:      r.GenerateTokens,
		CurrentSessionID:    current,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, r.Provider); f != nil {
		o := failureOutcome(auditEventCodeRejected, f).with(MetricCodeRejected, MetricSignInFailure)
		o.userID = res.UserID
		return f, o, nil
	}
	o := outcome{
		event:     auditEventSignIn,
		provider:  r.Provider,
		userID:    res.UserID,
		sessionID: res.SessionID,
	}.with(MetricCodeVerified, MetricSignInSuccess, MetricSessionCreated)
	return &SessionResult{
		UserID:    res.UserID,
		SessionID: res.SessionID,
		AccountID: res.AccountID,
		Tokens:    res.Tokens,
	}, o, nil
}

func (e *Engine) createVerifier(ctx context.Context, tx store.Tx, current string) (Result, outcome, error) {
	res, err := e.flows.CreateVerifier(ctx, tx, current)
	if err != nil {
		return nil, outcome{}, err
	}
	o := outcome{event: auditEventOAuthStarted, sessionID: res.SessionID}.with(MetricOAuthStarted)
	return &VerifierResult{VerifierID: res.VerifierID}, o, nil
}

func (e *Engine) signVerifier(ctx context.Context, tx store.Tx, r VerifierSignatureRequest) (Result, outcome, error) {
	res, err := e.flows.SignVerifier(ctx, tx, flows.SignVerifierRequest{
		Verifier:  r.Verifier,
		Signature: r.Signature,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, ""); f != nil {
		return f, failureOutcome(auditEventOAuthFailed, f).with(MetricOAuthFailure), nil
	}
	return &VerifierSignatureResult{}, outcome{event: auditEventOAuthSigned}, nil
}

func (e *Engine) userOAuth(ctx context.Context, tx store.Tx, r UserOAuthRequest) (Result, outcome, error) {
	res, err := e.flows.UserOAuth(ctx, tx, flows.UserOAuthRequest{
		Provider:          r.Provider,
		ProviderAccountID: r.ProviderAccountID,
		Profile:           r.Profile.internal(),
		Signature:         r.Signature,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, r.Provider); f != nil {
		return f, failureOutcome(auditEventOAuthFailed, f).with(MetricOAuthFailure), nil
	}
	o := outcome{event: auditEventOAuthCompleted, provider: r.Provider, userID: res.UserID}.with(MetricOAuthSuccess)
	if res.Created {
		o = o.with(MetricAccountCreated)
		o.metadata = map[string]string{"account_created": "true"}
	}
	return &UserOAuthResult{
		Code:       res.Code,
		VerifierID: res.VerifierID,
		UserID:     res.UserID,
		AccountID:  res.AccountID,
		Created:    res.Created,
	}, o, nil
}

func (e *Engine) createVerificationCode(ctx context.Context, tx store.Tx, r CreateVerificationCodeRequest, current string) (Result, outcome, error) {
	res, err := e.flows.CreateVerificationCode(ctx, tx, flows.CreateCodeRequest{
		Provider:         r.Provider,
		AccountID:        r.AccountID,
		Email:            r.Email,
		Phone:            r.Phone,
		Code:             r.Code,
		ExpiresAt:        r.ExpiresAt,
		CurrentSessionID: current,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, r.Provider); f != nil {
		return f, failureOutcome(auditEventCodeRejected, f), nil
	}
	o := outcome{event: auditEventCodeIssued, provider: r.Provider, userID: res.UserID}.with(MetricCodeIssued)
	return &VerificationCodeResult{
		Identifier: res.Identifier,
		AccountID:  res.AccountID,
		UserID:     res.UserID,
		ExpiresAt:  res.ExpiresAt,
	}, o, nil
}

func (e *Engine) createAccount(ctx context.Context, tx store.Tx, r CreateAccountFromCredentialsRequest, current string) (Result, outcome, error) {
	res, err := e.flows.CreateAccountFromCredentials(ctx, tx, flows.CreateAccountRequest{
		Provider:           r.Provider,
		Account:            flows.CredentialsAccount{ID: r.Account.ID, Secret: r.Account.Secret},
		Profile:            r.Profile.internal(),
		ShouldLinkViaEmail: r.ShouldLinkViaEmail,
		ShouldLinkViaPhone: r.ShouldLinkViaPhone,
		CurrentSessionID:   current,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, r.Provider); f != nil {
		f.Detail = res.Detail
		return f, failureOutcome(auditEventCredentialsFailed, f).with(MetricCredentialsRejected), nil
	}
	o := accountOutcome(auditEventAccountRetrieved, r.Provider, res)
	if res.Created {
		o.event = auditEventAccountCreated
		o = o.with(MetricAccountCreated)
	}
	return &AccountResult{Account: res.Account, User: res.User, Created: res.Created}, o, nil
}

func (e *Engine) retrieveAccount(ctx context.Context, tx store.Tx, r RetrieveAccountWithCredentialsRequest) (Result, outcome, error) {
	res, err := e.flows.RetrieveAccountWithCredentials(ctx, tx, flows.RetrieveAccountRequest{
		Provider: r.Provider,
		Account:  flows.CredentialsAccount{ID: r.Account.ID, Secret: r.Account.Secret},
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, r.Provider); f != nil {
		o := failureOutcome(auditEventCredentialsFailed, f)
		if f.Code == InvalidAccountID || f.Code == InvalidSecret {
			o = o.with(MetricCredentialsRejected)
		}
		if res.Account != nil {
			o.userID = res.Account.UserID
		}
		return f, o, nil
	}
	return &AccountResult{Account: res.Account, User: res.User}, accountOutcome(auditEventAccountRetrieved, r.Provider, res), nil
}

func (e *Engine) modifyAccount(ctx context.Context, tx store.Tx, r ModifyAccountRequest) (Result, outcome, error) {
	res, err := e.flows.ModifyAccount(ctx, tx, flows.ModifyAccountRequest{
		Provider: r.Provider,
		Account:  flows.CredentialsAccount{ID: r.Account.ID, Secret: r.Account.Secret},
	})
	if err != nil {
		return nil, outcome{}, err
	}
	if f := failureOf(res.Failure, r.Provider); f != nil {
		return f, failureOutcome(auditEventCredentialsFailed, f), nil
	}
	o := accountOutcome(auditEventSecretChanged, r.Provider, res).with(MetricSecretRotated)
	return &AccountResult{Account: res.Account}, o, nil
}

func (e *Engine) invalidateSessions(ctx context.Context, tx store.Tx, r InvalidateSessionsRequest) (Result, outcome, error) {
	res, err := e.flows.InvalidateSessions(ctx, tx, flows.InvalidateSessionsRequest{
		UserID: r.UserID,
		Except: r.Except,
	})
	if err != nil {
		return nil, outcome{}, err
	}
	o := outcome{
		event:    auditEventSessionInvalidated,
		userID:   r.UserID,
		metadata: map[string]string{"removed": strconv.Itoa(res.Removed)},
	}
	for i := 0; i < res.Removed; i++ {
		o = o.with(MetricSessionInvalidated)
	}
	return &InvalidateSessionsResult{Removed: res.Removed}, o, nil
}

func accountOutcome(event, provider string, res flows.AccountResult) outcome {
	o := outcome{event: event, provider: provider}
	if res.Account != nil {
		o.userID = res.Account.UserID
	}
	return o
}
