package authcore

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelSink(4)
	te := newTestEngine(t, testConfig(t), func(b *Builder) { b.WithAuditSink(sink) })

	if _, err := te.SignUp(context.Background(), "password", CredentialsAccount{ID: "oscar", Secret: "oscar-secret"}, Profile{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	te.Close()
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event %s", ev.EventType)
	default:
	}
	if te.AuditDropped() != 0 {
		t.Fatal("disabled audit must not count drops")
	}
}

func TestAuditRateLimitedThroughZapSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	cfg.RateLimit.MaxFailedAttemptsPerHour = 1
	te := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(NewZapSink(zap.New(core))) })
	ctx := context.Background()

	if _, err := te.SignUp(ctx, "password", CredentialsAccount{ID: "pia", Secret: "pia-secret"}, Profile{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, _ = te.SignInWithPassword(ctx, "password", CredentialsAccount{ID: "pia", Secret: "wrong"})
	}
	te.Close()

	limited := logs.FilterMessage(auditEventRateLimited).AllUntimed()
	if len(limited) != 1 {
		t.Fatalf("expected 1 rate_limited event, got %d", len(limited))
	}
	if limited[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", limited[0].Level)
	}
	if got := limited[0].ContextMap()["error"]; got != string(TooManyFailedAttempts) {
		t.Fatalf("unexpected error field %v", got)
	}
}

func TestAuditEventTimestampUsesEngineClock(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	sink := NewChannelSink(8)
	te := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	if _, err := te.StartOAuth(context.Background()); err != nil {
		t.Fatalf("StartOAuth failed: %v", err)
	}
	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventOAuthStarted {
			t.Fatalf("expected %s, got %s", auditEventOAuthStarted, ev.EventType)
		}
		if !ev.Timestamp.Equal(te.clock.now().UTC()) {
			t.Fatalf("unexpected timestamp %v", ev.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
