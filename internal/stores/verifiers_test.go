package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
)

func TestVerifierSignAndFind(t *testing.T) {
	s := memory.New(memory.WithClock(func() time.Time { return epoch }))
	vs := NewVerifierStore(0, func() time.Time { return epoch.Add(time.Minute) })

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		id, err := vs.Create(ctx, tx, "sess-1")
		if err != nil {
			return err
		}
		if err := vs.Sign(ctx, tx, id, "verifier state nonce"); err != nil {
			return err
		}
		if err := vs.Sign(ctx, tx, id, "again"); !errors.Is(err, ErrVerifierSigned) {
			t.Fatalf("expected ErrVerifierSigned, got %v", err)
		}
		v, err := vs.FindBySignature(ctx, tx, "verifier state nonce")
		if err != nil {
			return err
		}
		if v == nil || v.ID != id || v.SessionID != "sess-1" {
			t.Fatalf("unexpected verifier %+v", v)
		}
		if v, _ := vs.FindBySignature(ctx, tx, "other"); v != nil {
			t.Fatal("unexpected match for unknown signature")
		}
		return nil
	})
}

func TestVerifierExpires(t *testing.T) {
	s := memory.New(memory.WithClock(func() time.Time { return epoch }))
	now := epoch
	vs := NewVerifierStore(15*time.Minute, func() time.Time { return now })

	var id string
	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = vs.Create(ctx, tx, "")
		return err
	})
	now = epoch.Add(16 * time.Minute)
	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		v, err := vs.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if v != nil {
			t.Fatal("expected stale verifier to be treated as missing")
		}
		if err := vs.Sign(ctx, tx, id, "sig"); !errors.Is(err, ErrVerifierNotFound) {
			t.Fatalf("expected ErrVerifierNotFound, got %v", err)
		}
		return nil
	})
	if n := s.Len(store.TableVerifiers); n != 0 {
		t.Fatalf("expected stale verifier deleted, have %d", n)
	}
}
