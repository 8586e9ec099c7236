// Package storetest holds a behavioural suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore/store"
)

// Factory returns a fresh, empty store and a cleanup function.
type Factory func(t *testing.T) (store.Store, func())

// Run executes the whole suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("InsertGetRoundTrip", func(t *testing.T) { testInsertGet(t, newStore) })
	t.Run("PatchRemovesNilFields", func(t *testing.T) { testPatch(t, newStore) })
	t.Run("QueryOrderAndPrefix", func(t *testing.T) { testQuery(t, newStore) })
	t.Run("UniqueIndex", func(t *testing.T) { testUnique(t, newStore) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, newStore) })
	t.Run("ConcurrentIncrementsSerialize", func(t *testing.T) { testSerializable(t, newStore) })
}

func inTx(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := s.RunInTx(context.Background(), fn); err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func testInsertGet(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	var id string
	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.Insert(ctx, store.TableUsers, store.User{Email: "a@example.com", Name: "A"})
		return err
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		user, err := store.Load[store.User](ctx, tx, store.TableUsers, id)
		if err != nil {
			return err
		}
		if user == nil {
			t.Fatal("expected user to exist")
		}
		if user.ID != id || user.Email != "a@example.com" || user.CreationTime == 0 {
			t.Fatalf("unexpected user: %+v", user)
		}
		if _, err := tx.Get(ctx, store.TableUsers, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func testPatch(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	var id string
	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.Insert(ctx, store.TableUsers, map[string]any{"email": "p@example.com", "name": "P"})
		if err != nil {
			return err
		}
		return tx.Patch(ctx, store.TableUsers, id, map[string]any{"name": nil, "image": "img"})
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.Get(ctx, store.TableUsers, id)
		if err != nil {
			return err
		}
		fields, err := rec.Fields()
		if err != nil {
			return err
		}
		if _, ok := fields["name"]; ok {
			t.Fatalf("expected name removed, got %v", fields)
		}
		if fields["image"] != "img" || fields["email"] != "p@example.com" {
			t.Fatalf("unexpected fields: %v", fields)
		}
		if err := tx.Patch(ctx, store.TableUsers, "missing", map[string]any{"x": 1}); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on patch, got %v", err)
		}
		return nil
	})
}

func testQuery(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	var ids []string
	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, provider := range []string{"github", "password", "github"} {
			id, err := tx.Insert(ctx, store.TableAccounts, store.Account{
				UserID:            "u1",
				Provider:          provider,
				ProviderAccountID: provider + "-" + string(rune('a'+len(ids))),
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		all, err := store.Find[store.Account](ctx, tx, store.TableAccounts, store.IndexUserIDAndProvider, "u1")
		if err != nil {
			return err
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 accounts for prefix query, got %d", len(all))
		}
		for i, acc := range all {
			if acc.ID != ids[i] {
				t.Fatalf("expected insertion order, got %s at %d", acc.ID, i)
			}
		}
		gh, err := store.Find[store.Account](ctx, tx, store.TableAccounts, store.IndexUserIDAndProvider, "u1", "github")
		if err != nil {
			return err
		}
		if len(gh) != 2 {
			t.Fatalf("expected 2 github accounts, got %d", len(gh))
		}
		if _, err := tx.Query(ctx, store.TableAccounts, "nope", "x"); !errors.Is(err, store.ErrUnknownIndex) {
			t.Fatalf("expected ErrUnknownIndex, got %v", err)
		}
		return nil
	})
}

func testUnique(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Insert(ctx, store.TableAccounts, store.Account{UserID: "u1", Provider: "password", ProviderAccountID: "a@example.com"})
		return err
	})

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Insert(ctx, store.TableAccounts, store.Account{UserID: "u2", Provider: "password", ProviderAccountID: "a@example.com"})
		return err
	})
	if !errors.Is(err, store.ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Insert(ctx, store.TableAccounts, store.Account{UserID: "u2", Provider: "github", ProviderAccountID: "a@example.com"})
		return err
	})
}

func testRollback(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	boom := errors.New("boom")
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Insert(ctx, store.TableRateLimits, store.RateLimit{Identifier: "x", AttemptsLeft: 3}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := store.First[store.RateLimit](ctx, tx, store.TableRateLimits, store.IndexIdentifier, "x")
		if err != nil {
			return err
		}
		if got != nil {
			t.Fatalf("expected rollback, found %+v", got)
		}
		return nil
	})
}

func testReadYourWrites(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		sid, err := tx.Insert(ctx, store.TableSessions, store.Session{UserID: "u1", ExpirationTime: 10})
		if err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, store.TableRefreshTokens, store.RefreshToken{SessionID: sid, ExpirationTime: 10}); err != nil {
			return err
		}
		tokens, err := store.Find[store.RefreshToken](ctx, tx, store.TableRefreshTokens, store.IndexSessionID, sid)
		if err != nil {
			return err
		}
		if len(tokens) != 1 {
			t.Fatalf("expected uncommitted token visible, got %d", len(tokens))
		}
		if err := tx.Delete(ctx, store.TableRefreshTokens, tokens[0].ID); err != nil {
			return err
		}
		tokens, err = store.Find[store.RefreshToken](ctx, tx, store.TableRefreshTokens, store.IndexSessionID, sid)
		if err != nil {
			return err
		}
		if len(tokens) != 0 {
			t.Fatalf("expected deleted token hidden, got %d", len(tokens))
		}
		return nil
	})
}

func testDelete(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		id, err := tx.Insert(ctx, store.TableVerifiers, store.Verifier{Signature: "sig"})
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, store.TableVerifiers, id); err != nil {
			return err
		}
		return tx.Delete(ctx, store.TableVerifiers, id)
	})
}

func testSerializable(t *testing.T, newStore Factory) {
	s, done := newStore(t)
	defer done()

	var id string
	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.Insert(ctx, store.TableRateLimits, store.RateLimit{Identifier: "counter", AttemptsLeft: 0})
		return err
	})

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				rl, err := store.Load[store.RateLimit](ctx, tx, store.TableRateLimits, id)
				if err != nil {
					return err
				}
				return tx.Patch(ctx, store.TableRateLimits, id, map[string]any{"attemptsLeft": rl.AttemptsLeft + 1})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent tx failed: %v", err)
		}
	}

	inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		rl, err := store.Load[store.RateLimit](ctx, tx, store.TableRateLimits, id)
		if err != nil {
			return err
		}
		if rl.AttemptsLeft != workers {
			t.Fatalf("expected %d serialized increments, got %v", workers, rl.AttemptsLeft)
		}
		return nil
	})
}
