// Package postgres implements store.Store on PostgreSQL.
//
// Documents of every table live in one JSONB table ordered by a bigserial
// sequence. Unique indexes are enforced through a key table whose primary key
// rejects duplicates. Transactions run at SERIALIZABLE isolation and are
// retried on serialization failures, so transaction functions must tolerate
// being invoked more than once.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"

	defaultMaxRetries = 8
)

// DBTX is the subset of database/sql used inside a transaction.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db         *sql.DB
	maxRetries int
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries bounds serialization-failure retries before
// store.ErrConflict.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithClock overrides the creation-time clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, maxRetries: defaultMaxRetries, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects through the pgx stdlib driver and applies migrations.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := withTx(ctx, s.db, opts, func(ctx context.Context, db DBTX) error {
			return fn(ctx, &pgTx{s: s, db: db})
		})
		if err == nil {
			return nil
		}
		if retryable(err) {
			continue
		}
		return err
	}
	return store.ErrConflict
}

// withTx begins a transaction, runs fn, then commits on success or rolls
// back on error or panic. Panics are rethrown.
func withTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func mapError(err error, table store.Table) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrUniqueViolation, table)
	}
	return err
}

type pgTx struct {
	s  *Store
	db DBTX
}

func (tx *pgTx) load(ctx context.Context, table store.Table, id string) (map[string]any, error) {
	var body []byte
	err := tx.db.QueryRowContext(ctx,
		`SELECT body FROM auth_documents WHERE tbl = $1 AND id = $2`,
		string(table), id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("postgres: corrupt document %s/%s: %w", table, id, err)
	}
	return fields, nil
}

// uniqueKeys computes the full-key entries of every unique index.
func uniqueKeys(table store.Table, fields map[string]any) (map[string]string, error) {
	out := map[string]string{}
	for _, idx := range store.Schema[table] {
		if !idx.Unique {
			continue
		}
		values, ok := store.IndexValues(fields, idx, len(idx.Fields))
		if !ok {
			continue
		}
		key, err := store.EncodeKey(values)
		if err != nil {
			return nil, err
		}
		out[idx.Name] = key
	}
	return out, nil
}

// checkUnique looks for a conflicting holder before anything is written so a
// violation is reported without aborting the surrounding transaction.
func (tx *pgTx) checkUnique(ctx context.Context, table store.Table, id string, keys map[string]string) error {
	for idx, key := range keys {
		var holder string
		err := tx.db.QueryRowContext(ctx,
			`SELECT doc_id FROM auth_unique_keys WHERE tbl = $1 AND idx = $2 AND key = $3`,
			string(table), idx, key,
		).Scan(&holder)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("error performing sql request: %w", err)
		}
		if err == nil && holder != id {
			return fmt.Errorf("%w: %s.%s", store.ErrUniqueViolation, table, idx)
		}
	}
	return nil
}

func (tx *pgTx) storeKeys(ctx context.Context, table store.Table, id string, keys map[string]string, replace bool) error {
	if replace {
		if _, err := tx.db.ExecContext(ctx,
			`DELETE FROM auth_unique_keys WHERE tbl = $1 AND doc_id = $2`,
			string(table), id,
		); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}
	}
	for idx, key := range keys {
		if _, err := tx.db.ExecContext(ctx,
			`INSERT INTO auth_unique_keys (tbl, idx, key, doc_id) VALUES ($1, $2, $3, $4)`,
			string(table), idx, key, id,
		); err != nil {
			return mapError(err, table)
		}
	}
	return nil
}

func (tx *pgTx) Insert(ctx context.Context, table store.Table, doc any) (string, error) {
	if err := store.CheckTable(table); err != nil {
		return "", err
	}
	fields, err := store.DocumentFields(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	fields[store.FieldID] = id
	fields[store.FieldCreationTime] = float64(tx.s.now().UnixMilli())
	keys, err := uniqueKeys(table, fields)
	if err != nil {
		return "", err
	}
	if err := tx.checkUnique(ctx, table, id, keys); err != nil {
		return "", err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	if _, err := tx.db.ExecContext(ctx,
		`INSERT INTO auth_documents (id, tbl, body) VALUES ($1, $2, $3)`,
		id, string(table), body,
	); err != nil {
		return "", fmt.Errorf("error performing sql request: %w", err)
	}
	if err := tx.storeKeys(ctx, table, id, keys, false); err != nil {
		return "", err
	}
	return id, nil
}

func (tx *pgTx) Get(ctx context.Context, table store.Table, id string) (store.Record, error) {
	if err := store.CheckTable(table); err != nil {
		return store.Record{}, err
	}
	fields, err := tx.load(ctx, table, id)
	if err != nil {
		return store.Record{}, err
	}
	if fields == nil {
		return store.Record{}, fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	return record(table, id, fields)
}

func (tx *pgTx) write(ctx context.Context, table store.Table, id string, fields map[string]any) error {
	keys, err := uniqueKeys(table, fields)
	if err != nil {
		return err
	}
	if err := tx.checkUnique(ctx, table, id, keys); err != nil {
		return err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if _, err := tx.db.ExecContext(ctx,
		`UPDATE auth_documents SET body = $3 WHERE tbl = $1 AND id = $2`,
		string(table), id, body,
	); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return tx.storeKeys(ctx, table, id, keys, true)
}

func (tx *pgTx) Patch(ctx context.Context, table store.Table, id string, patch map[string]any) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	current, err := tx.load(ctx, table, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	fields, err := store.ApplyPatch(current, patch)
	if err != nil {
		return err
	}
	return tx.write(ctx, table, id, fields)
}

func (tx *pgTx) Replace(ctx context.Context, table store.Table, id string, doc any) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	current, err := tx.load(ctx, table, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	fields, err := store.DocumentFields(doc)
	if err != nil {
		return err
	}
	fields[store.FieldID] = id
	fields[store.FieldCreationTime] = current[store.FieldCreationTime]
	return tx.write(ctx, table, id, fields)
}

func (tx *pgTx) Delete(ctx context.Context, table store.Table, id string) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	if _, err := tx.db.ExecContext(ctx,
		`DELETE FROM auth_documents WHERE tbl = $1 AND id = $2`,
		string(table), id,
	); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (tx *pgTx) Query(ctx context.Context, table store.Table, index string, values ...any) ([]store.Record, error) {
	idx, err := store.LookupIndex(table, index, len(values))
	if err != nil {
		return nil, err
	}
	query, args, err := buildQuery(table, idx, values)
	if err != nil {
		return nil, err
	}

	rows, err := tx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		out = append(out, store.Record{ID: id, Table: table, Body: json.RawMessage(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// buildQuery matches an index prefix with one jsonb containment test, so the
// GIN index on body serves the lookup. Containment compares numbers by value.
func buildQuery(table store.Table, idx store.Index, values []any) (string, []any, error) {
	match := make(map[string]any, len(values))
	for i, v := range values {
		match[idx.Fields[i]] = v
	}
	raw, err := json.Marshal(match)
	if err != nil {
		return "", nil, err
	}
	return `SELECT id, body FROM auth_documents WHERE tbl = $1 AND body @> $2::jsonb ORDER BY seq`,
		[]any{string(table), string(raw)}, nil
}

func record(table store.Table, id string, fields map[string]any) (store.Record, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{ID: id, Table: table, Body: body}, nil
}
