// Package redisstore implements store.Store on Redis.
//
// # Layout
//
// Every key shares the hash tag {prefix} so the store also works on a
// cluster. Documents are hashes holding the JSON body and an insertion
// sequence; each index prefix is a sorted set scored by that sequence.
//
//	{prefix}:doc:<table>:<id>               HASH  body, seq
//	{prefix}:idx:<table>:<index>:<key>      ZSET  id -> seq
//	{prefix}:seq                            STRING insertion counter
//	{prefix}:version                        STRING commit counter
//
// # Transactions
//
// A transaction WATCHes the version key, reads straight from Redis, buffers
// writes in an overlay and commits them in one MULTI/EXEC that also bumps the
// version. Any concurrent commit aborts the EXEC and the transaction function
// is re-run, which makes transactions serializable. Transaction functions
// must therefore tolerate being invoked more than once.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultMaxRetries = 16

// Store is a Redis-backed store.Store.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	maxRetries int
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace. Defaults to "authcore".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxRetries bounds optimistic retries before store.ErrConflict.
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

// New creates a Store on the given client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		redis:      client,
		prefix:     "authcore",
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(parts ...string) string {
	k := "{" + s.prefix + "}"
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) docKey(table store.Table, id string) string {
	return s.key("doc", string(table), id)
}

func (s *Store) indexKey(table store.Table, index, key string) string {
	return s.key("idx", string(table), index, key)
}

func (s *Store) versionKey() string { return s.key("version") }

func (s *Store) seqKey() string { return s.key("seq") }

// fnError marks errors returned by the caller's transaction function so
// they are not mistaken for transport failures.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }
func (e fnError) Unwrap() error { return e.err }

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.redis.Watch(ctx, func(rtx *redis.Tx) error {
			tx := newRedisTx(s, rtx)
			if err := fn(ctx, tx); err != nil {
				return fnError{err: err}
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if !tx.dirty() {
					pipe.Get(ctx, s.versionKey())
					return nil
				}
				if err := tx.flush(ctx, pipe); err != nil {
					return err
				}
				pipe.Incr(ctx, s.versionKey())
				return nil
			})
			if errors.Is(err, redis.Nil) {
				// Read-only commit on a store that has never been written.
				return nil
			}
			return err
		}, s.versionKey())

		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var fe fnError
		if errors.As(err, &fe) {
			return fe.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return store.ErrConflict
}

type entry struct {
	fields map[string]any
	seq    int64
}

type docRef struct {
	table store.Table
	id    string
}

type pending struct {
	base    *entry // committed state, nil for documents created in this tx
	current *entry // nil once deleted
}

type redisTx struct {
	s       *Store
	rtx     *redis.Tx
	writes  map[docRef]*pending
	ordered []docRef
}

func newRedisTx(s *Store, rtx *redis.Tx) *redisTx {
	return &redisTx{
		s:      s,
		rtx:    rtx,
		writes: make(map[docRef]*pending),
	}
}

func (tx *redisTx) dirty() bool { return len(tx.writes) > 0 }

func (tx *redisTx) loadCommitted(ctx context.Context, table store.Table, id string) (*entry, error) {
	values, err := tx.rtx.HMGet(ctx, tx.s.docKey(table, id), "body", "seq").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(values) != 2 || values[0] == nil {
		return nil, nil
	}
	body, _ := values[0].(string)
	seqRaw, _ := values[1].(string)
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("redisstore: corrupt document %s/%s: %w", table, id, err)
	}
	seq, err := strconv.ParseInt(seqRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: corrupt sequence %s/%s: %w", table, id, err)
	}
	return &entry{fields: fields, seq: seq}, nil
}

// lookup returns the transaction-visible state of a document.
func (tx *redisTx) lookup(ctx context.Context, table store.Table, id string) (*entry, error) {
	if p, ok := tx.writes[docRef{table, id}]; ok {
		return p.current, nil
	}
	return tx.loadCommitted(ctx, table, id)
}

func (tx *redisTx) stage(ctx context.Context, table store.Table, id string, next *entry, isNew bool) error {
	ref := docRef{table, id}
	p, ok := tx.writes[ref]
	if !ok {
		p = &pending{}
		if !isNew {
			base, err := tx.loadCommitted(ctx, table, id)
			if err != nil {
				return err
			}
			p.base = base
		}
		tx.writes[ref] = p
		tx.ordered = append(tx.ordered, ref)
	}
	p.current = next
	return nil
}

func (tx *redisTx) Insert(ctx context.Context, table store.Table, doc any) (string, error) {
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
	if err := tx.checkUnique(ctx, table, id, fields); err != nil {
		return "", err
	}
	seq, err := tx.rtx.Incr(ctx, tx.s.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := tx.stage(ctx, table, id, &entry{fields: fields, seq: seq}, true); err != nil {
		return "", err
	}
	return id, nil
}

func (tx *redisTx) Get(ctx context.Context, table store.Table, id string) (store.Record, error) {
	if err := store.CheckTable(table); err != nil {
		return store.Record{}, err
	}
	e, err := tx.lookup(ctx, table, id)
	if err != nil {
		return store.Record{}, err
	}
	if e == nil {
		return store.Record{}, fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	return record(table, id, e)
}

func (tx *redisTx) Patch(ctx context.Context, table store.Table, id string, patch map[string]any) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	e, err := tx.lookup(ctx, table, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	fields, err := store.ApplyPatch(e.fields, patch)
	if err != nil {
		return err
	}
	if err := tx.checkUnique(ctx, table, id, fields); err != nil {
		return err
	}
	return tx.stage(ctx, table, id, &entry{fields: fields, seq: e.seq}, false)
}

func (tx *redisTx) Replace(ctx context.Context, table store.Table, id string, doc any) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	e, err := tx.lookup(ctx, table, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	fields, err := store.DocumentFields(doc)
	if err != nil {
		return err
	}
	fields[store.FieldID] = id
	fields[store.FieldCreationTime] = e.fields[store.FieldCreationTime]
	if err := tx.checkUnique(ctx, table, id, fields); err != nil {
		return err
	}
	return tx.stage(ctx, table, id, &entry{fields: fields, seq: e.seq}, false)
}

func (tx *redisTx) Delete(ctx context.Context, table store.Table, id string) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	e, err := tx.lookup(ctx, table, id)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	return tx.stage(ctx, table, id, nil, false)
}

func (tx *redisTx) Query(ctx context.Context, table store.Table, index string, values ...any) ([]store.Record, error) {
	idx, err := store.LookupIndex(table, index, len(values))
	if err != nil {
		return nil, err
	}
	entries, err := tx.match(ctx, table, idx, values)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(entries))
	for _, m := range entries {
		rec, err := record(table, m.id, m.e)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type matched struct {
	id string
	e  *entry
}

// match resolves an index prefix against committed data merged with the
// overlay, ordered by insertion sequence.
func (tx *redisTx) match(ctx context.Context, table store.Table, idx store.Index, values []any) ([]matched, error) {
	want, err := store.EncodeKey(values)
	if err != nil {
		return nil, err
	}

	ids, err := tx.rtx.ZRange(ctx, tx.s.indexKey(table, idx.Name, prefixKey(len(values), want)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	seen := make(map[string]bool, len(ids))
	var out []matched
	for _, id := range ids {
		seen[id] = true
		e, err := tx.lookup(ctx, table, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if ok, err := entryMatches(e, idx, values, want); err != nil {
			return nil, err
		} else if ok {
			out = append(out, matched{id: id, e: e})
		}
	}
	for _, ref := range tx.ordered {
		if ref.table != table || seen[ref.id] {
			continue
		}
		e := tx.writes[ref].current
		if e == nil {
			continue
		}
		if ok, err := entryMatches(e, idx, values, want); err != nil {
			return nil, err
		} else if ok {
			out = append(out, matched{id: ref.id, e: e})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].e.seq < out[j].e.seq })
	return out, nil
}

func entryMatches(e *entry, idx store.Index, values []any, want string) (bool, error) {
	got, ok := store.IndexValues(e.fields, idx, len(values))
	if !ok {
		return false, nil
	}
	key, err := store.EncodeKey(got)
	if err != nil {
		return false, err
	}
	return key == want, nil
}

func (tx *redisTx) checkUnique(ctx context.Context, table store.Table, id string, fields map[string]any) error {
	for _, idx := range store.Schema[table] {
		if !idx.Unique {
			continue
		}
		values, ok := store.IndexValues(fields, idx, len(idx.Fields))
		if !ok {
			continue
		}
		existing, err := tx.match(ctx, table, idx, values)
		if err != nil {
			return err
		}
		for _, m := range existing {
			if m.id != id {
				return fmt.Errorf("%w: %s.%s", store.ErrUniqueViolation, table, idx.Name)
			}
		}
	}
	return nil
}

// flush queues every buffered write onto the MULTI pipeline.
func (tx *redisTx) flush(ctx context.Context, pipe redis.Pipeliner) error {
	for _, ref := range tx.ordered {
		p := tx.writes[ref]
		if p.base != nil {
			keys, err := tx.s.indexEntries(ref.table, p.base.fields)
			if err != nil {
				return err
			}
			for _, k := range keys {
				pipe.ZRem(ctx, k, ref.id)
			}
		}
		docKey := tx.s.docKey(ref.table, ref.id)
		if p.current == nil {
			pipe.Del(ctx, docKey)
			continue
		}
		body, err := json.Marshal(p.current.fields)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, docKey, "body", string(body), "seq", p.current.seq)
		keys, err := tx.s.indexEntries(ref.table, p.current.fields)
		if err != nil {
			return err
		}
		for _, k := range keys {
			pipe.ZAdd(ctx, k, redis.Z{Score: float64(p.current.seq), Member: ref.id})
		}
	}
	return nil
}

// indexEntries lists every index-prefix key a document belongs to.
func (s *Store) indexEntries(table store.Table, fields map[string]any) ([]string, error) {
	var keys []string
	for _, idx := range store.Schema[table] {
		for n := 1; n <= len(idx.Fields); n++ {
			values, ok := store.IndexValues(fields, idx, n)
			if !ok {
				break
			}
			key, err := store.EncodeKey(values)
			if err != nil {
				return nil, err
			}
			keys = append(keys, s.indexKey(table, idx.Name, prefixKey(n, key)))
		}
	}
	return keys, nil
}

func prefixKey(n int, key string) string {
	return strconv.Itoa(n) + ":" + key
}

func record(table store.Table, id string, e *entry) (store.Record, error) {
	body, err := json.Marshal(e.fields)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{ID: id, Table: table, Body: body}, nil
}
