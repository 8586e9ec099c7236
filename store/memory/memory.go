// Package memory provides an in-process store.Store. Transactions are
// serialized by a single mutex and buffered in an overlay that is applied on
// commit, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
)

type entry struct {
	fields map[string]any
	seq    uint64
}

// Store is a store.Store held entirely in memory.
type Store struct {
	mu     sync.Mutex
	seq    uint64
	tables map[store.Table]map[string]*entry
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the creation-time clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[store.Table]map[string]*entry),
		now:    time.Now,
	}
	for _, table := range store.Tables() {
		s.tables[table] = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:       s,
		overlay: make(map[store.Table]map[string]*entry),
		seq:     s.seq,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for table, writes := range tx.overlay {
		for id, e := range writes {
			if e == nil {
				delete(s.tables[table], id)
				continue
			}
			s.tables[table][id] = e
		}
	}
	s.seq = tx.seq
	return nil
}

// Len reports the number of committed documents in table.
func (s *Store) Len(table store.Table) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

type memTx struct {
	s       *Store
	overlay map[store.Table]map[string]*entry
	seq     uint64
}

func (tx *memTx) lookup(table store.Table, id string) *entry {
	if writes, ok := tx.overlay[table]; ok {
		if e, ok := writes[id]; ok {
			return e
		}
	}
	return tx.s.tables[table][id]
}

func (tx *memTx) put(table store.Table, id string, e *entry) {
	writes, ok := tx.overlay[table]
	if !ok {
		writes = make(map[string]*entry)
		tx.overlay[table] = writes
	}
	writes[id] = e
}

// visible returns every live document in table, merged with the overlay.
func (tx *memTx) visible(table store.Table) map[string]*entry {
	out := make(map[string]*entry, len(tx.s.tables[table]))
	for id, e := range tx.s.tables[table] {
		out[id] = e
	}
	for id, e := range tx.overlay[table] {
		if e == nil {
			delete(out, id)
			continue
		}
		out[id] = e
	}
	return out
}

func (tx *memTx) checkUnique(table store.Table, id string, fields map[string]any) error {
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
			return err
		}
		for otherID, other := range tx.visible(table) {
			if otherID == id {
				continue
			}
			otherValues, ok := store.IndexValues(other.fields, idx, len(idx.Fields))
			if !ok {
				continue
			}
			otherKey, err := store.EncodeKey(otherValues)
			if err != nil {
				return err
			}
			if otherKey == key {
				return fmt.Errorf("%w: %s.%s", store.ErrUniqueViolation, table, idx.Name)
			}
		}
	}
	return nil
}

func (tx *memTx) Insert(_ context.Context, table store.Table, doc any) (string, error) {
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
	if err := tx.checkUnique(table, id, fields); err != nil {
		return "", err
	}
	tx.seq++
	tx.put(table, id, &entry{fields: fields, seq: tx.seq})
	return id, nil
}

func (tx *memTx) Get(_ context.Context, table store.Table, id string) (store.Record, error) {
	if err := store.CheckTable(table); err != nil {
		return store.Record{}, err
	}
	e := tx.lookup(table, id)
	if e == nil {
		return store.Record{}, fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	return record(table, id, e)
}

func (tx *memTx) Patch(_ context.Context, table store.Table, id string, patch map[string]any) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	e := tx.lookup(table, id)
	if e == nil {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	fields, err := store.ApplyPatch(e.fields, patch)
	if err != nil {
		return err
	}
	if err := tx.checkUnique(table, id, fields); err != nil {
		return err
	}
	tx.put(table, id, &entry{fields: fields, seq: e.seq})
	return nil
}

func (tx *memTx) Replace(_ context.Context, table store.Table, id string, doc any) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	e := tx.lookup(table, id)
	if e == nil {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, table, id)
	}
	fields, err := store.DocumentFields(doc)
	if err != nil {
		return err
	}
	fields[store.FieldID] = id
	fields[store.FieldCreationTime] = e.fields[store.FieldCreationTime]
	if err := tx.checkUnique(table, id, fields); err != nil {
		return err
	}
	tx.put(table, id, &entry{fields: fields, seq: e.seq})
	return nil
}

func (tx *memTx) Delete(_ context.Context, table store.Table, id string) error {
	if err := store.CheckTable(table); err != nil {
		return err
	}
	if tx.lookup(table, id) == nil {
		return nil
	}
	tx.put(table, id, nil)
	return nil
}

func (tx *memTx) Query(_ context.Context, table store.Table, index string, values ...any) ([]store.Record, error) {
	idx, err := store.LookupIndex(table, index, len(values))
	if err != nil {
		return nil, err
	}
	want, err := store.EncodeKey(values)
	if err != nil {
		return nil, err
	}

	type match struct {
		id string
		e  *entry
	}
	var matches []match
	for id, e := range tx.visible(table) {
		got, ok := store.IndexValues(e.fields, idx, len(values))
		if !ok {
			continue
		}
		key, err := store.EncodeKey(got)
		if err != nil {
			return nil, err
		}
		if key == want {
			matches = append(matches, match{id: id, e: e})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].e.seq < matches[j].e.seq })

	out := make([]store.Record, 0, len(matches))
	for _, m := range matches {
		rec, err := record(table, m.id, m.e)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func record(table store.Table, id string, e *entry) (store.Record, error) {
	body, err := json.Marshal(e.fields)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{ID: id, Table: table, Body: body}, nil
}
