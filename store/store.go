package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Tx.Get, Tx.Patch and Tx.Replace when the document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrUniqueViolation is returned when a write would break a unique index.
	ErrUniqueViolation = errors.New("store: unique index violation")
	// ErrUnknownTable is returned for tables that are not part of Schema.
	ErrUnknownTable = errors.New("store: unknown table")
	// ErrUnknownIndex is returned for indexes that are not declared on the table.
	ErrUnknownIndex = errors.New("store: unknown index")
	// ErrIndexArity is returned when a query supplies more values than the index has fields.
	ErrIndexArity = errors.New("store: too many index values")
	// ErrConflict is returned when a backend could not commit after exhausting its retries.
	ErrConflict = errors.New("store: transaction conflict")
)

// Reserved document fields managed by every backend.
const (
	FieldID           = "_id"
	FieldCreationTime = "_creationTime"
)

// Record is one stored document. Body always contains the reserved _id and
// _creationTime fields.
type Record struct {
	ID    string
	Table Table
	Body  json.RawMessage
}

// Decode unmarshals the document body into v.
func (r Record) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("store: empty document %s/%s", r.Table, r.ID)
	}
	return json.Unmarshal(r.Body, v)
}

// Fields returns the document as a generic field map.
func (r Record) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if err := r.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Tx is the set of operations available inside one transaction. All reads
// observe the transaction's own earlier writes.
//
// A nil value in a Patch field map removes that field from the document.
type Tx interface {
	Insert(ctx context.Context, table Table, doc any) (string, error)
	Get(ctx context.Context, table Table, id string) (Record, error)
	Patch(ctx context.Context, table Table, id string, fields map[string]any) error
	Replace(ctx context.Context, table Table, id string, doc any) error
	Delete(ctx context.Context, table Table, id string) error
	// Query returns documents whose leading index fields equal values, ordered
	// by insertion.
	Query(ctx context.Context, table Table, index string, values ...any) ([]Record, error)
}

// Store runs serializable transactions. An error returned by fn rolls the
// transaction back and is returned unchanged.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Load fetches a document by id and decodes it. A missing document yields (nil, nil).
func Load[T any](ctx context.Context, tx Tx, table Table, id string) (*T, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := tx.Get(ctx, table, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out T
	if err := rec.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Find runs an index query and decodes every result.
func Find[T any](ctx context.Context, tx Tx, table Table, index string, values ...any) ([]T, error) {
	recs, err := tx.Query(ctx, table, index, values...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var item T
		if err := rec.Decode(&item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// First returns the first index match, or nil when nothing matches.
func First[T any](ctx context.Context, tx Tx, table Table, index string, values ...any) (*T, error) {
	items, err := Find[T](ctx, tx, table, index, values...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
