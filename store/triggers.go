package store

import (
	"context"
	"errors"
	"fmt"
)

// Trigger observes mutations of one table. Hooks run inside the mutating
// transaction; returning an error aborts it. The tx handed to a hook does not
// fire triggers itself.
type Trigger interface {
	OnCreate(ctx context.Context, tx Tx, doc Record) error
	OnUpdate(ctx context.Context, tx Tx, newDoc, oldDoc Record) error
	OnDelete(ctx context.Context, tx Tx, id string, doc Record) error
}

// TriggerFuncs adapts plain functions to Trigger. Nil functions are skipped.
type TriggerFuncs struct {
	Create func(ctx context.Context, tx Tx, doc Record) error
	Update func(ctx context.Context, tx Tx, newDoc, oldDoc Record) error
	Delete func(ctx context.Context, tx Tx, id string, doc Record) error
}

// OnCreate calls Create when set.
func (f TriggerFuncs) OnCreate(ctx context.Context, tx Tx, doc Record) error {
	if f.Create == nil {
		return nil
	}
	return f.Create(ctx, tx, doc)
}

// OnUpdate calls Update when set.
func (f TriggerFuncs) OnUpdate(ctx context.Context, tx Tx, newDoc, oldDoc Record) error {
	if f.Update == nil {
		return nil
	}
	return f.Update(ctx, tx, newDoc, oldDoc)
}

// OnDelete calls Delete when set.
func (f TriggerFuncs) OnDelete(ctx context.Context, tx Tx, id string, doc Record) error {
	if f.Delete == nil {
		return nil
	}
	return f.Delete(ctx, tx, id, doc)
}

// Triggers maps tables to their lifecycle hooks.
type Triggers map[Table]Trigger

// WithTriggers wraps tx so that every mutation of a table with a registered
// trigger invokes it with the affected documents.
func WithTriggers(tx Tx, triggers Triggers) Tx {
	if len(triggers) == 0 {
		return tx
	}
	return &triggerTx{inner: tx, triggers: triggers}
}

type triggerTx struct {
	inner    Tx
	triggers Triggers
}

func (t *triggerTx) Insert(ctx context.Context, table Table, doc any) (string, error) {
	id, err := t.inner.Insert(ctx, table, doc)
	if err != nil {
		return "", err
	}
	trigger, ok := t.triggers[table]
	if !ok {
		return id, nil
	}
	rec, err := t.inner.Get(ctx, table, id)
	if err != nil {
		return "", err
	}
	if err := trigger.OnCreate(ctx, t.inner, rec); err != nil {
		return "", fmt.Errorf("store: %s create trigger: %w", table, err)
	}
	return id, nil
}

func (t *triggerTx) Get(ctx context.Context, table Table, id string) (Record, error) {
	return t.inner.Get(ctx, table, id)
}

func (t *triggerTx) Patch(ctx context.Context, table Table, id string, fields map[string]any) error {
	return t.update(ctx, table, id, func() error {
		return t.inner.Patch(ctx, table, id, fields)
	})
}

func (t *triggerTx) Replace(ctx context.Context, table Table, id string, doc any) error {
	return t.update(ctx, table, id, func() error {
		return t.inner.Replace(ctx, table, id, doc)
	})
}

func (t *triggerTx) update(ctx context.Context, table Table, id string, write func() error) error {
	trigger, ok := t.triggers[table]
	if !ok {
		return write()
	}
	oldDoc, err := t.inner.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := write(); err != nil {
		return err
	}
	newDoc, err := t.inner.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := trigger.OnUpdate(ctx, t.inner, newDoc, oldDoc); err != nil {
		return fmt.Errorf("store: %s update trigger: %w", table, err)
	}
	return nil
}

func (t *triggerTx) Delete(ctx context.Context, table Table, id string) error {
	trigger, ok := t.triggers[table]
	if !ok {
		return t.inner.Delete(ctx, table, id)
	}
	oldDoc, err := t.inner.Get(ctx, table, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return t.inner.Delete(ctx, table, id)
		}
		return err
	}
	if err := t.inner.Delete(ctx, table, id); err != nil {
		return err
	}
	if err := trigger.OnDelete(ctx, t.inner, id, oldDoc); err != nil {
		return fmt.Errorf("store: %s delete trigger: %w", table, err)
	}
	return nil
}

func (t *triggerTx) Query(ctx context.Context, table Table, index string, values ...any) ([]Record, error) {
	return t.inner.Query(ctx, table, index, values...)
}
