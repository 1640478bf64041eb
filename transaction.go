package clawstore

import (
	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/wal"
)

// Transaction batches Put/Delete operations for atomic commit (spec
// §4.5): all records in a transaction are assigned contiguous LSNs and
// become durable together via a single WaitDurable wait. A Transaction
// is not safe for concurrent use by multiple goroutines; commit it and
// start a new one.
type Transaction struct {
	engine *Engine
	ops    []*wal.Record
	done   bool
}

// BeginTransaction starts a new batch of staged writes against the
// engine.
func (e *Engine) BeginTransaction() *Transaction {
	return &Transaction{engine: e}
}

// maxTableNameBytes matches the table name's short ASCII requirement
// and the WAL record's table_len:u8 field, which cannot represent a
// name longer than 255 bytes.
const maxTableNameBytes = 32

func validateTableName(table string) error {
	if len(table) == 0 {
		return &clawerrors.InvalidArgumentError{Reason: "table name must not be empty"}
	}
	if len(table) > maxTableNameBytes {
		return &clawerrors.InvalidArgumentError{Reason: "table name exceeds 32 bytes"}
	}
	for i := 0; i < len(table); i++ {
		if table[i] > 127 {
			return &clawerrors.InvalidArgumentError{Reason: "table name must be ASCII"}
		}
	}
	return nil
}

func (e *Engine) validateKV(table string, key, value []byte) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	if len(key) == 0 {
		return &clawerrors.InvalidArgumentError{Reason: "key must not be empty"}
	}
	if len(key) > e.cfg.MaxKeyBytes {
		return &clawerrors.InvalidArgumentError{Reason: "key exceeds max_key_bytes"}
	}
	if len(value) > e.cfg.MaxValueBytes {
		return &clawerrors.InvalidArgumentError{Reason: "value exceeds max_value_bytes"}
	}
	return nil
}

// Put stages a write of key=value in table. The write is invisible to
// other readers until Commit succeeds.
func (t *Transaction) Put(table string, key, value []byte) error {
	if t.done {
		return &clawerrors.ClosedError{Resource: "transaction"}
	}
	if err := t.engine.validateKV(table, key, value); err != nil {
		return err
	}
	t.ops = append(t.ops, &wal.Record{
		Table: table,
		Op:    wal.OpPut,
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	return nil
}

// Delete stages a tombstone for key in table, even if no value for key
// is currently known (spec §8: "deleting a never-written key still
// creates a durable tombstone").
func (t *Transaction) Delete(table string, key []byte) error {
	if t.done {
		return &clawerrors.ClosedError{Resource: "transaction"}
	}
	if err := t.engine.validateKV(table, key, nil); err != nil {
		return err
	}
	t.ops = append(t.ops, &wal.Record{
		Table: table,
		Op:    wal.OpDelete,
		Key:   append([]byte(nil), key...),
	})
	return nil
}

// Commit assigns LSNs to every staged op, appends them to the WAL as
// one contiguous batch, waits for the group-commit durability barrier,
// and only then applies the ops to the in-memory index — readers never
// observe a write that is not yet durable (spec invariant 2).
func (t *Transaction) Commit() error {
	if t.done {
		return &clawerrors.ClosedError{Resource: "transaction"}
	}
	t.done = true

	if len(t.ops) == 0 {
		return nil
	}

	return t.engine.commit(t.ops)
}

// Put is a convenience single-op transaction.
func (e *Engine) Put(table string, key, value []byte) error {
	tx := e.BeginTransaction()
	if err := tx.Put(table, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete is a convenience single-op transaction.
func (e *Engine) Delete(table string, key []byte) error {
	tx := e.BeginTransaction()
	if err := tx.Delete(table, key); err != nil {
		return err
	}
	return tx.Commit()
}
