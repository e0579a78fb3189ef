package resource

import (
	"sync"
)

type record struct {
	value any
	kind  Kind
}

// Table maps opaque handles to host records. It is the arena backing the
// native callable and class bridges: the engine holds handles, the table
// holds the Go values.
type Table struct {
	mu      sync.Mutex
	records map[Handle]record
	next    Handle
	closed  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		records: make(map[Handle]record),
		next:    1,
	}
}

// Insert adds a value and returns its handle. Returns 0 when the table is
// closed.
func (t *Table) Insert(kind Kind, value any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}

	h := t.next
	t.next++
	t.records[h] = record{value: value, kind: kind}
	return h
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[h]
	if !ok {
		return nil, false
	}
	return rec.value, true
}

// GetKind retrieves a value only if the record matches the expected kind.
func (t *Table) GetKind(h Handle, kind Kind) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[h]
	if !ok || rec.kind != kind {
		return nil, false
	}
	return rec.value, true
}

// Kind reports the kind of a record.
func (t *Table) Kind(h Handle) (Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[h]
	return rec.kind, ok
}

// Remove drops a record and returns (value, true) if it was present.
// If the value implements Dropper, Drop is called exactly once, outside the
// table lock. A second Remove of the same handle returns (nil, false), so
// finalizers driven by both engine GC and runtime teardown cannot double-drop.
func (t *Table) Remove(h Handle) (any, bool) {
	t.mu.Lock()
	rec, ok := t.records[h]
	if ok {
		delete(t.records, h)
	}
	t.mu.Unlock()

	if !ok {
		return nil, false
	}
	if d, isDropper := rec.value.(Dropper); isDropper {
		d.Drop()
	}
	return rec.value, true
}

// Len returns the number of active records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Drain removes every record, invoking droppers. Used at runtime teardown for
// records the engine's collector never got to.
func (t *Table) Drain() {
	t.mu.Lock()
	handles := make([]Handle, 0, len(t.records))
	for h := range t.records {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		t.Remove(h)
	}
}

// Close drains the table and rejects further inserts.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.Drain()
}
