// Package resource provides the arena of host records shared with the engine.
//
// The engine never sees Go pointers. When a Go closure is wrapped as a
// JavaScript function, or a Go value is boxed as an engine object, the host
// side stores it in a Table and hands the engine an opaque Handle. On
// invocation or property access the trampoline looks the handle back up; on
// engine-side finalization the handle is removed and the record's Drop hook
// runs exactly once.
//
//	table := resource.NewTable()
//
//	h := table.Insert(resource.KindFunction, myRecord)
//
//	rec, ok := table.GetKind(h, resource.KindFunction)
//
//	table.Remove(h) // drops the record, idempotent
//
// Records must not retain context-scoped engine values beyond a single call:
// the table can outlive any individual context, and finalization order is the
// engine collector's business, not ours.
package resource
