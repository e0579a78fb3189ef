// Package runtime provides the high-level QuickJS embedding API.
//
// A Runtime owns one engine instance and its heap; Contexts created from it
// evaluate script and exchange values. Values are owned handles tagged with
// their Context: operations on a Value from another Context fail with a
// cross_context error instead of corrupting the engine.
//
// # Basic Usage
//
//	rt, err := runtime.New(ctx, nil)
//	if err != nil { ... }
//	defer rt.Close(ctx)
//
//	c, err := rt.NewContext(ctx)
//	if err != nil { ... }
//	defer c.Close(ctx)
//
//	v, err := c.Eval(ctx, "1 + 1", "")
//	if err != nil { ... }
//	defer v.Free(ctx)
//
//	n, _ := v.Int32(ctx) // 2
//
// # Host Functions
//
// Go closures become script functions through Context.Function. The engine
// never sees a Go pointer, only an opaque record id; the record is released
// when the engine collects the function object or when the Runtime closes.
// A Go error return surfaces in script as a thrown exception; a panic is
// recovered, logged, and thrown as an internal error.
//
// # Host Classes
//
// Runtime.RegisterClass plus Context.WrapInstance expose Go values as script
// objects with accessor properties and methods. Unwrap recovers the typed Go
// value on the way back.
//
// # Concurrency
//
// A Runtime serializes engine entry: one goroutine at a time, with free
// re-entry for host callbacks calling back into their Context. With
// Config.NonBlocking, contended entry fails fast with a would_block error
// instead of waiting.
//
// # Ownership
//
// Every Value returned by this package is owned by the caller and released
// with Free. Free is idempotent; Context.Close sweeps whatever was never
// freed; Runtime.Close refuses to run while contexts are still open.
package runtime
