// Package quickjsruntime provides a memory-safe Go embedding layer for the
// QuickJS-ng JavaScript engine.
//
// The engine is a stock QuickJS-ng build compiled to WebAssembly and executed
// in-process through wazero, so the package is pure Go: no cgo, no shared
// libraries, no platform-specific build steps. The binding layer guarantees
// that engine-owned heap references and Go-owned values cannot be confused:
// every script value is an opaque handle scoped to the context that produced
// it, and every host closure the engine can call is reached through an opaque
// record id rather than a Go pointer.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	quickjsruntime/      Root package with Memory and Allocator interfaces
//	├── runtime/         High-level API: Runtime, Context, Value, conversion,
//	│                    host functions, host classes, exceptions
//	├── engine/          Low-level wazero integration with the QuickJS
//	│                    WASM build and its exported C API
//	├── resource/        Arena of host records (closures, class instances)
//	│                    indexed by opaque handles
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Evaluate a script and read the result:
//
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	jsCtx, err := rt.NewContext(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer jsCtx.Close(ctx)
//
//	v, err := jsCtx.Eval(ctx, "1 + 1", "<eval>")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, _ := v.Int32(ctx)
//	fmt.Println(n) // 2
//
// # Host Functions
//
// Go closures become ordinary JavaScript functions. Errors returned by the
// closure are thrown into the engine, so script-side try/catch behaves the
// same whether the throw originated in script or in Go:
//
//	add, _ := jsCtx.Function(ctx, "add",
//	    func(ctx context.Context, c *runtime.Context, this runtime.Value, args []runtime.Value) (runtime.Value, error) {
//	        a, _ := args[0].Int32(ctx)
//	        b, _ := args[1].Int32(ctx)
//	        return c.ToValue(ctx, a+b)
//	    })
//	jsCtx.SetGlobal(ctx, "add", add)
//
// # Thread Safety
//
// A Runtime and everything derived from it is guarded by a reentrancy lock:
// only one goroutine executes engine code at a time, while a host closure may
// freely call back into its own context on the same goroutine. Cross-goroutine
// callers either block or fail fast with a would_block error, depending on
// Config.NonBlocking.
//
// # Memory Model
//
// Script values are reference counted by the engine. Each Value holds exactly
// one reference, released by Value.Free or, at the latest, when its owning
// context closes. WASM linear memory can only grow, never shrink; long-running
// embedders that churn large heaps should recycle runtimes periodically.
package quickjsruntime
