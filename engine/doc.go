// Package engine provides the low-level QuickJS WebAssembly bridge.
//
// This package wraps wazero to instantiate a QuickJS-ng build compiled to
// WASM and exposes the engine's exported C API (the qjs_* surface) as Go
// methods on Bridge. Everything here speaks raw uint32 handles: runtime
// pointers, context pointers, and value handles inside the engine instance's
// linear memory. Ownership, reference counting discipline, and the public
// Value type live in the runtime package one layer up.
//
// # Architecture
//
//	Bridge       - One instantiated engine module plus its resolved exports
//	fnTable      - The qjs_* export table, resolved once at instantiation
//	Dispatcher   - Callback interface for the host function trampoline
//	Allocator    - Scratch allocation inside engine linear memory
//
// # Host Imports
//
// The engine module imports two functions from the "env" host module:
//
//	host_log(ptr, len)                      - console output
//	host_call_go(ctx, fnID, argc, argvPtr)  - host function trampoline
//
// host_call_go fires whenever script invokes a function object created with
// NewCFunction. The bridge decodes argc little-endian value handles from
// linear memory and routes them to the Dispatcher; the engine never holds a
// Go pointer, only the integer record id.
//
// # Marshalling
//
// Strings and argument vectors cross the boundary through scratch regions
// obtained from the Allocator, written, passed by pointer, and freed after
// the call returns. The default allocator borrows the engine's own heap via
// qjs_alloc/qjs_free so scratch memory is governed by the same limit as the
// heap the scripts run on.
package engine
