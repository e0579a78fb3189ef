package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	quickjsruntime "github.com/wippyai/quickjs-runtime"
	"github.com/wippyai/quickjs-runtime/engine"
	"github.com/wippyai/quickjs-runtime/errors"
	"github.com/wippyai/quickjs-runtime/resource"
)

// Loader resolves a module specifier to source text. Returning an error makes
// the script-side require() throw a module-not-found error.
type Loader func(specifier string) (source string, err error)

// Config holds configuration for Runtime creation. The zero value is usable.
type Config struct {
	// MemoryLimit caps the engine heap in bytes. 0 means unlimited.
	MemoryLimit uint32

	// MaxStackSize caps script stack usage in bytes. 0 keeps the engine
	// default.
	MaxStackSize uint32

	// MemoryLimitPages caps the WASM instance's linear memory in 64KB pages.
	// This bounds everything including the engine's own code and scratch
	// space; MemoryLimit bounds only the script heap.
	MemoryLimitPages uint32

	// NonBlocking makes engine entry from a second goroutine fail fast with
	// a would-block error instead of waiting for the current entry to
	// finish.
	NonBlocking bool

	// CloseOnContextDone aborts in-flight evaluation when the Go context
	// passed to it is cancelled. The abort destroys the engine instance;
	// the Runtime is unusable afterwards.
	CloseOnContextDone bool

	// Loader backs the script-side require() hook.
	Loader Loader

	// Console receives console.log output.
	Console func(msg string)

	// EngineWASM overrides the embedded engine build.
	EngineWASM []byte

	// Allocator overrides the scratch allocator used for marshalling.
	Allocator quickjsruntime.Allocator
}

// Runtime owns one engine instance and its heap. Contexts created from the
// same Runtime share that heap and may exchange values; values never cross
// Runtimes. A Runtime serializes engine entry through its guard, so a single
// Runtime is safe to share between goroutines.
type Runtime struct {
	bridge *engine.Bridge
	handle uint32
	guard  *guard
	arena  *resource.Table
	loader Loader

	mu       sync.Mutex
	contexts map[uint32]*Context
	closed   bool
}

// New creates a Runtime: instantiates the engine, allocates an engine-side
// runtime, and applies limits from cfg.
func New(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	r := &Runtime{
		guard:    newGuard(cfg.NonBlocking),
		arena:    resource.NewTable(),
		loader:   cfg.Loader,
		contexts: make(map[uint32]*Context),
	}

	bridge, err := engine.New(ctx, &engine.Config{
		EngineWASM:         cfg.EngineWASM,
		MemoryLimitPages:   cfg.MemoryLimitPages,
		CloseOnContextDone: cfg.CloseOnContextDone,
		Console:            cfg.Console,
		Allocator:          cfg.Allocator,
	}, r)
	if err != nil {
		return nil, errors.Load("instantiate engine", err)
	}
	r.bridge = bridge

	rtHandle, err := bridge.NewRuntime(ctx)
	if err != nil {
		_ = bridge.Close(ctx)
		return nil, errors.Load("create engine runtime", err)
	}
	r.handle = rtHandle

	if cfg.MemoryLimit > 0 {
		if err := bridge.SetMemoryLimit(ctx, rtHandle, cfg.MemoryLimit); err != nil {
			_ = bridge.Close(ctx)
			return nil, errors.Load("set memory limit", err)
		}
	}
	if cfg.MaxStackSize > 0 {
		if err := bridge.SetMaxStackSize(ctx, rtHandle, cfg.MaxStackSize); err != nil {
			_ = bridge.Close(ctx)
			return nil, errors.Load("set max stack size", err)
		}
	}

	return r, nil
}

// NewContext creates an execution context on the Runtime's heap and installs
// the support prelude (finalization registry, class helpers, require hook).
func (r *Runtime) NewContext(ctx context.Context) (*Context, error) {
	if err := r.guard.enter(); err != nil {
		return nil, err
	}
	defer r.guard.exit()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.Closed(errors.PhaseRuntime, "runtime")
	}
	r.mu.Unlock()

	handle, err := r.bridge.NewContext(ctx, r.handle)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInternal, err, "create context")
	}

	c := &Context{
		rt:     r,
		handle: handle,
		live:   make(map[uint32]struct{}),
	}

	if err := r.bridge.AddConsole(ctx, handle); err != nil {
		_ = r.bridge.FreeContext(ctx, handle)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInternal, err, "install console")
	}

	if err := c.installPrelude(ctx); err != nil {
		_ = r.bridge.FreeContext(ctx, handle)
		return nil, err
	}

	r.mu.Lock()
	r.contexts[handle] = c
	r.mu.Unlock()

	return c, nil
}

// Close frees the engine runtime and the underlying WASM instance. It fails
// with a lifecycle error while contexts are still open; callers close
// contexts first so teardown order stays deterministic. Host records still in
// the arena (functions or instances the engine GC never collected) are
// dropped exactly once.
func (r *Runtime) Close(ctx context.Context) error {
	if err := r.guard.enter(); err != nil {
		return err
	}
	defer r.guard.exit()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if n := len(r.contexts); n > 0 {
		r.mu.Unlock()
		return errors.Lifecycle("cannot close runtime: %d context(s) still open", n)
	}
	r.closed = true
	r.mu.Unlock()

	r.arena.Close()

	if err := r.bridge.FreeRuntime(ctx, r.handle); err != nil {
		engine.Logger().Warn("free engine runtime", zap.Error(err))
	}
	return r.bridge.Close(ctx)
}

// RunGC forces an engine garbage collection pass. Finalizer callbacks queued
// by collection run on the next ExecutePendingJobs.
func (r *Runtime) RunGC(ctx context.Context) error {
	if err := r.guard.enter(); err != nil {
		return err
	}
	defer r.guard.exit()

	if r.isClosed() {
		return errors.Closed(errors.PhaseRuntime, "runtime")
	}
	return r.bridge.RunGC(ctx, r.handle)
}

// ExecutePendingJobs drains the engine's job queue: promise reactions and
// finalization registry callbacks. Returns the number of jobs executed.
func (r *Runtime) ExecutePendingJobs(ctx context.Context) (int, error) {
	if err := r.guard.enter(); err != nil {
		return 0, err
	}
	defer r.guard.exit()

	if r.isClosed() {
		return 0, errors.Closed(errors.PhaseRuntime, "runtime")
	}
	n, err := r.bridge.ExecutePendingJobs(ctx, r.handle)
	if err != nil {
		return n, errors.Wrap(errors.PhaseRuntime, errors.KindInternal, err, "execute pending jobs")
	}
	return n, nil
}

// MemoryUsage is a snapshot of the runtime's resource footprint.
type MemoryUsage struct {
	// HeapBytes is the engine heap's current usage, scratch regions
	// included. WASM linear memory only grows, so this can stay below
	// the mapped memory size after churn.
	HeapBytes uint64

	// LiveRecords counts host records (functions, class definitions and
	// instances, prelude hooks) the arena is holding.
	LiveRecords int
}

// MemoryUsage reports current engine and arena usage.
func (r *Runtime) MemoryUsage(ctx context.Context) (MemoryUsage, error) {
	if err := r.guard.enter(); err != nil {
		return MemoryUsage{}, err
	}
	defer r.guard.exit()

	if r.isClosed() {
		return MemoryUsage{}, errors.Closed(errors.PhaseRuntime, "runtime")
	}
	heap, err := r.bridge.HeapSize(ctx)
	if err != nil {
		return MemoryUsage{}, errors.Wrap(errors.PhaseRuntime, errors.KindInternal, err, "read heap size")
	}
	return MemoryUsage{
		HeapBytes:   uint64(heap),
		LiveRecords: r.arena.Len(),
	}, nil
}

// LiveRecords reports how many host records (functions, class definitions
// and instances, prelude hooks) are currently held.
func (r *Runtime) LiveRecords() int {
	return r.arena.Len()
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runtime) contextFor(handle uint32) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[handle]
}

func (r *Runtime) dropContext(handle uint32) {
	r.mu.Lock()
	delete(r.contexts, handle)
	r.mu.Unlock()
}
