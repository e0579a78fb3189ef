package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Gaurav-Gosain/quickjs/wasm"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	quickjsruntime "github.com/wippyai/quickjs-runtime"
)

// Global compilation cache. Compiling the QuickJS module takes hundreds of
// milliseconds; the cache makes every bridge after the first cheap.
var (
	globalCache     wazero.CompilationCache
	globalCacheOnce sync.Once
)

// Dispatcher receives trampoline entries from the engine. The runtime package
// implements it; the engine package only routes raw handles.
type Dispatcher interface {
	// CallHostFunction invokes host record fnID with raw engine value handles
	// and returns the handle of the result. On failure the implementation is
	// expected to have thrown into the engine and to return the exception
	// sentinel handle.
	CallHostFunction(ctx context.Context, jsCtx uint32, fnID uint32, args []uint32) uint32
}

// Config holds configuration for bridge creation.
type Config struct {
	// EngineWASM overrides the embedded QuickJS-ng build. The binary must
	// export the same qjs_* surface.
	EngineWASM []byte

	// MemoryLimitPages caps the engine instance's linear memory in 64KB
	// pages. 0 means the wazero default (4GB).
	MemoryLimitPages uint32

	// CloseOnContextDone aborts in-flight engine calls when the Go context
	// passed to them is cancelled. The abort tears down the instance, so it
	// is cooperative cancellation of last resort, not a pause.
	CloseOnContextDone bool

	// Console receives console.log output from script. Defaults to the
	// package logger at info level.
	Console func(msg string)

	// Allocator overrides the scratch allocator used for marshalling.
	// Defaults to the engine's own heap via qjs_alloc/qjs_free.
	Allocator quickjsruntime.Allocator
}

// Bridge owns one instantiation of the QuickJS WASM module and exposes its
// C API as Go methods. All methods take raw uint32 handles; ownership and
// context discipline live a layer up.
type Bridge struct {
	runtime    wazero.Runtime
	module     api.Module
	memory     api.Memory
	alloc      quickjsruntime.Allocator
	dispatcher Dispatcher
	console    func(string)
	fn         fnTable
}

// New instantiates the engine. The dispatcher must be non-nil if host
// functions will ever be registered; it is fixed for the bridge's lifetime so
// trampoline dispatch needs no synchronization.
func New(ctx context.Context, cfg *Config, dispatcher Dispatcher) (*Bridge, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	b := &Bridge{
		dispatcher: dispatcher,
		console:    cfg.Console,
	}
	if b.console == nil {
		b.console = func(msg string) {
			Logger().Info("console", zap.String("msg", msg))
		}
	}

	globalCacheOnce.Do(func() {
		globalCache = wazero.NewCompilationCache()
	})

	runtimeCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithDebugInfoEnabled(false)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	b.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	// The QuickJS build expects WASI for clocks and abort paths.
	wasi_snapshot_preview1.MustInstantiate(ctx, b.runtime)

	// Host module must exist before the engine instantiates: the engine
	// imports host_call_go (function trampoline) and host_log (console).
	_, err := b.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(b.hostLog).
		Export("host_log").
		NewFunctionBuilder().
		WithFunc(b.hostCallGo).
		Export("host_call_go").
		Instantiate(ctx)
	if err != nil {
		_ = b.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	engineWASM := cfg.EngineWASM
	if engineWASM == nil {
		engineWASM = wasm.QuickJS
	}

	compiled, err := b.runtime.CompileModule(ctx, engineWASM)
	if err != nil {
		_ = b.runtime.Close(ctx)
		return nil, fmt.Errorf("compile engine module: %w", err)
	}

	b.module, err = b.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		_ = b.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate engine module: %w", err)
	}

	b.memory = b.module.Memory()
	if b.memory == nil {
		_ = b.runtime.Close(ctx)
		return nil, fmt.Errorf("engine module exports no memory")
	}

	if err := b.fn.resolve(b.module); err != nil {
		_ = b.runtime.Close(ctx)
		return nil, err
	}

	if cfg.Allocator != nil {
		b.alloc = cfg.Allocator
	} else {
		b.alloc = &heapAllocator{b: b}
	}

	return b, nil
}

// Close releases the wazero runtime and with it the engine instance.
func (b *Bridge) Close(ctx context.Context) error {
	return b.runtime.Close(ctx)
}

// Memory returns the engine's linear memory.
func (b *Bridge) Memory() quickjsruntime.Memory {
	return memoryAdapter{b.memory}
}

// Allocator returns the scratch allocator in use.
func (b *Bridge) Allocator() quickjsruntime.Allocator {
	return b.alloc
}

// SetConsole replaces the console sink.
func (b *Bridge) SetConsole(fn func(string)) {
	if fn != nil {
		b.console = fn
	}
}

// hostLog is the engine's console output import.
func (b *Bridge) hostLog(_ context.Context, m api.Module, bufPtr, bufLen uint32) {
	buf, ok := m.Memory().Read(bufPtr, bufLen)
	if !ok {
		return
	}
	b.console(string(buf))
}

// hostCallGo is the trampoline import: the engine calls it whenever a
// host-backed function object is invoked. argvPtr points at argc little-endian
// value handles in linear memory.
func (b *Bridge) hostCallGo(ctx context.Context, m api.Module, jsCtx, fnID uint32, argc int32, argvPtr uint32) uint32 {
	args := make([]uint32, 0, argc)
	if argc > 0 && argvPtr != 0 {
		buf, ok := m.Memory().Read(argvPtr, uint32(argc)*4)
		if !ok {
			Logger().Error("trampoline argv out of bounds",
				zap.Uint32("argv", argvPtr), zap.Int32("argc", argc))
			h, _ := b.NewUndefined(ctx)
			return h
		}
		for i := int32(0); i < argc; i++ {
			args = append(args, binary.LittleEndian.Uint32(buf[i*4:]))
		}
	}

	if b.dispatcher == nil {
		Logger().Error("host function invoked with no dispatcher", zap.Uint32("fn", fnID))
		h, _ := b.NewUndefined(ctx)
		return h
	}
	return b.dispatcher.CallHostFunction(ctx, jsCtx, fnID, args)
}
