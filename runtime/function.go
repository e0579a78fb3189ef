package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-runtime/engine"
	"github.com/wippyai/quickjs-runtime/errors"
	"github.com/wippyai/quickjs-runtime/resource"
)

// Func is a Go function callable from script. args are borrowed for the
// duration of the call; the returned Value's ownership transfers to the
// engine. Returning an error makes the script-side call throw.
type Func func(ctx context.Context, c *Context, this Value, args []Value) (Value, error)

// funcRecord is an arena record backing a function object. The engine holds
// only the record's opaque handle; the closure never crosses the boundary.
type funcRecord struct {
	ctx  *Context
	name string
	fn   Func
}

func (r *funcRecord) Drop() {
	r.fn = nil
}

// rawFunc is the internal flavor used by the prelude hooks: it sees raw
// engine handles and manages ownership itself.
type rawFunc struct {
	ctx *Context
	fn  func(ctx context.Context, args []uint32) (uint32, error)
}

func (r *rawFunc) Drop() {}

// Function creates a script function object backed by fn. The name shows up
// in stack traces. The record is released when the engine garbage-collects
// the function object, or at Runtime.Close at the latest.
func (c *Context) Function(ctx context.Context, name string, fn Func) (Value, error) {
	if fn == nil {
		return Value{}, errors.InvalidInput(errors.PhaseCall, "nil function")
	}
	if err := c.rt.guard.enter(); err != nil {
		return Value{}, err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return Value{}, err
	}

	rec := &funcRecord{ctx: c, name: name, fn: fn}
	id := c.rt.arena.Insert(resource.KindFunction, rec)
	if id == 0 {
		return Value{}, errors.Closed(errors.PhaseCall, "runtime")
	}

	raw, err := c.rt.bridge.NewCFunction(ctx, c.handle, uint32(id), name, -1)
	if err != nil {
		c.rt.arena.Remove(id)
		return Value{}, c.engineFault(ctx, errors.PhaseCall, err, "bind function")
	}

	// The engine trampoline carries arguments only; the prelude wrapper
	// forwards the receiver as slot 0 and registers the record for
	// finalization.
	idNum, err := c.rt.bridge.NewInt32(ctx, int32(id))
	if err != nil {
		c.rt.arena.Remove(id)
		return Value{}, c.engineFault(ctx, errors.PhaseCall, err, "bind function")
	}
	wrapped, err := c.callGlobal(ctx, "__qjs_bindthis", raw, idNum)
	_ = c.rt.bridge.FreeValue(ctx, c.handle, raw)
	_ = c.rt.bridge.FreeValue(ctx, c.handle, idNum)
	if err != nil {
		c.rt.arena.Remove(id)
		return Value{}, err
	}
	return c.result(ctx, errors.PhaseCall, wrapped)
}

// rawFunction creates a function object for a prelude hook. Guard must be
// held. The returned handle is untracked; the caller decides its fate.
func (c *Context) rawFunction(ctx context.Context, name string, fn func(ctx context.Context, args []uint32) (uint32, error)) (uint32, error) {
	rec := &rawFunc{ctx: c, fn: fn}
	id := c.rt.arena.Insert(resource.KindInternal, rec)
	if id == 0 {
		return 0, errors.Closed(errors.PhaseCall, "runtime")
	}

	h, err := c.rt.bridge.NewCFunction(ctx, c.handle, uint32(id), name, -1)
	if err != nil {
		c.rt.arena.Remove(id)
		return 0, errors.Wrap(errors.PhaseCall, errors.KindInternal, err, "bind hook")
	}
	return h, nil
}

// CallHostFunction is the trampoline target: the engine bridge routes every
// host function invocation here. It must always return a valid engine handle,
// throwing into the engine on failure rather than returning an error.
func (r *Runtime) CallHostFunction(ctx context.Context, jsCtx uint32, fnID uint32, args []uint32) (out uint32) {
	c := r.contextFor(jsCtx)

	defer func() {
		if rec := recover(); rec != nil {
			engine.Logger().Error("host function panic",
				zap.Uint32("fn", fnID), zap.Any("panic", rec))
			out = r.throwInternal(ctx, jsCtx, "internal error in host function")
		}
	}()

	record, ok := r.arena.Get(resource.Handle(fnID))
	if !ok {
		engine.Logger().Error("host function record missing", zap.Uint32("fn", fnID))
		return r.throwInternal(ctx, jsCtx, "host function no longer exists")
	}

	switch rec := record.(type) {
	case *rawFunc:
		h, err := rec.fn(ctx, args)
		if err != nil {
			return r.throwErr(ctx, jsCtx, err)
		}
		return h

	case *funcRecord:
		if c == nil {
			return r.throwInternal(ctx, jsCtx, "host function called on unknown context")
		}
		return c.invokeHostFunc(ctx, rec, args)

	case *instanceRecord:
		if c == nil {
			return r.throwInternal(ctx, jsCtx, "host instance called on unknown context")
		}
		return c.invokeInstanceCall(ctx, rec, args)

	default:
		kind, _ := r.arena.Kind(resource.Handle(fnID))
		engine.Logger().Error("host record is not callable",
			zap.Uint32("fn", fnID), zap.Stringer("kind", kind))
		return r.throwInternal(ctx, jsCtx, "host record is not callable")
	}
}

// invokeHostFunc adapts raw handles to Values, runs the closure, and moves
// the result (or error) back across the boundary. Runs with the guard held
// by the outer engine entry.
func (c *Context) invokeHostFunc(ctx context.Context, rec *funcRecord, raw []uint32) uint32 {
	this := Value{}
	vals := make([]Value, 0, len(raw))
	if len(raw) > 0 {
		// Slot 0 is the receiver; the rest are arguments. Borrowed, not
		// tracked: the engine owns these references.
		this = Value{ctx: c, handle: raw[0]}
		for _, h := range raw[1:] {
			vals = append(vals, Value{ctx: c, handle: h})
		}
	}

	result, err := rec.fn(ctx, c, this, vals)
	if err != nil {
		return c.rt.throwErr(ctx, c.handle, err)
	}
	return c.finishHostReturn(ctx, result)
}

// throwErr surfaces a Go error to script as a thrown exception and returns
// the exception sentinel handle.
func (r *Runtime) throwErr(ctx context.Context, jsCtx uint32, err error) uint32 {
	h, terr := r.bridge.ThrowError(ctx, jsCtx, err.Error())
	if terr != nil {
		engine.Logger().Error("throw into engine", zap.Error(terr))
		und, _ := r.bridge.NewUndefined(ctx)
		return und
	}
	return h
}

func (r *Runtime) throwInternal(ctx context.Context, jsCtx uint32, msg string) uint32 {
	return r.throwErr(ctx, jsCtx, errors.Internal(errors.PhaseCall, nil, msg))
}
