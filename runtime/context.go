package runtime

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-runtime/engine"
	"github.com/wippyai/quickjs-runtime/errors"
)

// Context is an execution context: a global object plus the machinery to
// evaluate script and exchange values with it. Contexts are cheap relative
// to Runtimes; values are tagged with their owning Context and refuse to
// cross into another one.
type Context struct {
	rt     *Runtime
	handle uint32

	mu     sync.Mutex
	live   map[uint32]struct{}
	closed bool

	// methodCache holds per-class shared method function handles.
	methodCache map[ClassID]map[string]uint32
}

// Runtime returns the owning runtime.
func (c *Context) Runtime() *Runtime {
	return c.rt
}

// Eval evaluates source as a classic script in global scope. filename shows
// up in stack traces; "" defaults to "<eval>". The result is a live Value
// the caller owns.
func (c *Context) Eval(ctx context.Context, source, filename string) (Value, error) {
	if err := c.rt.guard.enter(); err != nil {
		return Value{}, err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return Value{}, err
	}
	if filename == "" {
		filename = "<eval>"
	}

	h, err := c.rt.bridge.Eval(ctx, c.handle, source, filename, 0)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseEval, err, "eval")
	}
	return c.result(ctx, errors.PhaseEval, h)
}

// EvalModule evaluates source as an ES module. Top-level bindings stay inside
// the module; the returned Value is the completion value.
func (c *Context) EvalModule(ctx context.Context, source, filename string) (Value, error) {
	if err := c.rt.guard.enter(); err != nil {
		return Value{}, err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return Value{}, err
	}
	if filename == "" {
		filename = "<module>"
	}

	h, err := c.rt.bridge.EvalModule(ctx, c.handle, source, filename)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseEval, err, "eval module")
	}
	return c.result(ctx, errors.PhaseEval, h)
}

// Global returns the global object. The caller owns the returned Value.
func (c *Context) Global(ctx context.Context) (Value, error) {
	if err := c.rt.guard.enter(); err != nil {
		return Value{}, err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return Value{}, err
	}

	h, err := c.rt.bridge.GlobalObject(ctx, c.handle)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseRuntime, err, "global object")
	}
	return c.track(h), nil
}

// SetGlobal converts v through the conversion protocol and installs it as a
// global property.
func (c *Context) SetGlobal(ctx context.Context, name string, v any) error {
	val, err := c.ToValue(ctx, v)
	if err != nil {
		return err
	}
	defer val.Free(ctx)

	global, err := c.Global(ctx)
	if err != nil {
		return err
	}
	defer global.Free(ctx)

	return global.Set(ctx, name, val)
}

// GetGlobal reads a global property. The caller owns the returned Value.
func (c *Context) GetGlobal(ctx context.Context, name string) (Value, error) {
	global, err := c.Global(ctx)
	if err != nil {
		return Value{}, err
	}
	defer global.Free(ctx)

	return global.Get(ctx, name)
}

// Throw marks v as the context's pending exception. Only meaningful inside a
// host callback; the trampoline hands the pending exception back to script.
func (c *Context) Throw(ctx context.Context, v Value) error {
	if err := c.rt.guard.enter(); err != nil {
		return err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return err
	}
	if v.ctx != c {
		return errors.CrossContext(errors.PhaseCall, "thrown value belongs to a different context")
	}
	_, err := c.rt.bridge.Throw(ctx, c.handle, v.handle)
	return err
}

// ThrowError marks a plain Error with the given message as pending.
func (c *Context) ThrowError(ctx context.Context, msg string) error {
	if err := c.rt.guard.enter(); err != nil {
		return err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return err
	}
	_, err := c.rt.bridge.ThrowError(ctx, c.handle, msg)
	return err
}

// Close releases every value still live in the context, then frees the
// engine context. Closing twice is a no-op.
func (c *Context) Close(ctx context.Context) error {
	if err := c.rt.guard.enter(); err != nil {
		return err
	}
	defer c.rt.guard.exit()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stragglers := make([]uint32, 0, len(c.live))
	for h := range c.live {
		stragglers = append(stragglers, h)
	}
	c.live = nil
	c.mu.Unlock()

	for _, h := range stragglers {
		if err := c.rt.bridge.FreeValue(ctx, c.handle, h); err != nil {
			engine.Logger().Warn("free straggler value", zap.Uint32("handle", h), zap.Error(err))
		}
	}

	c.rt.dropContext(c.handle)

	if err := c.rt.bridge.FreeContext(ctx, c.handle); err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindInternal, err, "free context")
	}
	return nil
}

// check must run with the guard held.
func (c *Context) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Closed(errors.PhaseRuntime, "context")
	}
	if c.rt.isClosed() {
		return errors.Closed(errors.PhaseRuntime, "runtime")
	}
	return nil
}

// track registers a fresh engine handle as a live value owned by this
// context.
func (c *Context) track(h uint32) Value {
	c.mu.Lock()
	if c.live != nil {
		c.live[h] = struct{}{}
	}
	c.mu.Unlock()
	return Value{ctx: c, handle: h}
}

func (c *Context) untrack(h uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return false
	}
	if _, ok := c.live[h]; !ok {
		return false
	}
	delete(c.live, h)
	return true
}

// result wraps an engine call result: exception sentinels are drained into
// an error, everything else becomes a tracked Value.
func (c *Context) result(ctx context.Context, phase errors.Phase, h uint32) (Value, error) {
	isExc, err := c.rt.bridge.IsException(ctx, h)
	if err != nil {
		return Value{}, c.engineFault(ctx, phase, err, "inspect result")
	}
	if isExc {
		return Value{}, c.drainException(ctx, phase)
	}
	return c.track(h), nil
}

// drainException pulls the pending exception out of the context and shapes
// it into a structured error. The pending slot is always cleared.
func (c *Context) drainException(ctx context.Context, phase errors.Phase) error {
	excHandle, err := c.rt.bridge.GetException(ctx, c.handle)
	if err != nil {
		return c.engineFault(ctx, phase, err, "fetch exception")
	}

	exc := c.readException(ctx, excHandle)

	if err := c.rt.bridge.FreeValue(ctx, c.handle, excHandle); err != nil {
		engine.Logger().Warn("free exception value", zap.Error(err))
	}

	kind := errors.KindException
	if exc.Syntax() {
		kind = errors.KindSyntaxError
	}
	return errors.New(phase, kind).
		Cause(exc).
		Detail("%s", exc.Error()).
		Build()
}

// engineFault maps a low-level bridge failure: context cancellation becomes
// an interrupted error, heap exhaustion an allocation error, anything else
// is internal.
func (c *Context) engineFault(ctx context.Context, phase errors.Phase, err error, op string) error {
	if ctx.Err() != nil {
		return errors.Interrupted(ctx.Err())
	}
	if stderrors.Is(err, engine.ErrNoMemory) {
		return errors.Wrap(phase, errors.KindAllocation, err, op)
	}
	return errors.Wrap(phase, errors.KindInternal, err, op)
}
