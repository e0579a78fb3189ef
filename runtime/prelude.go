package runtime

import (
	"context"

	"github.com/wippyai/quickjs-runtime/errors"
	"github.com/wippyai/quickjs-runtime/resource"
)

// preludeSource is evaluated into every fresh context. It wires the host
// hooks into script-visible machinery: a finalization registry that releases
// host records when the engine collects their wrappers, the receiver-binding
// wrapper for host functions, the instance slot map for the class bridge,
// and a CommonJS-style require backed by the loader hook.
const preludeSource = `
(function (g) {
  'use strict';

  const registry = new FinalizationRegistry((id) => g.__qjs_release(id));
  const slots = new WeakMap();

  g.__qjs_bindthis = (f, id) => {
    const wrapper = function (...args) { return f(this, ...args); };
    if (id !== undefined) {
      registry.register(wrapper, id);
    }
    return wrapper;
  };

  g.__qjs_wrap = (obj, id, names, methods) => {
    for (const name of names) {
      Object.defineProperty(obj, name, {
        get() { return g.__qjs_getprop(id, name); },
        set(v) { g.__qjs_setprop(id, name, v); },
        enumerable: true,
        configurable: false,
      });
    }
    if (methods) {
      for (const name of Object.keys(methods)) {
        Object.defineProperty(obj, name, {
          value: methods[name],
          enumerable: false,
          configurable: false,
          writable: false,
        });
      }
    }
    slots.set(obj, id);
    registry.register(obj, id);
    return obj;
  };

  g.__qjs_slot_of = (obj) => {
    if (obj === null || typeof obj !== 'object' && typeof obj !== 'function') {
      return -1;
    }
    const id = slots.get(obj);
    return id === undefined ? -1 : id;
  };

  const moduleCache = Object.create(null);
  g.require = function require(specifier) {
    if (specifier in moduleCache) {
      return moduleCache[specifier].exports;
    }
    const source = g.__qjs_load(specifier);
    const mod = { exports: {} };
    moduleCache[specifier] = mod;
    try {
      const init = new Function('module', 'exports', 'require', source);
      init(mod, mod.exports, require);
    } catch (e) {
      delete moduleCache[specifier];
      throw e;
    }
    return mod.exports;
  };
})(globalThis);
`

// installPrelude registers the host hooks as globals and evaluates the
// prelude. Guard must be held; the context is not yet published.
func (c *Context) installPrelude(ctx context.Context) error {
	hooks := map[string]func(ctx context.Context, args []uint32) (uint32, error){
		"__qjs_release": c.hookRelease,
		"__qjs_load":    c.hookLoad,
		"__qjs_getprop": c.hookGetProp,
		"__qjs_setprop": c.hookSetProp,
	}

	global, err := c.rt.bridge.GlobalObject(ctx, c.handle)
	if err != nil {
		return errors.Load("read global object", err)
	}
	defer c.rt.bridge.FreeValue(ctx, c.handle, global)

	for name, fn := range hooks {
		h, err := c.rawFunction(ctx, name, fn)
		if err != nil {
			return err
		}
		if err := c.rt.bridge.SetProperty(ctx, c.handle, global, name, h); err != nil {
			return errors.Load("install hook "+name, err)
		}
		if err := c.rt.bridge.FreeValue(ctx, c.handle, h); err != nil {
			return errors.Load("release hook "+name, err)
		}
	}

	h, err := c.rt.bridge.Eval(ctx, c.handle, preludeSource, "<prelude>", 0)
	if err != nil {
		return errors.Load("evaluate prelude", err)
	}
	isExc, err := c.rt.bridge.IsException(ctx, h)
	if err != nil {
		return errors.Load("inspect prelude result", err)
	}
	if isExc {
		return c.drainException(ctx, errors.PhaseLoad)
	}
	return c.rt.bridge.FreeValue(ctx, c.handle, h)
}

// callGlobal invokes a prelude helper by name with raw handles. Guard must
// be held; argument handles stay owned by the caller, the result handle is
// owned by the caller.
func (c *Context) callGlobal(ctx context.Context, name string, args ...uint32) (uint32, error) {
	global, err := c.rt.bridge.GlobalObject(ctx, c.handle)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseCall, errors.KindInternal, err, "read global object")
	}
	defer c.rt.bridge.FreeValue(ctx, c.handle, global)

	h, err := c.rt.bridge.Invoke(ctx, c.handle, global, name, args)
	if err != nil {
		return 0, c.engineFault(ctx, errors.PhaseCall, err, "call "+name)
	}
	return h, nil
}

// hookRelease backs the finalization registry: args[0] is the record id of a
// collected wrapper. Removal drops the record exactly once; the arena
// tolerates ids already swept by Runtime.Close.
func (c *Context) hookRelease(ctx context.Context, args []uint32) (uint32, error) {
	if len(args) >= 1 {
		id, err := c.rt.bridge.ToInt32(ctx, c.handle, args[0])
		if err == nil && id > 0 {
			c.rt.arena.Remove(resource.Handle(id))
		}
	}
	return c.rt.bridge.NewUndefined(ctx)
}

// hookLoad backs require(): args[0] is the module specifier, the return
// value is the module source. An unresolvable specifier throws.
func (c *Context) hookLoad(ctx context.Context, args []uint32) (uint32, error) {
	if len(args) < 1 {
		return 0, errors.InvalidInput(errors.PhaseLoad, "require needs a specifier")
	}
	raw, err := c.rt.bridge.ToString(ctx, c.handle, args[0])
	if err != nil {
		return 0, errors.Wrap(errors.PhaseLoad, errors.KindInternal, err, "read specifier")
	}
	specifier := string(raw)

	if c.rt.loader == nil {
		return 0, errors.ModuleNotFound(specifier)
	}
	source, err := c.rt.loader(specifier)
	if err != nil {
		return 0, errors.New(errors.PhaseLoad, errors.KindModuleNotFound).
			Cause(err).
			Detail("module %q", specifier).
			Build()
	}
	return c.rt.bridge.NewString(ctx, c.handle, source)
}
