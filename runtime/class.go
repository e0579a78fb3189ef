package runtime

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/quickjs-runtime/engine"
	"github.com/wippyai/quickjs-runtime/errors"
	"github.com/wippyai/quickjs-runtime/resource"
)

// ClassID identifies a registered class within one Runtime.
type ClassID uint32

// Method is a Go function exposed on wrapped instances. recv is the boxed Go
// value of the instance the script invoked it on.
type Method func(ctx context.Context, c *Context, recv any, args []Value) (Value, error)

// Accessor pairs a getter and optional setter for one instance property.
// A nil Set makes the property read-only: script assignment throws.
type Accessor struct {
	Get func(ctx context.Context, c *Context, recv any) (any, error)
	Set func(ctx context.Context, c *Context, recv any, v Value) error
}

// ClassDef describes a host class: a named shape whose instances box a Go
// value behind accessor properties and methods.
type ClassDef struct {
	Name string

	// Accessors become defined properties on every wrapped instance.
	Accessors map[string]Accessor

	// Methods become non-enumerable function properties.
	Methods map[string]Method

	// Call, when set, makes wrapped instances callable.
	Call Method

	// Finalizer runs exactly once per instance, when the engine collects
	// the wrapper or when the runtime closes, whichever comes first. It
	// must not call back into the runtime.
	Finalizer func(recv any)
}

// instanceRecord boxes one wrapped Go value in the arena.
type instanceRecord struct {
	classID ClassID
	def     *ClassDef
	value   any
}

func (r *instanceRecord) Drop() {
	if r.def.Finalizer != nil {
		// Drop may run from engine GC or from runtime teardown; a
		// panicking finalizer must not take down either path.
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					engine.Logger().Error("finalizer panic",
						zap.String("class", r.def.Name),
						zap.Any("panic", rec))
				}
			}()
			r.def.Finalizer(r.value)
		}()
	}
	r.value = nil
}

// RegisterClass registers a class definition and returns its id. One
// registration per Go type per Runtime is the intended shape; nothing
// enforces it. The definition lives in the arena alongside instance and
// function records, released at Runtime.Close.
func (r *Runtime) RegisterClass(def ClassDef) (ClassID, error) {
	if def.Name == "" {
		return 0, errors.InvalidInput(errors.PhaseClass, "class needs a name")
	}

	d := def
	id := r.arena.Insert(resource.KindClass, &d)
	if id == 0 {
		return 0, errors.Closed(errors.PhaseClass, "runtime")
	}
	return ClassID(id), nil
}

// classDef resolves a ClassID to its definition.
func (r *Runtime) classDef(id ClassID) *ClassDef {
	record, ok := r.arena.GetKind(resource.Handle(id), resource.KindClass)
	if !ok {
		return nil
	}
	return record.(*ClassDef)
}

// WrapInstance boxes goValue as an instance of the registered class and
// returns the script-side wrapper object. The wrapper carries the class's
// accessors and methods and a hidden slot for Unwrap; the boxed value lives
// until the engine collects the wrapper or the runtime closes.
func (c *Context) WrapInstance(ctx context.Context, id ClassID, goValue any) (Value, error) {
	if err := c.rt.guard.enter(); err != nil {
		return Value{}, err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return Value{}, err
	}

	def := c.rt.classDef(id)
	if def == nil {
		return Value{}, errors.NotFound(errors.PhaseClass, "class", "")
	}

	rec := &instanceRecord{classID: id, def: def, value: goValue}
	slot := c.rt.arena.Insert(resource.KindInstance, rec)
	if slot == 0 {
		return Value{}, errors.Closed(errors.PhaseClass, "runtime")
	}

	base, err := c.instanceBase(ctx, def, uint32(slot))
	if err != nil {
		c.rt.arena.Remove(slot)
		return Value{}, err
	}

	slotNum, err := c.rt.bridge.NewInt32(ctx, int32(slot))
	if err != nil {
		c.rt.arena.Remove(slot)
		return Value{}, c.engineFault(ctx, errors.PhaseClass, err, "wrap instance")
	}
	defer c.rt.bridge.FreeValue(ctx, c.handle, slotNum)

	names, err := c.accessorNames(ctx, def)
	if err != nil {
		c.rt.arena.Remove(slot)
		return Value{}, err
	}
	defer c.rt.bridge.FreeValue(ctx, c.handle, names)

	args := []uint32{base, slotNum, names}
	if len(def.Methods) > 0 {
		methods, err := c.methodTable(ctx, id, def)
		if err != nil {
			c.rt.arena.Remove(slot)
			return Value{}, err
		}
		defer c.rt.bridge.FreeValue(ctx, c.handle, methods)
		args = append(args, methods)
	}

	wrapped, err := c.callGlobal(ctx, "__qjs_wrap", args...)
	if err != nil {
		c.rt.arena.Remove(slot)
		return Value{}, err
	}
	if wrapped != base {
		_ = c.rt.bridge.FreeValue(ctx, c.handle, base)
	}
	return c.result(ctx, errors.PhaseClass, wrapped)
}

// Unwrap recovers the typed Go value boxed in a wrapped instance. A value
// that is not an instance, or boxes a different type, fails with
// type_mismatch.
func Unwrap[T any](ctx context.Context, v Value) (T, error) {
	var zero T
	if v.ctx == nil {
		return zero, errors.InvalidInput(errors.PhaseClass, "zero Value")
	}
	if err := v.ctx.rt.guard.enter(); err != nil {
		return zero, err
	}
	defer v.ctx.rt.guard.exit()

	if err := v.ctx.check(); err != nil {
		return zero, err
	}

	rec, err := v.ctx.instanceOf(ctx, v.handle)
	if err != nil {
		return zero, err
	}
	out, ok := rec.value.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseClass, nil,
			typeName[T](), rec.def.Name)
	}
	return out, nil
}

// instanceOf resolves a wrapper handle to its arena record. Guard must be
// held.
func (c *Context) instanceOf(ctx context.Context, handle uint32) (*instanceRecord, error) {
	slotVal, err := c.callGlobal(ctx, "__qjs_slot_of", handle)
	if err != nil {
		return nil, err
	}
	slot, err := c.rt.bridge.ToInt32(ctx, c.handle, slotVal)
	_ = c.rt.bridge.FreeValue(ctx, c.handle, slotVal)
	if err != nil {
		return nil, c.engineFault(ctx, errors.PhaseClass, err, "read instance slot")
	}
	if slot <= 0 {
		return nil, errors.TypeMismatch(errors.PhaseClass, nil, "host instance", "object")
	}

	record, ok := c.rt.arena.GetKind(resource.Handle(slot), resource.KindInstance)
	if !ok {
		return nil, errors.NotFound(errors.PhaseClass, "instance", "")
	}
	return record.(*instanceRecord), nil
}

// instanceBase builds the wrapper's underlying object: a plain object, or a
// function object when the class is callable.
func (c *Context) instanceBase(ctx context.Context, def *ClassDef, slot uint32) (uint32, error) {
	if def.Call == nil {
		h, err := c.rt.bridge.NewObject(ctx, c.handle)
		if err != nil {
			return 0, c.engineFault(ctx, errors.PhaseClass, err, "allocate instance")
		}
		return h, nil
	}
	h, err := c.rt.bridge.NewCFunction(ctx, c.handle, slot, def.Name, -1)
	if err != nil {
		return 0, c.engineFault(ctx, errors.PhaseClass, err, "allocate callable instance")
	}
	return h, nil
}

// accessorNames materializes the accessor name list as a script array.
func (c *Context) accessorNames(ctx context.Context, def *ClassDef) (uint32, error) {
	arr, err := c.rt.bridge.NewArray(ctx, c.handle)
	if err != nil {
		return 0, c.engineFault(ctx, errors.PhaseClass, err, "allocate name list")
	}
	i := uint32(0)
	for name := range def.Accessors {
		s, err := c.rt.bridge.NewString(ctx, c.handle, name)
		if err != nil {
			_ = c.rt.bridge.FreeValue(ctx, c.handle, arr)
			return 0, c.engineFault(ctx, errors.PhaseClass, err, "allocate name")
		}
		if err := c.rt.bridge.SetPropertyIndex(ctx, c.handle, arr, i, s); err != nil {
			_ = c.rt.bridge.FreeValue(ctx, c.handle, arr)
			return 0, c.engineFault(ctx, errors.PhaseClass, err, "fill name list")
		}
		i++
	}
	return arr, nil
}

// methodTable returns an object mapping method names to shared per-class
// function objects. Built once per class per context; 0 when the class has
// no methods.
func (c *Context) methodTable(ctx context.Context, id ClassID, def *ClassDef) (uint32, error) {
	if len(def.Methods) == 0 {
		return 0, nil
	}

	if c.methodCache == nil {
		c.methodCache = make(map[ClassID]map[string]uint32)
	}
	cache := c.methodCache[id]
	if cache == nil {
		cache = make(map[string]uint32, len(def.Methods))
		for name, m := range def.Methods {
			method := m
			fnVal, err := c.buildMethod(ctx, name, method)
			if err != nil {
				return 0, err
			}
			cache[name] = fnVal
		}
		c.methodCache[id] = cache
	}

	table, err := c.rt.bridge.NewObject(ctx, c.handle)
	if err != nil {
		return 0, c.engineFault(ctx, errors.PhaseClass, err, "allocate method table")
	}
	for name, h := range cache {
		if err := c.rt.bridge.SetProperty(ctx, c.handle, table, name, h); err != nil {
			_ = c.rt.bridge.FreeValue(ctx, c.handle, table)
			return 0, c.engineFault(ctx, errors.PhaseClass, err, "fill method table")
		}
	}
	return table, nil
}

// buildMethod wraps a class method as a receiver-forwarding host function
// and returns a tracked handle kept alive by the method cache.
func (c *Context) buildMethod(ctx context.Context, name string, method Method) (uint32, error) {
	fnVal, err := c.Function(ctx, name, func(ctx context.Context, cc *Context, this Value, args []Value) (Value, error) {
		rec, err := cc.instanceOf(ctx, this.handle)
		if err != nil {
			return Value{}, err
		}
		return method(ctx, cc, rec.value, args)
	})
	if err != nil {
		return 0, err
	}
	return fnVal.handle, nil
}

// invokeInstanceCall handles script calling a wrapped instance directly.
func (c *Context) invokeInstanceCall(ctx context.Context, rec *instanceRecord, raw []uint32) uint32 {
	if rec.def.Call == nil {
		return c.rt.throwErr(ctx, c.handle,
			errors.TypeMismatch(errors.PhaseClass, nil, "callable instance", rec.def.Name))
	}

	vals := make([]Value, len(raw))
	for i, h := range raw {
		vals[i] = Value{ctx: c, handle: h}
	}
	result, err := rec.def.Call(ctx, c, rec.value, vals)
	if err != nil {
		return c.rt.throwErr(ctx, c.handle, err)
	}
	return c.finishHostReturn(ctx, result)
}

// hookGetProp backs instance accessor reads: args are (slot, name).
func (c *Context) hookGetProp(ctx context.Context, args []uint32) (uint32, error) {
	rec, name, err := c.accessorTarget(ctx, args)
	if err != nil {
		return 0, err
	}
	acc, ok := rec.def.Accessors[name]
	if !ok || acc.Get == nil {
		return c.rt.bridge.NewUndefined(ctx)
	}

	out, err := acc.Get(ctx, c, rec.value)
	if err != nil {
		return 0, err
	}
	val, err := c.ToValue(ctx, out)
	if err != nil {
		return 0, err
	}
	c.untrack(val.handle)
	return val.handle, nil
}

// hookSetProp backs instance accessor writes: args are (slot, name, value).
func (c *Context) hookSetProp(ctx context.Context, args []uint32) (uint32, error) {
	rec, name, err := c.accessorTarget(ctx, args)
	if err != nil {
		return 0, err
	}
	acc, ok := rec.def.Accessors[name]
	if !ok || acc.Set == nil {
		return 0, errors.New(errors.PhaseClass, errors.KindInvalidInput).
			Detail("property %q of %s is read-only", name, rec.def.Name).
			Build()
	}
	if len(args) < 3 {
		return 0, errors.InvalidInput(errors.PhaseClass, "setter needs a value")
	}

	if err := acc.Set(ctx, c, rec.value, Value{ctx: c, handle: args[2]}); err != nil {
		return 0, err
	}
	return c.rt.bridge.NewUndefined(ctx)
}

func (c *Context) accessorTarget(ctx context.Context, args []uint32) (*instanceRecord, string, error) {
	if len(args) < 2 {
		return nil, "", errors.InvalidInput(errors.PhaseClass, "accessor hook needs slot and name")
	}
	slot, err := c.rt.bridge.ToInt32(ctx, c.handle, args[0])
	if err != nil || slot <= 0 {
		return nil, "", errors.InvalidInput(errors.PhaseClass, "bad instance slot")
	}
	rawName, err := c.rt.bridge.ToString(ctx, c.handle, args[1])
	if err != nil {
		return nil, "", errors.Wrap(errors.PhaseClass, errors.KindInternal, err, "read accessor name")
	}

	record, ok := c.rt.arena.GetKind(resource.Handle(slot), resource.KindInstance)
	if !ok {
		return nil, "", errors.NotFound(errors.PhaseClass, "instance", "")
	}
	return record.(*instanceRecord), string(rawName), nil
}

func typeName[T any]() string {
	var zero T
	return reflect.TypeOf(&zero).Elem().String()
}

// finishHostReturn moves a callback's result across the boundary, converting
// failures into thrown exceptions. Guard is held by the outer engine entry.
func (c *Context) finishHostReturn(ctx context.Context, result Value) uint32 {
	if result.IsZero() {
		h, err := c.rt.bridge.NewUndefined(ctx)
		if err != nil {
			engine.Logger().Error("allocate undefined return", zap.Error(err))
			return 0
		}
		return h
	}
	if result.ctx != c {
		_ = result.Free(ctx)
		return c.rt.throwErr(ctx, c.handle,
			errors.CrossContext(errors.PhaseCall, "return value belongs to a different context"))
	}
	c.untrack(result.handle)
	return result.handle
}
