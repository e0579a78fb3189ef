package runtime

import (
	"context"
	stderrors "errors"
	"math"
	"unicode/utf8"

	"github.com/wippyai/quickjs-runtime/engine"
	"github.com/wippyai/quickjs-runtime/errors"
)

// Value is a handle to an engine-side value, tagged with its owning Context.
// Values are created owned: the caller releases them with Free (or lets
// Context.Close sweep them). A Value must only be passed to APIs of its own
// Context; anything else fails with a cross-context error.
type Value struct {
	ctx    *Context
	handle uint32
}

// Context returns the owning context, nil for the zero Value.
func (v Value) Context() *Context {
	return v.ctx
}

// IsZero reports whether v is the zero Value (no engine handle at all).
func (v Value) IsZero() bool {
	return v.ctx == nil
}

// Kind classifies the value. Numbers split into KindInt when the engine
// representation is an integral value in int32 range, KindFloat otherwise.
func (v Value) Kind(ctx context.Context) (Kind, error) {
	if err := v.enter(); err != nil {
		return KindUndefined, err
	}
	defer v.ctx.rt.guard.exit()

	b := v.ctx.rt.bridge
	type probe struct {
		kind Kind
		fn   func() (bool, error)
	}
	probes := []probe{
		{KindException, func() (bool, error) { return b.IsException(ctx, v.handle) }},
		{KindUndefined, func() (bool, error) { return b.IsUndefined(ctx, v.handle) }},
		{KindNull, func() (bool, error) { return b.IsNull(ctx, v.handle) }},
		{KindBool, func() (bool, error) { return b.IsBool(ctx, v.handle) }},
		{KindString, func() (bool, error) { return b.IsString(ctx, v.handle) }},
		{KindSymbol, func() (bool, error) { return b.IsSymbol(ctx, v.handle) }},
		{KindFunction, func() (bool, error) { return b.IsFunction(ctx, v.ctx.handle, v.handle) }},
		{KindArray, func() (bool, error) { return b.IsArray(ctx, v.handle) }},
	}
	for _, p := range probes {
		ok, err := p.fn()
		if err != nil {
			return KindUndefined, v.fault(ctx, err, "classify value")
		}
		if ok {
			return p.kind, nil
		}
	}

	isNum, err := b.IsNumber(ctx, v.handle)
	if err != nil {
		return KindUndefined, v.fault(ctx, err, "classify value")
	}
	if isNum {
		f, err := b.ToFloat64(ctx, v.ctx.handle, v.handle)
		if err != nil {
			return KindUndefined, v.fault(ctx, err, "classify number")
		}
		if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
			return KindInt, nil
		}
		return KindFloat, nil
	}
	return KindObject, nil
}

// Predicates

func (v Value) IsUndefined(ctx context.Context) bool { return v.is(ctx, KindUndefined) }
func (v Value) IsNull(ctx context.Context) bool      { return v.is(ctx, KindNull) }
func (v Value) IsFunction(ctx context.Context) bool  { return v.is(ctx, KindFunction) }
func (v Value) IsString(ctx context.Context) bool    { return v.is(ctx, KindString) }
func (v Value) IsArray(ctx context.Context) bool     { return v.is(ctx, KindArray) }

func (v Value) IsObject(ctx context.Context) bool {
	k, err := v.Kind(ctx)
	if err != nil {
		return false
	}
	return k == KindObject || k == KindArray || k == KindFunction
}

// IsError reports whether the value is an Error object.
func (v Value) IsError(ctx context.Context) bool {
	if err := v.enter(); err != nil {
		return false
	}
	defer v.ctx.rt.guard.exit()

	ok, err := v.ctx.rt.bridge.IsError(ctx, v.handle)
	return err == nil && ok
}

// IsPromise reports whether the value is a Promise.
func (v Value) IsPromise(ctx context.Context) bool {
	if err := v.enter(); err != nil {
		return false
	}
	defer v.ctx.rt.guard.exit()

	ok, err := v.ctx.rt.bridge.IsPromise(ctx, v.ctx.handle, v.handle)
	return err == nil && ok
}

func (v Value) is(ctx context.Context, want Kind) bool {
	k, err := v.Kind(ctx)
	return err == nil && k == want
}

// Typed accessors

// Bool returns the boolean value. Non-boolean values fail with type_mismatch.
func (v Value) Bool(ctx context.Context) (bool, error) {
	if err := v.enter(); err != nil {
		return false, err
	}
	defer v.ctx.rt.guard.exit()

	ok, err := v.ctx.rt.bridge.IsBool(ctx, v.handle)
	if err != nil {
		return false, v.fault(ctx, err, "read bool")
	}
	if !ok {
		return false, v.mismatch(ctx, "bool")
	}
	return v.ctx.rt.bridge.ToBool(ctx, v.ctx.handle, v.handle)
}

// Int32 returns the value as int32, failing with overflow when the number
// does not fit and type_mismatch when it is not a number.
func (v Value) Int32(ctx context.Context) (int32, error) {
	f, err := v.Float64(ctx)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, errors.Overflow(errors.PhaseConvert, nil, f, "int32")
	}
	return int32(f), nil
}

// Int64 returns the value as int64. Fractional numbers and numbers beyond
// the contiguous float64 integer range fail with overflow.
func (v Value) Int64(ctx context.Context) (int64, error) {
	f, err := v.Float64(ctx)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < -(1<<53) || f > 1<<53 {
		return 0, errors.Overflow(errors.PhaseConvert, nil, f, "int64")
	}
	return int64(f), nil
}

// Float64 returns the numeric value, failing with type_mismatch for
// non-numbers.
func (v Value) Float64(ctx context.Context) (float64, error) {
	if err := v.enter(); err != nil {
		return 0, err
	}
	defer v.ctx.rt.guard.exit()

	ok, err := v.ctx.rt.bridge.IsNumber(ctx, v.handle)
	if err != nil {
		return 0, v.fault(ctx, err, "read number")
	}
	if !ok {
		return 0, v.mismatch(ctx, "number")
	}
	return v.ctx.rt.bridge.ToFloat64(ctx, v.ctx.handle, v.handle)
}

// String returns the string value. The raw bytes are validated as UTF-8 and
// rejected with invalid_encoding rather than surfacing corrupted text.
func (v Value) String(ctx context.Context) (string, error) {
	raw, err := v.Bytes(ctx)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errors.InvalidEncoding(errors.PhaseConvert, nil, raw)
	}
	return string(raw), nil
}

// Bytes returns the raw bytes of a string value without encoding validation.
// Lone surrogates come out in the engine's WTF-8 form.
func (v Value) Bytes(ctx context.Context) ([]byte, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.ctx.rt.guard.exit()

	ok, err := v.ctx.rt.bridge.IsString(ctx, v.handle)
	if err != nil {
		return nil, v.fault(ctx, err, "read string")
	}
	if !ok {
		return nil, v.mismatch(ctx, "string")
	}
	return v.ctx.rt.bridge.ToString(ctx, v.ctx.handle, v.handle)
}

// Property operations

// Get reads a named property. The caller owns the returned Value.
func (v Value) Get(ctx context.Context, name string) (Value, error) {
	if err := v.enter(); err != nil {
		return Value{}, err
	}
	defer v.ctx.rt.guard.exit()

	h, err := v.ctx.rt.bridge.GetProperty(ctx, v.ctx.handle, v.handle, name)
	if err != nil {
		return Value{}, v.fault(ctx, err, "get property")
	}
	return v.ctx.result(ctx, errors.PhaseRuntime, h)
}

// Set writes a named property. val must belong to the same context.
func (v Value) Set(ctx context.Context, name string, val Value) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.ctx.rt.guard.exit()

	if val.ctx != v.ctx {
		return errors.CrossContext(errors.PhaseRuntime, "property value belongs to a different context")
	}
	if err := v.ctx.rt.bridge.SetProperty(ctx, v.ctx.handle, v.handle, name, val.handle); err != nil {
		return v.fault(ctx, err, "set property")
	}
	return nil
}

// Has reports whether the object has a named property.
func (v Value) Has(ctx context.Context, name string) (bool, error) {
	if err := v.enter(); err != nil {
		return false, err
	}
	defer v.ctx.rt.guard.exit()

	ok, err := v.ctx.rt.bridge.HasProperty(ctx, v.ctx.handle, v.handle, name)
	if err != nil {
		return false, v.fault(ctx, err, "has property")
	}
	return ok, nil
}

// Delete removes a named property.
func (v Value) Delete(ctx context.Context, name string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.ctx.rt.guard.exit()

	if err := v.ctx.rt.bridge.DeleteProperty(ctx, v.ctx.handle, v.handle, name); err != nil {
		return v.fault(ctx, err, "delete property")
	}
	return nil
}

// GetIndex reads an array element. The caller owns the returned Value.
func (v Value) GetIndex(ctx context.Context, i uint32) (Value, error) {
	if err := v.enter(); err != nil {
		return Value{}, err
	}
	defer v.ctx.rt.guard.exit()

	h, err := v.ctx.rt.bridge.GetPropertyIndex(ctx, v.ctx.handle, v.handle, i)
	if err != nil {
		return Value{}, v.fault(ctx, err, "get index")
	}
	return v.ctx.result(ctx, errors.PhaseRuntime, h)
}

// SetIndex writes an array element.
func (v Value) SetIndex(ctx context.Context, i uint32, val Value) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.ctx.rt.guard.exit()

	if val.ctx != v.ctx {
		return errors.CrossContext(errors.PhaseRuntime, "element belongs to a different context")
	}
	if err := v.ctx.rt.bridge.SetPropertyIndex(ctx, v.ctx.handle, v.handle, i, val.handle); err != nil {
		return v.fault(ctx, err, "set index")
	}
	return nil
}

// Len reads the object's length property as an integer. Arrays and strings
// have one; anything else yields 0.
func (v Value) Len(ctx context.Context) (int, error) {
	length, err := v.Get(ctx, "length")
	if err != nil {
		return 0, err
	}
	defer length.Free(ctx)

	if length.IsUndefined(ctx) {
		return 0, nil
	}
	n, err := length.Int32(ctx)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Calls

// Call invokes the value as a function with the given this and arguments.
// The caller owns the returned Value.
func (v Value) Call(ctx context.Context, this Value, args ...Value) (Value, error) {
	if err := v.enter(); err != nil {
		return Value{}, err
	}
	defer v.ctx.rt.guard.exit()

	thisHandle := uint32(0)
	if !this.IsZero() {
		if this.ctx != v.ctx {
			return Value{}, errors.CrossContext(errors.PhaseCall, "this belongs to a different context")
		}
		thisHandle = this.handle
	} else {
		und, err := v.ctx.rt.bridge.NewUndefined(ctx)
		if err != nil {
			return Value{}, v.fault(ctx, err, "make undefined this")
		}
		thisHandle = und
		defer v.ctx.rt.bridge.FreeValue(ctx, v.ctx.handle, und)
	}

	handles, err := v.argHandles(args)
	if err != nil {
		return Value{}, err
	}

	h, err := v.ctx.rt.bridge.Call(ctx, v.ctx.handle, v.handle, thisHandle, handles)
	if err != nil {
		return Value{}, v.fault(ctx, err, "call")
	}
	return v.ctx.result(ctx, errors.PhaseCall, h)
}

// CallMethod invokes obj[name](args...).
func (v Value) CallMethod(ctx context.Context, name string, args ...Value) (Value, error) {
	if err := v.enter(); err != nil {
		return Value{}, err
	}
	defer v.ctx.rt.guard.exit()

	handles, err := v.argHandles(args)
	if err != nil {
		return Value{}, err
	}

	h, err := v.ctx.rt.bridge.Invoke(ctx, v.ctx.handle, v.handle, name, handles)
	if err != nil {
		return Value{}, v.fault(ctx, err, "invoke")
	}
	return v.ctx.result(ctx, errors.PhaseCall, h)
}

// New invokes the value as a constructor.
func (v Value) New(ctx context.Context, args ...Value) (Value, error) {
	if err := v.enter(); err != nil {
		return Value{}, err
	}
	defer v.ctx.rt.guard.exit()

	handles, err := v.argHandles(args)
	if err != nil {
		return Value{}, err
	}

	h, err := v.ctx.rt.bridge.CallConstructor(ctx, v.ctx.handle, v.handle, handles)
	if err != nil {
		return Value{}, v.fault(ctx, err, "construct")
	}
	return v.ctx.result(ctx, errors.PhaseCall, h)
}

// Ownership

// Clone acquires an additional engine reference and returns it as an
// independently owned Value.
func (v Value) Clone(ctx context.Context) (Value, error) {
	if err := v.enter(); err != nil {
		return Value{}, err
	}
	defer v.ctx.rt.guard.exit()

	h, err := v.ctx.rt.bridge.DupValue(ctx, v.ctx.handle, v.handle)
	if err != nil {
		return Value{}, v.fault(ctx, err, "clone")
	}
	return v.ctx.track(h), nil
}

// Free releases the Value's engine reference. Freeing twice, or freeing
// after Context.Close, is a no-op. The zero Value is free to Free.
func (v Value) Free(ctx context.Context) error {
	if v.ctx == nil {
		return nil
	}
	if err := v.ctx.rt.guard.enter(); err != nil {
		return err
	}
	defer v.ctx.rt.guard.exit()

	if !v.ctx.untrack(v.handle) {
		return nil
	}
	return v.ctx.rt.bridge.FreeValue(ctx, v.ctx.handle, v.handle)
}

// JSON renders the value through the engine's JSON.stringify. Values JSON
// cannot express (undefined, functions) come back as the empty string.
func (v Value) JSON(ctx context.Context) (string, error) {
	if err := v.enter(); err != nil {
		return "", err
	}
	defer v.ctx.rt.guard.exit()

	return v.ctx.rt.bridge.JSONStringify(ctx, v.ctx.handle, v.handle)
}

// StrictEquals applies the engine's === to two values of the same context.
func (v Value) StrictEquals(ctx context.Context, other Value) (bool, error) {
	if err := v.enter(); err != nil {
		return false, err
	}
	defer v.ctx.rt.guard.exit()

	if other.ctx != v.ctx {
		return false, errors.CrossContext(errors.PhaseRuntime, "comparison across contexts")
	}
	return v.ctx.rt.bridge.StrictEq(ctx, v.ctx.handle, v.handle, other.handle)
}

// enter validates ownership and acquires the runtime guard. Must be paired
// with guard.exit.
func (v Value) enter() error {
	if v.ctx == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "zero Value")
	}
	if err := v.ctx.rt.guard.enter(); err != nil {
		return err
	}
	if err := v.ctx.check(); err != nil {
		v.ctx.rt.guard.exit()
		return err
	}
	return nil
}

// argHandles validates argument ownership. Guard must be held.
func (v Value) argHandles(args []Value) ([]uint32, error) {
	if len(args) == 0 {
		return nil, nil
	}
	handles := make([]uint32, len(args))
	for i, a := range args {
		if a.ctx != v.ctx {
			return nil, errors.CrossContext(errors.PhaseCall, "argument belongs to a different context")
		}
		handles[i] = a.handle
	}
	return handles, nil
}

// fault shapes a bridge failure. A status rejection usually means the engine
// threw; the pending exception is drained into the error so it cannot bleed
// into the next call.
func (v Value) fault(ctx context.Context, err error, op string) error {
	if stderrors.Is(err, engine.ErrStatus) {
		if pending, perr := v.ctx.rt.bridge.HasException(ctx, v.ctx.handle); perr == nil && pending {
			return v.ctx.drainException(ctx, errors.PhaseRuntime)
		}
	}
	return v.ctx.engineFault(ctx, errors.PhaseRuntime, err, op)
}

func (v Value) mismatch(ctx context.Context, want string) error {
	jsType, terr := v.ctx.rt.bridge.Typeof(ctx, v.ctx.handle, v.handle)
	if terr != nil {
		jsType = "unknown"
	}
	return errors.TypeMismatch(errors.PhaseConvert, nil, want, jsType)
}
