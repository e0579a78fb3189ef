package runtime

import (
	"context"
	stderrors "errors"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/wippyai/quickjs-runtime/errors"
)

// Marshaler lets a type control its own conversion into script.
type Marshaler interface {
	MarshalJS(ctx context.Context, c *Context) (Value, error)
}

// Unmarshaler lets a type control its own conversion out of script.
type Unmarshaler interface {
	UnmarshalJS(ctx context.Context, v Value) error
}

// ToValue converts a Go value into an owned script Value. Supported inputs:
// nil, bool, all integer and float widths, string, []byte, slices, arrays,
// string-keyed maps, structs (exported fields, renamed via the `js` tag,
// `js:"-"` skipped), pointers, Value passthrough, Func, and Marshaler.
// Conversion failures carry the field path that produced them.
func (c *Context) ToValue(ctx context.Context, v any) (Value, error) {
	if err := c.rt.guard.enter(); err != nil {
		return Value{}, err
	}
	defer c.rt.guard.exit()

	if err := c.check(); err != nil {
		return Value{}, err
	}
	return c.toValue(ctx, v, nil)
}

func (c *Context) toValue(ctx context.Context, v any, path []string) (Value, error) {
	b := c.rt.bridge

	switch x := v.(type) {
	case nil:
		h, err := b.NewNull(ctx)
		return c.trackOr(h, err, path)
	case Value:
		if x.IsZero() {
			h, err := b.NewUndefined(ctx)
			return c.trackOr(h, err, path)
		}
		if x.ctx != c {
			return Value{}, errors.CrossContext(errors.PhaseConvert, "value belongs to a different context")
		}
		return x.Clone(ctx)
	case Marshaler:
		return x.MarshalJS(ctx, c)
	case bool:
		h, err := b.NewBool(ctx, x)
		return c.trackOr(h, err, path)
	case int:
		return c.intValue(ctx, int64(x), path)
	case int8:
		return c.intValue(ctx, int64(x), path)
	case int16:
		return c.intValue(ctx, int64(x), path)
	case int32:
		h, err := b.NewInt32(ctx, x)
		return c.trackOr(h, err, path)
	case int64:
		return c.intValue(ctx, x, path)
	case uint:
		return c.uintValue(ctx, uint64(x), path)
	case uint8:
		return c.intValue(ctx, int64(x), path)
	case uint16:
		return c.intValue(ctx, int64(x), path)
	case uint32:
		return c.uintValue(ctx, uint64(x), path)
	case uint64:
		return c.uintValue(ctx, x, path)
	case float32:
		h, err := b.NewFloat64(ctx, float64(x))
		return c.trackOr(h, err, path)
	case float64:
		h, err := b.NewFloat64(ctx, x)
		return c.trackOr(h, err, path)
	case string:
		h, err := b.NewString(ctx, c.handle, x)
		return c.trackOr(h, err, path)
	case []byte:
		return c.bytesValue(ctx, x, path)
	case Func:
		return c.Function(ctx, "", x)
	case error:
		h, err := b.NewString(ctx, c.handle, x.Error())
		return c.trackOr(h, err, path)
	}

	return c.reflectValue(ctx, reflect.ValueOf(v), path)
}

func (c *Context) reflectValue(ctx context.Context, rv reflect.Value, path []string) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			h, err := c.rt.bridge.NewNull(ctx)
			return c.trackOr(h, err, path)
		}
		return c.toValue(ctx, rv.Elem().Interface(), path)

	case reflect.Bool:
		return c.toValue(ctx, rv.Bool(), path)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return c.intValue(ctx, rv.Int(), path)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return c.uintValue(ctx, rv.Uint(), path)
	case reflect.Float32, reflect.Float64:
		return c.toValue(ctx, rv.Float(), path)
	case reflect.String:
		return c.toValue(ctx, rv.String(), path)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return c.bytesValue(ctx, rv.Bytes(), path)
		}
		return c.sliceValue(ctx, rv, path)

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, errors.Conversion(errors.PhaseConvert, path,
				"map keys must be strings, got "+rv.Type().Key().String())
		}
		return c.mapValue(ctx, rv, path)

	case reflect.Struct:
		return c.structValue(ctx, rv, path)

	default:
		return Value{}, errors.Conversion(errors.PhaseConvert, path,
			"unsupported Go type "+rv.Type().String())
	}
}

func (c *Context) sliceValue(ctx context.Context, rv reflect.Value, path []string) (Value, error) {
	arr, err := c.rt.bridge.NewArray(ctx, c.handle)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseConvert, err, "allocate array")
	}
	arrVal := c.track(arr)

	for i := 0; i < rv.Len(); i++ {
		elem, err := c.toValue(ctx, rv.Index(i).Interface(), appendPath(path, indexSegment(i)))
		if err != nil {
			_ = arrVal.Free(ctx)
			return Value{}, err
		}
		setErr := arrVal.SetIndex(ctx, uint32(i), elem)
		_ = elem.Free(ctx)
		if setErr != nil {
			_ = arrVal.Free(ctx)
			return Value{}, setErr
		}
	}
	return arrVal, nil
}

func (c *Context) mapValue(ctx context.Context, rv reflect.Value, path []string) (Value, error) {
	obj, err := c.rt.bridge.NewObject(ctx, c.handle)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseConvert, err, "allocate object")
	}
	objVal := c.track(obj)

	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		elem, err := c.toValue(ctx, iter.Value().Interface(), appendPath(path, key))
		if err != nil {
			_ = objVal.Free(ctx)
			return Value{}, err
		}
		setErr := objVal.Set(ctx, key, elem)
		_ = elem.Free(ctx)
		if setErr != nil {
			_ = objVal.Free(ctx)
			return Value{}, setErr
		}
	}
	return objVal, nil
}

func (c *Context) structValue(ctx context.Context, rv reflect.Value, path []string) (Value, error) {
	obj, err := c.rt.bridge.NewObject(ctx, c.handle)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseConvert, err, "allocate object")
	}
	objVal := c.track(obj)

	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, skip := fieldName(field)
		if skip {
			continue
		}
		elem, err := c.toValue(ctx, rv.Field(i).Interface(), appendPath(path, name))
		if err != nil {
			_ = objVal.Free(ctx)
			return Value{}, err
		}
		setErr := objVal.Set(ctx, name, elem)
		_ = elem.Free(ctx)
		if setErr != nil {
			_ = objVal.Free(ctx)
			return Value{}, setErr
		}
	}
	return objVal, nil
}

func (c *Context) intValue(ctx context.Context, v int64, path []string) (Value, error) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		h, err := c.rt.bridge.NewInt32(ctx, int32(v))
		return c.trackOr(h, err, path)
	}
	if v < -(1<<53) || v > 1<<53 {
		return Value{}, errors.Overflow(errors.PhaseConvert, path, v, "number")
	}
	h, err := c.rt.bridge.NewFloat64(ctx, float64(v))
	return c.trackOr(h, err, path)
}

func (c *Context) uintValue(ctx context.Context, v uint64, path []string) (Value, error) {
	if v > 1<<53 {
		return Value{}, errors.Overflow(errors.PhaseConvert, path, v, "number")
	}
	return c.intValue(ctx, int64(v), path)
}

// bytesValue produces an array of byte values. The engine surface has no
// typed-array constructor export; an array round-trips losslessly.
func (c *Context) bytesValue(ctx context.Context, data []byte, path []string) (Value, error) {
	arr, err := c.rt.bridge.NewArray(ctx, c.handle)
	if err != nil {
		return Value{}, c.engineFault(ctx, errors.PhaseConvert, err, "allocate array")
	}
	arrVal := c.track(arr)

	for i, bv := range data {
		h, err := c.rt.bridge.NewInt32(ctx, int32(bv))
		if err != nil {
			_ = arrVal.Free(ctx)
			return Value{}, c.engineFault(ctx, errors.PhaseConvert, err, "allocate byte")
		}
		elem := c.track(h)
		setErr := arrVal.SetIndex(ctx, uint32(i), elem)
		_ = elem.Free(ctx)
		if setErr != nil {
			_ = arrVal.Free(ctx)
			return Value{}, setErr
		}
	}
	return arrVal, nil
}

func (c *Context) trackOr(h uint32, err error, path []string) (Value, error) {
	if err != nil {
		return Value{}, errors.New(errors.PhaseConvert, errors.KindInternal).
			Path(path...).Cause(err).Detail("allocate value").Build()
	}
	return c.track(h), nil
}

// Decode converts the script value into *ptr. Supported targets mirror
// ToValue's inputs; mismatches fail with a conversion or type_mismatch error
// carrying the field path.
func (v Value) Decode(ctx context.Context, ptr any) error {
	if ptr == nil {
		return errors.InvalidInput(errors.PhaseConvert, "nil decode target")
	}
	if u, ok := ptr.(Unmarshaler); ok {
		return u.UnmarshalJS(ctx, v)
	}
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.InvalidInput(errors.PhaseConvert, "decode target must be a non-nil pointer")
	}

	if err := v.enter(); err != nil {
		return err
	}
	defer v.ctx.rt.guard.exit()

	return v.decode(ctx, rv.Elem(), nil)
}

// Decode is the generic form of Value.Decode.
func Decode[T any](ctx context.Context, v Value) (T, error) {
	var out T
	err := v.Decode(ctx, &out)
	return out, err
}

func (v Value) decode(ctx context.Context, target reflect.Value, path []string) error {
	kind, err := v.Kind(ctx)
	if err != nil {
		return err
	}

	// Pointers allocate through; null and undefined decode to nil.
	if target.Kind() == reflect.Pointer {
		if kind == KindNull || kind == KindUndefined {
			target.SetZero()
			return nil
		}
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		return v.decode(ctx, target.Elem(), path)
	}

	if target.Kind() == reflect.Interface && target.NumMethod() == 0 {
		out, err := v.decodeAny(ctx, kind, path)
		if err != nil {
			return err
		}
		if out == nil {
			target.SetZero()
		} else {
			target.Set(reflect.ValueOf(out))
		}
		return nil
	}

	switch target.Kind() {
	case reflect.Bool:
		b, err := v.Bool(ctx)
		if err != nil {
			return pathed(err, path)
		}
		target.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := v.Int64(ctx)
		if err != nil {
			return pathed(err, path)
		}
		if target.OverflowInt(n) {
			return errors.Overflow(errors.PhaseConvert, path, n, target.Type().String())
		}
		target.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := v.Int64(ctx)
		if err != nil {
			return pathed(err, path)
		}
		if n < 0 || target.OverflowUint(uint64(n)) {
			return errors.Overflow(errors.PhaseConvert, path, n, target.Type().String())
		}
		target.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := v.Float64(ctx)
		if err != nil {
			return pathed(err, path)
		}
		target.SetFloat(f)
		return nil

	case reflect.String:
		s, err := v.String(ctx)
		if err != nil {
			return pathed(err, path)
		}
		target.SetString(s)
		return nil

	case reflect.Slice:
		return v.decodeSlice(ctx, kind, target, path)

	case reflect.Map:
		return v.decodeMap(ctx, kind, target, path)

	case reflect.Struct:
		return v.decodeStruct(ctx, kind, target, path)

	default:
		return errors.Conversion(errors.PhaseConvert, path,
			"unsupported decode target "+target.Type().String())
	}
}

func (v Value) decodeAny(ctx context.Context, kind Kind, path []string) (any, error) {
	switch kind {
	case KindUndefined, KindNull:
		return nil, nil
	case KindBool:
		return v.Bool(ctx)
	case KindInt:
		n, err := v.Int64(ctx)
		return n, err
	case KindFloat:
		return v.Float64(ctx)
	case KindString:
		return v.String(ctx)
	case KindArray:
		var out []any
		err := v.decodeSlice(ctx, kind, reflect.ValueOf(&out).Elem(), path)
		return out, err
	case KindObject:
		out := map[string]any{}
		err := v.decodeMap(ctx, kind, reflect.ValueOf(&out).Elem(), path)
		return out, err
	default:
		return nil, errors.Conversion(errors.PhaseConvert, path,
			"cannot decode "+kind.String()+" into interface{}")
	}
}

func (v Value) decodeSlice(ctx context.Context, kind Kind, target reflect.Value, path []string) error {
	if kind != KindArray {
		return errors.TypeMismatch(errors.PhaseConvert, path, target.Type().String(), kind.String())
	}
	n, err := v.Len(ctx)
	if err != nil {
		return pathed(err, path)
	}

	out := reflect.MakeSlice(target.Type(), n, n)
	for i := 0; i < n; i++ {
		elem, err := v.GetIndex(ctx, uint32(i))
		if err != nil {
			return pathed(err, appendPath(path, indexSegment(i)))
		}
		decErr := elem.decode(ctx, out.Index(i), appendPath(path, indexSegment(i)))
		_ = elem.Free(ctx)
		if decErr != nil {
			return decErr
		}
	}
	target.Set(out)
	return nil
}

func (v Value) decodeMap(ctx context.Context, kind Kind, target reflect.Value, path []string) error {
	if kind != KindObject && kind != KindArray {
		return errors.TypeMismatch(errors.PhaseConvert, path, target.Type().String(), kind.String())
	}
	if target.Type().Key().Kind() != reflect.String {
		return errors.Conversion(errors.PhaseConvert, path,
			"map keys must be strings, got "+target.Type().Key().String())
	}

	keys, err := v.ownKeys(ctx)
	if err != nil {
		return pathed(err, path)
	}

	out := reflect.MakeMapWithSize(target.Type(), len(keys))
	for _, key := range keys {
		elem, err := v.Get(ctx, key)
		if err != nil {
			return pathed(err, appendPath(path, key))
		}
		ev := reflect.New(target.Type().Elem()).Elem()
		decErr := elem.decode(ctx, ev, appendPath(path, key))
		_ = elem.Free(ctx)
		if decErr != nil {
			return decErr
		}
		out.SetMapIndex(reflect.ValueOf(key).Convert(target.Type().Key()), ev)
	}
	target.Set(out)
	return nil
}

func (v Value) decodeStruct(ctx context.Context, kind Kind, target reflect.Value, path []string) error {
	if kind != KindObject {
		return errors.TypeMismatch(errors.PhaseConvert, path, target.Type().String(), kind.String())
	}

	t := target.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, skip := fieldName(field)
		if skip || !target.Field(i).CanSet() {
			continue
		}
		has, err := v.Has(ctx, name)
		if err != nil {
			return pathed(err, appendPath(path, name))
		}
		if !has {
			continue
		}
		elem, err := v.Get(ctx, name)
		if err != nil {
			return pathed(err, appendPath(path, name))
		}
		decErr := elem.decode(ctx, target.Field(i), appendPath(path, name))
		_ = elem.Free(ctx)
		if decErr != nil {
			return decErr
		}
	}
	return nil
}

// ownKeys enumerates the object's own enumerable string keys via
// Object.keys.
func (v Value) ownKeys(ctx context.Context) ([]string, error) {
	global, err := v.ctx.Global(ctx)
	if err != nil {
		return nil, err
	}
	defer global.Free(ctx)

	objectCtor, err := global.Get(ctx, "Object")
	if err != nil {
		return nil, err
	}
	defer objectCtor.Free(ctx)

	keysArr, err := objectCtor.CallMethod(ctx, "keys", v)
	if err != nil {
		return nil, err
	}
	defer keysArr.Free(ctx)

	n, err := keysArr.Len(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		kv, err := keysArr.GetIndex(ctx, uint32(i))
		if err != nil {
			return nil, err
		}
		s, serr := kv.String(ctx)
		_ = kv.Free(ctx)
		if serr != nil {
			return nil, serr
		}
		keys = append(keys, s)
	}
	return keys, nil
}

// fieldName resolves a struct field's script-side name honoring the `js`
// tag. Unexported fields and `js:"-"` are skipped.
func fieldName(field reflect.StructField) (string, bool) {
	if field.PkgPath != "" {
		return "", true
	}
	tag := field.Tag.Get("js")
	if tag == "" {
		return field.Name, false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return "", true
	}
	if name == "" {
		return field.Name, false
	}
	return name, false
}

func appendPath(path []string, segment string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, path...)
	return append(out, segment)
}

func indexSegment(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// pathed attaches a field path to structured errors that lack one.
func pathed(err error, path []string) error {
	if len(path) == 0 {
		return err
	}
	var e *errors.Error
	if stderrors.As(err, &e) && len(e.Path) == 0 {
		e.Path = path
	}
	return err
}
