package engine

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
)

// ErrStatus marks a call the engine rejected with a negative status code.
// The engine usually has a pending exception in that case; callers with
// exception access should drain it instead of surfacing this error as-is.
var ErrStatus = stderrors.New("engine returned error status")

// ErrNoMemory marks an allocation the engine heap could not satisfy.
var ErrNoMemory = stderrors.New("engine heap exhausted")

// Runtime and context lifecycle

func (b *Bridge) NewRuntime(ctx context.Context) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newRuntime)
	if err != nil {
		return 0, err
	}
	if uint32(r) == 0 {
		return 0, fmt.Errorf("engine could not allocate a runtime")
	}
	return uint32(r), nil
}

func (b *Bridge) FreeRuntime(ctx context.Context, rt uint32) error {
	_, err := b.fn.freeRuntime.Call(ctx, uint64(rt))
	return err
}

func (b *Bridge) NewContext(ctx context.Context, rt uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newContext, uint64(rt))
	if err != nil {
		return 0, err
	}
	if uint32(r) == 0 {
		return 0, fmt.Errorf("engine could not allocate a context")
	}
	return uint32(r), nil
}

func (b *Bridge) FreeContext(ctx context.Context, jsCtx uint32) error {
	_, err := b.fn.freeContext.Call(ctx, uint64(jsCtx))
	return err
}

func (b *Bridge) SetMemoryLimit(ctx context.Context, rt, limit uint32) error {
	_, err := b.fn.setMemoryLimit.Call(ctx, uint64(rt), uint64(limit))
	return err
}

func (b *Bridge) SetMaxStackSize(ctx context.Context, rt, size uint32) error {
	_, err := b.fn.setMaxStackSize.Call(ctx, uint64(rt), uint64(size))
	return err
}

func (b *Bridge) RunGC(ctx context.Context, rt uint32) error {
	_, err := b.fn.runGC.Call(ctx, uint64(rt))
	return err
}

// HeapSize reports the bytes currently in use on the engine heap.
func (b *Bridge) HeapSize(ctx context.Context) (uint32, error) {
	r, err := b.call1(ctx, b.fn.getHeapSize)
	if err != nil {
		return 0, err
	}
	return uint32(r), nil
}

// ExecutePendingJobs drains the runtime's job queue (promise reactions,
// finalization registry callbacks). Returns the number of jobs executed.
func (b *Bridge) ExecutePendingJobs(ctx context.Context, rt uint32) (int, error) {
	r, err := b.call1(ctx, b.fn.pendingJobs, uint64(rt))
	if err != nil {
		return 0, err
	}
	n := int32(r)
	if n < 0 {
		return 0, fmt.Errorf("pending job raised an unhandled exception")
	}
	return int(n), nil
}

func (b *Bridge) AddConsole(ctx context.Context, jsCtx uint32) error {
	_, err := b.fn.addConsole.Call(ctx, uint64(jsCtx))
	return err
}

// Evaluation

// EvalFlagModule evaluates source as an ES module rather than a classic
// script. Mirrors the engine's JS_EVAL_TYPE_MODULE.
const EvalFlagModule int32 = 1 << 0

func (b *Bridge) Eval(ctx context.Context, jsCtx uint32, code, filename string, flags int32) (uint32, error) {
	codePtr, err := b.WriteString(ctx, code)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, codePtr)

	var filenamePtr uint32
	if filename != "" {
		filenamePtr, err = b.WriteString(ctx, filename)
		if err != nil {
			return 0, err
		}
		defer b.alloc.Free(ctx, filenamePtr)
	}

	r, err := b.call1(ctx, b.fn.eval,
		uint64(jsCtx), uint64(codePtr), uint64(len(code)), uint64(filenamePtr), uint64(flags))
	if err != nil {
		return 0, err
	}
	return uint32(r), nil
}

func (b *Bridge) EvalModule(ctx context.Context, jsCtx uint32, code, filename string) (uint32, error) {
	codePtr, err := b.WriteString(ctx, code)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, codePtr)

	var filenamePtr uint32
	if filename != "" {
		filenamePtr, err = b.WriteString(ctx, filename)
		if err != nil {
			return 0, err
		}
		defer b.alloc.Free(ctx, filenamePtr)
	}

	r, err := b.call1(ctx, b.fn.evalModule,
		uint64(jsCtx), uint64(codePtr), uint64(len(code)), uint64(filenamePtr))
	if err != nil {
		return 0, err
	}
	return uint32(r), nil
}

// Predicates

func (b *Bridge) IsException(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isException, uint64(val))
}

func (b *Bridge) IsUndefined(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isUndefined, uint64(val))
}

func (b *Bridge) IsNull(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isNull, uint64(val))
}

func (b *Bridge) IsBool(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isBool, uint64(val))
}

func (b *Bridge) IsNumber(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isNumber, uint64(val))
}

func (b *Bridge) IsString(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isString, uint64(val))
}

func (b *Bridge) IsSymbol(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isSymbol, uint64(val))
}

func (b *Bridge) IsObject(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isObject, uint64(val))
}

func (b *Bridge) IsFunction(ctx context.Context, jsCtx, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isFunction, uint64(jsCtx), uint64(val))
}

func (b *Bridge) IsArray(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isArray, uint64(val))
}

func (b *Bridge) IsError(ctx context.Context, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isError, uint64(val))
}

func (b *Bridge) IsPromise(ctx context.Context, jsCtx, val uint32) (bool, error) {
	return b.callBool(ctx, b.fn.isPromise, uint64(jsCtx), uint64(val))
}

// Constructors

func (b *Bridge) NewUndefined(ctx context.Context) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newUndefined)
	return uint32(r), err
}

func (b *Bridge) NewNull(ctx context.Context) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newNull)
	return uint32(r), err
}

func (b *Bridge) NewBool(ctx context.Context, v bool) (uint32, error) {
	var n uint64
	if v {
		n = 1
	}
	r, err := b.call1(ctx, b.fn.newBool, n)
	return uint32(r), err
}

func (b *Bridge) NewInt32(ctx context.Context, v int32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newInt32, uint64(uint32(v)))
	return uint32(r), err
}

func (b *Bridge) NewInt64(ctx context.Context, jsCtx uint32, v int64) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newInt64, uint64(jsCtx), uint64(v))
	return uint32(r), err
}

func (b *Bridge) NewFloat64(ctx context.Context, v float64) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newFloat64, math.Float64bits(v))
	return uint32(r), err
}

func (b *Bridge) NewString(ctx context.Context, jsCtx uint32, s string) (uint32, error) {
	strPtr, err := b.WriteString(ctx, s)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, strPtr)

	r, err := b.call1(ctx, b.fn.newStringLen, uint64(jsCtx), uint64(strPtr), uint64(len(s)))
	return uint32(r), err
}

func (b *Bridge) NewObject(ctx context.Context, jsCtx uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newObject, uint64(jsCtx))
	return uint32(r), err
}

func (b *Bridge) NewArray(ctx context.Context, jsCtx uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.newArray, uint64(jsCtx))
	return uint32(r), err
}

// Accessors

func (b *Bridge) ToBool(ctx context.Context, jsCtx, val uint32) (bool, error) {
	r, err := b.call1(ctx, b.fn.toBool, uint64(jsCtx), uint64(val))
	if err != nil {
		return false, err
	}
	return int32(r) > 0, nil
}

func (b *Bridge) ToInt32(ctx context.Context, jsCtx, val uint32) (int32, error) {
	out, err := b.outParam(ctx, jsCtx, val, b.fn.toInt32, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(out)), nil
}

func (b *Bridge) ToInt64(ctx context.Context, jsCtx, val uint32) (int64, error) {
	out, err := b.outParam(ctx, jsCtx, val, b.fn.toInt64, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(out)), nil
}

func (b *Bridge) ToFloat64(ctx context.Context, jsCtx, val uint32) (float64, error) {
	out, err := b.outParam(ctx, jsCtx, val, b.fn.toFloat64, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(out)), nil
}

// ToString converts a value through the engine's ToString semantics and
// returns the raw bytes of the resulting string. Encoding validation belongs
// to the caller.
func (b *Bridge) ToString(ctx context.Context, jsCtx, val uint32) ([]byte, error) {
	r, err := b.call1(ctx, b.fn.toCString, uint64(jsCtx), uint64(val))
	if err != nil {
		return nil, err
	}
	strPtr := uint32(r)
	if strPtr == 0 {
		return nil, nil
	}
	defer b.fn.freeCString.Call(ctx, uint64(jsCtx), uint64(strPtr))

	return b.ReadCString(strPtr), nil
}

func (b *Bridge) Typeof(ctx context.Context, jsCtx, val uint32) (string, error) {
	r, err := b.call1(ctx, b.fn.typeofOp, uint64(jsCtx), uint64(val))
	if err != nil {
		return "", err
	}
	raw, err := b.ToString(ctx, jsCtx, uint32(r))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Properties

func (b *Bridge) GetProperty(ctx context.Context, jsCtx, obj uint32, name string) (uint32, error) {
	namePtr, err := b.WriteString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, namePtr)

	r, err := b.call1(ctx, b.fn.getProperty, uint64(jsCtx), uint64(obj), uint64(namePtr))
	return uint32(r), err
}

func (b *Bridge) SetProperty(ctx context.Context, jsCtx, obj uint32, name string, val uint32) error {
	namePtr, err := b.WriteString(ctx, name)
	if err != nil {
		return err
	}
	defer b.alloc.Free(ctx, namePtr)

	r, err := b.call1(ctx, b.fn.setProperty, uint64(jsCtx), uint64(obj), uint64(namePtr), uint64(val))
	if err != nil {
		return err
	}
	if int32(r) < 0 {
		return fmt.Errorf("set property %q: %w", name, ErrStatus)
	}
	return nil
}

func (b *Bridge) HasProperty(ctx context.Context, jsCtx, obj uint32, name string) (bool, error) {
	namePtr, err := b.WriteString(ctx, name)
	if err != nil {
		return false, err
	}
	defer b.alloc.Free(ctx, namePtr)

	r, err := b.call1(ctx, b.fn.hasProperty, uint64(jsCtx), uint64(obj), uint64(namePtr))
	if err != nil {
		return false, err
	}
	return int32(r) > 0, nil
}

func (b *Bridge) DeleteProperty(ctx context.Context, jsCtx, obj uint32, name string) error {
	namePtr, err := b.WriteString(ctx, name)
	if err != nil {
		return err
	}
	defer b.alloc.Free(ctx, namePtr)

	r, err := b.call1(ctx, b.fn.deleteProperty, uint64(jsCtx), uint64(obj), uint64(namePtr))
	if err != nil {
		return err
	}
	if int32(r) < 0 {
		return fmt.Errorf("delete property %q: %w", name, ErrStatus)
	}
	return nil
}

func (b *Bridge) GetPropertyIndex(ctx context.Context, jsCtx, obj, idx uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.getPropertyIdx, uint64(jsCtx), uint64(obj), uint64(idx))
	return uint32(r), err
}

func (b *Bridge) SetPropertyIndex(ctx context.Context, jsCtx, obj, idx, val uint32) error {
	r, err := b.call1(ctx, b.fn.setPropertyIdx, uint64(jsCtx), uint64(obj), uint64(idx), uint64(val))
	if err != nil {
		return err
	}
	if int32(r) < 0 {
		return fmt.Errorf("set index %d: %w", idx, ErrStatus)
	}
	return nil
}

func (b *Bridge) GlobalObject(ctx context.Context, jsCtx uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.globalObject, uint64(jsCtx))
	return uint32(r), err
}

// Calls

func (b *Bridge) Call(ctx context.Context, jsCtx, fn, this uint32, args []uint32) (uint32, error) {
	argvPtr, free, err := b.writeArgv(ctx, args)
	if err != nil {
		return 0, err
	}
	defer free()

	r, err := b.call1(ctx, b.fn.call,
		uint64(jsCtx), uint64(fn), uint64(this), uint64(len(args)), uint64(argvPtr))
	return uint32(r), err
}

func (b *Bridge) Invoke(ctx context.Context, jsCtx, obj uint32, method string, args []uint32) (uint32, error) {
	methodPtr, err := b.WriteString(ctx, method)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, methodPtr)

	argvPtr, free, err := b.writeArgv(ctx, args)
	if err != nil {
		return 0, err
	}
	defer free()

	r, err := b.call1(ctx, b.fn.invoke,
		uint64(jsCtx), uint64(obj), uint64(methodPtr), uint64(len(args)), uint64(argvPtr))
	return uint32(r), err
}

func (b *Bridge) CallConstructor(ctx context.Context, jsCtx, fn uint32, args []uint32) (uint32, error) {
	argvPtr, free, err := b.writeArgv(ctx, args)
	if err != nil {
		return 0, err
	}
	defer free()

	r, err := b.call1(ctx, b.fn.callConstructor,
		uint64(jsCtx), uint64(fn), uint64(len(args)), uint64(argvPtr))
	return uint32(r), err
}

// NewCFunction creates a function object that calls back into the host
// through the trampoline with the given record id.
func (b *Bridge) NewCFunction(ctx context.Context, jsCtx, fnID uint32, name string, argCount int32) (uint32, error) {
	namePtr, err := b.WriteString(ctx, name)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, namePtr)

	r, err := b.call1(ctx, b.fn.newCFunction,
		uint64(jsCtx), uint64(fnID), uint64(namePtr), uint64(uint32(argCount)))
	if err != nil {
		return 0, err
	}
	return uint32(r), nil
}

// Exceptions

func (b *Bridge) HasException(ctx context.Context, jsCtx uint32) (bool, error) {
	return b.callBool(ctx, b.fn.hasException, uint64(jsCtx))
}

func (b *Bridge) GetException(ctx context.Context, jsCtx uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.getException, uint64(jsCtx))
	return uint32(r), err
}

// Throw marks val as the context's pending exception. Returns the exception
// sentinel handle to hand back to the engine.
func (b *Bridge) Throw(ctx context.Context, jsCtx, val uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.throw, uint64(jsCtx), uint64(val))
	return uint32(r), err
}

func (b *Bridge) ThrowError(ctx context.Context, jsCtx uint32, msg string) (uint32, error) {
	msgPtr, err := b.WriteString(ctx, msg)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, msgPtr)

	r, err := b.call1(ctx, b.fn.throwError, uint64(jsCtx), uint64(msgPtr))
	return uint32(r), err
}

func (b *Bridge) ThrowTypeError(ctx context.Context, jsCtx uint32, msg string) (uint32, error) {
	msgPtr, err := b.WriteString(ctx, msg)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, msgPtr)

	r, err := b.call1(ctx, b.fn.throwTypeError, uint64(jsCtx), uint64(msgPtr))
	return uint32(r), err
}

func (b *Bridge) ErrorMessage(ctx context.Context, jsCtx, errVal uint32) (string, error) {
	const bufLen = 1024
	bufPtr, err := b.alloc.Alloc(ctx, bufLen)
	if err != nil {
		return "", err
	}
	defer b.alloc.Free(ctx, bufPtr)

	_, err = b.call1(ctx, b.fn.errorMessage, uint64(jsCtx), uint64(errVal), uint64(bufPtr), bufLen)
	if err != nil {
		return "", err
	}
	return string(b.ReadCString(bufPtr)), nil
}

func (b *Bridge) ErrorStack(ctx context.Context, jsCtx, errVal uint32) (string, error) {
	r, err := b.call1(ctx, b.fn.errorStack, uint64(jsCtx), uint64(errVal))
	if err != nil {
		return "", err
	}
	raw, err := b.ToString(ctx, jsCtx, uint32(r))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Value management

func (b *Bridge) DupValue(ctx context.Context, jsCtx, val uint32) (uint32, error) {
	r, err := b.call1(ctx, b.fn.dupValue, uint64(jsCtx), uint64(val))
	return uint32(r), err
}

func (b *Bridge) FreeValue(ctx context.Context, jsCtx, val uint32) error {
	_, err := b.fn.freeValue.Call(ctx, uint64(jsCtx), uint64(val))
	return err
}

// Misc

func (b *Bridge) JSONParse(ctx context.Context, jsCtx uint32, src string) (uint32, error) {
	srcPtr, err := b.WriteString(ctx, src)
	if err != nil {
		return 0, err
	}
	defer b.alloc.Free(ctx, srcPtr)

	r, err := b.call1(ctx, b.fn.jsonParse, uint64(jsCtx), uint64(srcPtr), uint64(len(src)))
	return uint32(r), err
}

func (b *Bridge) JSONStringify(ctx context.Context, jsCtx, val uint32) (string, error) {
	r, err := b.call1(ctx, b.fn.jsonStringify, uint64(jsCtx), uint64(val))
	if err != nil {
		return "", err
	}
	raw, err := b.ToString(ctx, jsCtx, uint32(r))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (b *Bridge) StrictEq(ctx context.Context, jsCtx, a, c uint32) (bool, error) {
	r, err := b.call1(ctx, b.fn.strictEq, uint64(jsCtx), uint64(a), uint64(c))
	if err != nil {
		return false, err
	}
	return int32(r) > 0, nil
}

func (b *Bridge) InstanceOf(ctx context.Context, jsCtx, val, ctor uint32) (bool, error) {
	r, err := b.call1(ctx, b.fn.instanceOf, uint64(jsCtx), uint64(val), uint64(ctor))
	if err != nil {
		return false, err
	}
	return int32(r) > 0, nil
}

// outParam drives a conversion export with an out-pointer of the given size
// and returns the bytes it wrote.
func (b *Bridge) outParam(ctx context.Context, jsCtx, val uint32, fn api.Function, size uint32) ([]byte, error) {
	outPtr, err := b.alloc.Alloc(ctx, size)
	if err != nil {
		return nil, err
	}
	defer b.alloc.Free(ctx, outPtr)

	r, err := b.call1(ctx, fn, uint64(jsCtx), uint64(val), uint64(outPtr))
	if err != nil {
		return nil, err
	}
	if int32(r) != 0 {
		return nil, fmt.Errorf("numeric conversion: %w", ErrStatus)
	}

	buf, ok := b.memory.Read(outPtr, size)
	if !ok {
		return nil, fmt.Errorf("out-parameter read out of bounds")
	}
	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}
