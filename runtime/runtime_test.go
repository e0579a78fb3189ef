package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/quickjs-runtime/engine"
	"github.com/wippyai/quickjs-runtime/errors"
)

// newTestContext builds a runtime and context torn down with the test.
func newTestContext(t *testing.T, cfg *Config) (*Runtime, *Context) {
	t.Helper()
	ctx := context.Background()

	rt, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	c, err := rt.NewContext(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		t.Fatalf("create context: %v", err)
	}

	t.Cleanup(func() {
		_ = c.Close(ctx)
		_ = rt.Close(ctx)
	})
	return rt, c
}

func TestEvalArithmetic(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	v, err := c.Eval(ctx, "1 + 1", "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer v.Free(ctx)

	n, err := v.Int32(ctx)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestEvalResults(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	tests := []struct {
		name   string
		source string
		check  func(t *testing.T, v Value)
	}{
		{
			name:   "string",
			source: `"hello " + "world"`,
			check: func(t *testing.T, v Value) {
				s, err := v.String(ctx)
				if err != nil {
					t.Fatalf("read string: %v", err)
				}
				if s != "hello world" {
					t.Fatalf("expected %q, got %q", "hello world", s)
				}
			},
		},
		{
			name:   "bool",
			source: "1 < 2",
			check: func(t *testing.T, v Value) {
				b, err := v.Bool(ctx)
				if err != nil {
					t.Fatalf("read bool: %v", err)
				}
				if !b {
					t.Fatal("expected true")
				}
			},
		},
		{
			name:   "float",
			source: "0.5 + 0.25",
			check: func(t *testing.T, v Value) {
				f, err := v.Float64(ctx)
				if err != nil {
					t.Fatalf("read float: %v", err)
				}
				if f != 0.75 {
					t.Fatalf("expected 0.75, got %v", f)
				}
			},
		},
		{
			name:   "undefined",
			source: "void 0",
			check: func(t *testing.T, v Value) {
				if !v.IsUndefined(ctx) {
					t.Fatal("expected undefined")
				}
			},
		},
		{
			name:   "array kind",
			source: "[1, 2, 3]",
			check: func(t *testing.T, v Value) {
				k, err := v.Kind(ctx)
				if err != nil {
					t.Fatalf("kind: %v", err)
				}
				if k != KindArray {
					t.Fatalf("expected array, got %s", k)
				}
				n, err := v.Len(ctx)
				if err != nil {
					t.Fatalf("len: %v", err)
				}
				if n != 3 {
					t.Fatalf("expected length 3, got %d", n)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := c.Eval(ctx, tt.source, "")
			if err != nil {
				t.Fatalf("eval %q: %v", tt.source, err)
			}
			defer v.Free(ctx)
			tt.check(t, v)
		})
	}
}

func TestEvalSyntaxError(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	_, err := c.Eval(ctx, "{", "bad.js")
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if !IsSyntaxError(err) {
		t.Fatalf("expected syntax error, got %v", err)
	}
	exc := AsException(err)
	if exc == nil {
		t.Fatalf("expected script exception, got %v", err)
	}
	if !exc.Syntax() {
		t.Fatalf("exception should be flagged as syntax: %v", exc)
	}
}

func TestEvalThrow(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	_, err := c.Eval(ctx, `throw new TypeError("boom")`, "")
	if err == nil {
		t.Fatal("expected thrown exception")
	}
	exc := AsException(err)
	if exc == nil {
		t.Fatalf("expected script exception, got %v", err)
	}
	if exc.Name() != "TypeError" {
		t.Fatalf("expected TypeError, got %q", exc.Name())
	}
	if exc.Message() != "boom" {
		t.Fatalf("expected message %q, got %q", "boom", exc.Message())
	}
}

func TestHostFunction(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	add := func(ctx context.Context, c *Context, this Value, args []Value) (Value, error) {
		if len(args) != 2 {
			return Value{}, errors.InvalidInput(errors.PhaseCall, "add needs two arguments")
		}
		a, err := args[0].Float64(ctx)
		if err != nil {
			return Value{}, err
		}
		b, err := args[1].Float64(ctx)
		if err != nil {
			return Value{}, err
		}
		return c.ToValue(ctx, a+b)
	}

	if err := c.SetGlobal(ctx, "add", Func(add)); err != nil {
		t.Fatalf("install host function: %v", err)
	}

	v, err := c.Eval(ctx, "add(2, 3)", "")
	if err != nil {
		t.Fatalf("call host function: %v", err)
	}
	defer v.Free(ctx)

	n, err := v.Int32(ctx)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5, got %d", n)
	}
}

func TestHostFunctionThrows(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	fail := func(ctx context.Context, c *Context, this Value, args []Value) (Value, error) {
		return Value{}, stderrors.New("host said no")
	}
	if err := c.SetGlobal(ctx, "fail", Func(fail)); err != nil {
		t.Fatalf("install host function: %v", err)
	}

	v, err := c.Eval(ctx, `
		(function () {
			try { fail(); return "no throw"; }
			catch (e) { return e.message; }
		})()
	`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer v.Free(ctx)

	msg, err := v.String(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !strings.Contains(msg, "host said no") {
		t.Fatalf("script did not see the host error: %q", msg)
	}
}

func TestHostFunctionPanicBecomesThrow(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	boom := func(ctx context.Context, c *Context, this Value, args []Value) (Value, error) {
		panic("unexpected")
	}
	if err := c.SetGlobal(ctx, "boom", Func(boom)); err != nil {
		t.Fatalf("install host function: %v", err)
	}

	v, err := c.Eval(ctx, `
		(function () {
			try { boom(); return "no throw"; }
			catch (e) { return "caught"; }
		})()
	`, "")
	if err != nil {
		t.Fatalf("eval after panic: %v", err)
	}
	defer v.Free(ctx)

	s, err := v.String(ctx)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if s != "caught" {
		t.Fatalf("panic did not surface as a catchable throw: %q", s)
	}
}

func TestCrossContextRejected(t *testing.T) {
	ctx := context.Background()
	rt, c1 := newTestContext(t, nil)

	c2, err := rt.NewContext(ctx)
	if err != nil {
		t.Fatalf("create second context: %v", err)
	}
	defer c2.Close(ctx)

	v, err := c1.Eval(ctx, `({a: 1})`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer v.Free(ctx)

	g2, err := c2.Global(ctx)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	defer g2.Free(ctx)

	err = g2.Set(ctx, "leaked", v)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindCrossContext {
		t.Fatalf("expected cross_context error, got %v", err)
	}
}

func TestRuntimeCloseWithOpenContext(t *testing.T) {
	ctx := context.Background()

	rt, err := New(ctx, nil)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	c, err := rt.NewContext(ctx)
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	err = rt.Close(ctx)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindLifecycle {
		t.Fatalf("expected lifecycle error, got %v", err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("close context: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close runtime after contexts: %v", err)
	}
}

func TestClosedContextRejected(t *testing.T) {
	ctx := context.Background()

	rt, err := New(ctx, nil)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	defer rt.Close(ctx)

	c, err := rt.NewContext(ctx)
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close context: %v", err)
	}
	// Closing twice stays a no-op.
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_, err = c.Eval(ctx, "1", "")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestValueFreeIdempotent(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	v, err := c.Eval(ctx, `"x"`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if err := v.Free(ctx); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := v.Free(ctx); err != nil {
		t.Fatalf("second free should be a no-op: %v", err)
	}
	if err := (Value{}).Free(ctx); err != nil {
		t.Fatalf("freeing the zero value should be a no-op: %v", err)
	}
}

func TestValueClone(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	v, err := c.Eval(ctx, `({n: 7})`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}

	clone, err := v.Clone(ctx)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if err := v.Free(ctx); err != nil {
		t.Fatalf("free original: %v", err)
	}

	// Clone survives freeing the original.
	n, err := clone.Get(ctx, "n")
	if err != nil {
		t.Fatalf("get through clone: %v", err)
	}
	defer n.Free(ctx)
	defer clone.Free(ctx)

	got, err := n.Int32(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestCallFunction(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	fn, err := c.Eval(ctx, `(function (a, b) { return a * b; })`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer fn.Free(ctx)

	if !fn.IsFunction(ctx) {
		t.Fatal("expected a function")
	}

	a, err := c.ToValue(ctx, 6)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	defer a.Free(ctx)
	b, err := c.ToValue(ctx, 7)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	defer b.Free(ctx)

	out, err := fn.Call(ctx, Value{}, a, b)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer out.Free(ctx)

	n, err := out.Int32(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestRequireLoader(t *testing.T) {
	ctx := context.Background()

	modules := map[string]string{
		"answer": "module.exports = 42;",
		"greet":  `const n = require("answer"); module.exports = "got " + n;`,
	}
	cfg := &Config{
		Loader: func(specifier string) (string, error) {
			src, ok := modules[specifier]
			if !ok {
				return "", stderrors.New("unknown module")
			}
			return src, nil
		},
	}
	_, c := newTestContext(t, cfg)

	v, err := c.Eval(ctx, `require("greet")`, "")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	defer v.Free(ctx)

	s, err := v.String(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s != "got 42" {
		t.Fatalf("expected %q, got %q", "got 42", s)
	}

	// Unresolvable specifiers throw into script.
	_, err = c.Eval(ctx, `require("missing")`, "")
	if err == nil {
		t.Fatal("expected module-not-found throw")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("error should name the specifier: %v", err)
	}
}

func TestFunctionRecordReleasedOnClose(t *testing.T) {
	ctx := context.Background()

	rt, err := New(ctx, nil)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	c, err := rt.NewContext(ctx)
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	// Registered but never invoked from script.
	fn, err := c.Function(ctx, "orphan", func(ctx context.Context, c *Context, this Value, args []Value) (Value, error) {
		return Value{}, nil
	})
	if err != nil {
		t.Fatalf("create function: %v", err)
	}
	if err := fn.Free(ctx); err != nil {
		t.Fatalf("free function value: %v", err)
	}
	if rt.LiveRecords() == 0 {
		t.Fatal("function record should be held until release")
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("close context: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close runtime: %v", err)
	}
	if n := rt.LiveRecords(); n != 0 {
		t.Fatalf("%d record(s) leaked past runtime close", n)
	}
}

func TestExecutePendingJobs(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	v, err := c.Eval(ctx, `
		globalThis.settled = false;
		Promise.resolve().then(() => { globalThis.settled = true; });
		"queued"
	`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	_ = v.Free(ctx)

	if _, err := rt.ExecutePendingJobs(ctx); err != nil {
		t.Fatalf("execute pending jobs: %v", err)
	}

	settled, err := c.GetGlobal(ctx, "settled")
	if err != nil {
		t.Fatalf("read flag: %v", err)
	}
	defer settled.Free(ctx)

	ok, err := settled.Bool(ctx)
	if err != nil {
		t.Fatalf("read bool: %v", err)
	}
	if !ok {
		t.Fatal("promise reaction never ran")
	}
}

func TestHostFunctionChurn(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	for i := 0; i < 25; i++ {
		want := i
		fn, err := c.Function(ctx, "echo", func(ctx context.Context, c *Context, this Value, args []Value) (Value, error) {
			return c.ToValue(ctx, want)
		})
		if err != nil {
			t.Fatalf("create function %d: %v", i, err)
		}

		out, err := fn.Call(ctx, Value{})
		if err != nil {
			t.Fatalf("call function %d: %v", i, err)
		}
		n, err := out.Int32(ctx)
		if err != nil {
			t.Fatalf("read result %d: %v", i, err)
		}
		if n != int32(want) {
			t.Fatalf("function %d returned %d", want, n)
		}
		_ = out.Free(ctx)
		_ = fn.Free(ctx)
	}
}

func TestFrozenObjectAssignment(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	obj, err := c.Eval(ctx, "Object.freeze({a: 1})", "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer obj.Free(ctx)

	val, err := c.ToValue(ctx, 2)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	defer val.Free(ctx)

	err = obj.Set(ctx, "a", val)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindException {
		t.Fatalf("expected exception error, got %v", err)
	}

	// The throw must be drained: the next call sees a clean slate.
	v, err := c.Eval(ctx, "1 + 1", "")
	if err != nil {
		t.Fatalf("eval after failed set: %v", err)
	}
	defer v.Free(ctx)
	if n, _ := v.Int32(ctx); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestFrozenArrayAssignment(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	arr, err := c.Eval(ctx, "Object.freeze([1, 2, 3])", "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer arr.Free(ctx)

	val, err := c.ToValue(ctx, 9)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	defer val.Free(ctx)

	err = arr.SetIndex(ctx, 0, val)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindException {
		t.Fatalf("expected exception error, got %v", err)
	}

	v, err := c.Eval(ctx, "40 + 2", "")
	if err != nil {
		t.Fatalf("eval after failed set: %v", err)
	}
	defer v.Free(ctx)
	if n, _ := v.Int32(ctx); n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestHeapExhaustionClassified(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContext(t, nil)

	err := c.engineFault(ctx, errors.PhaseEval,
		fmt.Errorf("alloc 64 bytes: %w", engine.ErrNoMemory), "write source")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindAllocation {
		t.Fatalf("expected allocation error, got %v", err)
	}
}

func TestMemoryUsage(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	v, err := c.Eval(ctx, `new Array(1024).fill("x")`, "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer v.Free(ctx)

	usage, err := rt.MemoryUsage(ctx)
	if err != nil {
		t.Fatalf("memory usage: %v", err)
	}
	if usage.HeapBytes == 0 {
		t.Fatal("expected nonzero heap usage")
	}
	if usage.LiveRecords != rt.LiveRecords() {
		t.Fatalf("usage reports %d records, arena has %d", usage.LiveRecords, rt.LiveRecords())
	}
}
