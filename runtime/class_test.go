package runtime

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/wippyai/quickjs-runtime/errors"
)

type counter struct {
	n int64
}

func counterClass(finalized *atomic.Int64) ClassDef {
	return ClassDef{
		Name: "Counter",
		Accessors: map[string]Accessor{
			"value": {
				Get: func(ctx context.Context, c *Context, recv any) (any, error) {
					return recv.(*counter).n, nil
				},
				Set: func(ctx context.Context, c *Context, recv any, v Value) error {
					n, err := v.Int64(ctx)
					if err != nil {
						return err
					}
					recv.(*counter).n = n
					return nil
				},
			},
		},
		Methods: map[string]Method{
			"increment": func(ctx context.Context, c *Context, recv any, args []Value) (Value, error) {
				recv.(*counter).n++
				return c.ToValue(ctx, recv.(*counter).n)
			},
		},
		Finalizer: func(recv any) {
			if finalized != nil {
				finalized.Add(1)
			}
		},
	}
}

func TestClassAccessors(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	id, err := rt.RegisterClass(counterClass(nil))
	if err != nil {
		t.Fatalf("register class: %v", err)
	}

	inst := &counter{n: 10}
	v, err := c.WrapInstance(ctx, id, inst)
	if err != nil {
		t.Fatalf("wrap instance: %v", err)
	}
	defer v.Free(ctx)

	if err := c.SetGlobal(ctx, "counter", v); err != nil {
		t.Fatalf("set global: %v", err)
	}

	got, err := c.Eval(ctx, "counter.value", "")
	if err != nil {
		t.Fatalf("read accessor: %v", err)
	}
	defer got.Free(ctx)
	n, err := got.Int64(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10, got %d", n)
	}

	// Setter writes through to the boxed Go value.
	if _, err := c.Eval(ctx, "counter.value = 99", ""); err != nil {
		t.Fatalf("write accessor: %v", err)
	}
	if inst.n != 99 {
		t.Fatalf("setter did not reach the Go value: %d", inst.n)
	}
}

func TestClassMethods(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	id, err := rt.RegisterClass(counterClass(nil))
	if err != nil {
		t.Fatalf("register class: %v", err)
	}

	inst := &counter{}
	v, err := c.WrapInstance(ctx, id, inst)
	if err != nil {
		t.Fatalf("wrap instance: %v", err)
	}
	defer v.Free(ctx)
	if err := c.SetGlobal(ctx, "counter", v); err != nil {
		t.Fatalf("set global: %v", err)
	}

	out, err := c.Eval(ctx, "counter.increment(); counter.increment(); counter.increment()", "")
	if err != nil {
		t.Fatalf("call method: %v", err)
	}
	defer out.Free(ctx)

	n, err := out.Int64(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 3 || inst.n != 3 {
		t.Fatalf("expected 3 increments, got result %d, state %d", n, inst.n)
	}
}

func TestUnwrap(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	id, err := rt.RegisterClass(counterClass(nil))
	if err != nil {
		t.Fatalf("register class: %v", err)
	}

	inst := &counter{n: 5}
	v, err := c.WrapInstance(ctx, id, inst)
	if err != nil {
		t.Fatalf("wrap instance: %v", err)
	}
	defer v.Free(ctx)

	back, err := Unwrap[*counter](ctx, v)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if back != inst {
		t.Fatal("unwrap returned a different instance")
	}

	// Wrong target type fails with type_mismatch.
	_, err = Unwrap[*testUser](ctx, v)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindTypeMismatch {
		t.Fatalf("expected type_mismatch, got %v", err)
	}

	// Plain objects are not instances.
	plain, err := c.Eval(ctx, "({})", "")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	defer plain.Free(ctx)
	_, err = Unwrap[*counter](ctx, plain)
	if !stderrors.As(err, &e) || e.Kind != errors.KindTypeMismatch {
		t.Fatalf("expected type_mismatch for plain object, got %v", err)
	}
}

func TestFinalizerRunsOnce(t *testing.T) {
	ctx := context.Background()

	rt, err := New(ctx, nil)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	c, err := rt.NewContext(ctx)
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	var finalized atomic.Int64
	id, err := rt.RegisterClass(counterClass(&finalized))
	if err != nil {
		t.Fatalf("register class: %v", err)
	}

	v, err := c.WrapInstance(ctx, id, &counter{})
	if err != nil {
		t.Fatalf("wrap instance: %v", err)
	}
	if err := v.Free(ctx); err != nil {
		t.Fatalf("free wrapper: %v", err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("close context: %v", err)
	}
	// Runtime close drains the arena: whatever the engine GC never
	// collected is dropped here, exactly once.
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close runtime: %v", err)
	}

	if got := finalized.Load(); got != 1 {
		t.Fatalf("finalizer ran %d times, expected exactly once", got)
	}
}

func TestCallableInstance(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	def := ClassDef{
		Name: "Doubler",
		Call: func(ctx context.Context, cc *Context, recv any, args []Value) (Value, error) {
			n, err := args[0].Int64(ctx)
			if err != nil {
				return Value{}, err
			}
			return cc.ToValue(ctx, n*2)
		},
	}
	id, err := rt.RegisterClass(def)
	if err != nil {
		t.Fatalf("register class: %v", err)
	}

	v, err := c.WrapInstance(ctx, id, struct{}{})
	if err != nil {
		t.Fatalf("wrap instance: %v", err)
	}
	defer v.Free(ctx)
	if err := c.SetGlobal(ctx, "double", v); err != nil {
		t.Fatalf("set global: %v", err)
	}

	out, err := c.Eval(ctx, "double(21)", "")
	if err != nil {
		t.Fatalf("call instance: %v", err)
	}
	defer out.Free(ctx)

	n, err := out.Int64(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestWrapInstanceUnknownClass(t *testing.T) {
	ctx := context.Background()
	rt, c := newTestContext(t, nil)

	// A function record's id is not a class id; neither is a free slot.
	fn, err := c.Function(ctx, "noop", func(ctx context.Context, c *Context, this Value, args []Value) (Value, error) {
		return Value{}, nil
	})
	if err != nil {
		t.Fatalf("create function: %v", err)
	}
	defer fn.Free(ctx)

	for _, id := range []ClassID{1, 9999} {
		_, err := c.WrapInstance(ctx, id, &counter{})
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Kind != errors.KindNotFound {
			t.Fatalf("id %d: expected not_found error, got %v", id, err)
		}
	}

	if _, err := rt.RegisterClass(counterClass(nil)); err != nil {
		t.Fatalf("register class: %v", err)
	}
}
