package runtime

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/quickjs-runtime/errors"
)

func TestGuardReentrant(t *testing.T) {
	g := newGuard(false)

	if err := g.enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := g.enter(); err != nil {
		t.Fatalf("nested enter: %v", err)
	}
	if !g.held() {
		t.Fatal("guard should be held")
	}
	g.exit()
	if !g.held() {
		t.Fatal("guard should still be held after inner exit")
	}
	g.exit()
	if g.held() {
		t.Fatal("guard should be released after outermost exit")
	}
}

func TestGuardBlocksOtherGoroutine(t *testing.T) {
	g := newGuard(false)
	if err := g.enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}

	entered := make(chan struct{})
	go func() {
		if err := g.enter(); err != nil {
			t.Errorf("second enter: %v", err)
		}
		close(entered)
		g.exit()
	}()

	select {
	case <-entered:
		t.Fatal("second goroutine entered while guard was held")
	case <-time.After(50 * time.Millisecond):
	}

	g.exit()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second goroutine never entered after release")
	}
}

func TestGuardNonBlocking(t *testing.T) {
	g := newGuard(true)
	if err := g.enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer g.exit()

	// Same goroutine still nests.
	if err := g.enter(); err != nil {
		t.Fatalf("nested enter: %v", err)
	}
	g.exit()

	var wg sync.WaitGroup
	wg.Add(1)
	var got error
	go func() {
		defer wg.Done()
		got = g.enter()
	}()
	wg.Wait()

	var e *errors.Error
	if !stderrors.As(got, &e) || e.Kind != errors.KindWouldBlock {
		t.Fatalf("expected would_block error, got %v", got)
	}
}

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	if id == 0 {
		t.Fatal("goroutine id not parsed")
	}

	var other uint64
	done := make(chan struct{})
	go func() {
		other = goroutineID()
		close(done)
	}()
	<-done

	if other == 0 || other == id {
		t.Fatalf("goroutine ids should differ: %d vs %d", id, other)
	}
}
