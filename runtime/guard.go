package runtime

import (
	"bytes"
	rt "runtime"
	"strconv"
	"sync"

	"github.com/wippyai/quickjs-runtime/errors"
)

// guard serializes entry into the engine per Runtime. The engine instance is
// single-threaded; the guard admits one goroutine at a time but lets that
// goroutine re-enter freely, so a host callback can call back into its
// Context without deadlocking.
type guard struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int

	// nonBlocking makes cross-goroutine entry fail fast instead of waiting.
	nonBlocking bool
}

func newGuard(nonBlocking bool) *guard {
	g := &guard{nonBlocking: nonBlocking}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// enter acquires the guard for the calling goroutine. Nested entry from the
// owning goroutine increments depth and returns immediately.
func (g *guard) enter() error {
	gid := goroutineID()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth > 0 && g.owner == gid {
		g.depth++
		return nil
	}

	if g.nonBlocking && g.depth > 0 {
		return errors.WouldBlock()
	}

	for g.depth > 0 {
		g.cond.Wait()
	}

	g.owner = gid
	g.depth = 1
	return nil
}

// exit releases one level of entry. The outermost exit wakes a waiter.
func (g *guard) exit() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.depth--
	if g.depth == 0 {
		g.owner = 0
		g.cond.Signal()
	}
}

// held reports whether the calling goroutine currently owns the guard.
func (g *guard) held() bool {
	gid := goroutineID()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth > 0 && g.owner == gid
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the goroutine id out of the stack header. The header
// format ("goroutine N [state]:") is stable across Go releases.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:rt.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)

	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(buf[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
