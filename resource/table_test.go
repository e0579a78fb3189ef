package resource

import (
	"sync"
	"testing"
)

type dropCounter struct {
	mu    sync.Mutex
	drops int
}

func (d *dropCounter) Drop() {
	d.mu.Lock()
	d.drops++
	d.mu.Unlock()
}

func (d *dropCounter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drops
}

func TestTable_InsertGet(t *testing.T) {
	table := NewTable()

	h := table.Insert(KindFunction, "fn")
	if h == 0 {
		t.Fatal("insert returned invalid handle")
	}

	v, ok := table.Get(h)
	if !ok || v != "fn" {
		t.Fatalf("Get(%d) = %v, %v", h, v, ok)
	}

	if _, ok := table.Get(h + 1); ok {
		t.Error("unknown handle resolved")
	}
	if _, ok := table.Get(0); ok {
		t.Error("zero handle resolved")
	}
}

func TestTable_GetKind(t *testing.T) {
	table := NewTable()

	h := table.Insert(KindInstance, 42)

	if v, ok := table.GetKind(h, KindInstance); !ok || v != 42 {
		t.Fatalf("GetKind with matching kind failed: %v, %v", v, ok)
	}
	if _, ok := table.GetKind(h, KindFunction); ok {
		t.Error("GetKind resolved with wrong kind")
	}

	k, ok := table.Kind(h)
	if !ok || k != KindInstance {
		t.Errorf("Kind(%d) = %s, %v", h, k, ok)
	}
}

func TestTable_RemoveDropsOnce(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}

	h := table.Insert(KindFunction, d)

	if _, ok := table.Remove(h); !ok {
		t.Fatal("first Remove failed")
	}
	if _, ok := table.Remove(h); ok {
		t.Fatal("second Remove succeeded")
	}
	if d.count() != 1 {
		t.Errorf("drops = %d, want 1", d.count())
	}
}

func TestTable_HandlesAreUnique(t *testing.T) {
	table := NewTable()
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		h := table.Insert(KindInternal, i)
		if seen[h] {
			t.Fatalf("handle %d reused", h)
		}
		seen[h] = true
	}
	// Handles are not recycled after removal.
	var first Handle
	for h := range seen {
		first = h
		break
	}
	table.Remove(first)
	if h := table.Insert(KindInternal, "again"); seen[h] {
		t.Errorf("handle %d recycled after removal", h)
	}
}

func TestTable_Close(t *testing.T) {
	table := NewTable()
	d1 := &dropCounter{}
	d2 := &dropCounter{}

	h1 := table.Insert(KindFunction, d1)
	table.Insert(KindInstance, d2)
	table.Remove(h1)

	table.Close()

	if d1.count() != 1 {
		t.Errorf("removed record dropped %d times, want 1", d1.count())
	}
	if d2.count() != 1 {
		t.Errorf("drained record dropped %d times, want 1", d2.count())
	}
	if table.Len() != 0 {
		t.Errorf("Len after Close = %d", table.Len())
	}
	if h := table.Insert(KindFunction, "late"); h != 0 {
		t.Errorf("insert after Close returned %d, want 0", h)
	}
}

func TestTable_ConcurrentAccess(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h := table.Insert(KindFunction, j)
				if _, ok := table.Get(h); !ok {
					t.Error("inserted handle not found")
					return
				}
				table.Remove(h)
			}
		}()
	}
	wg.Wait()

	if table.Len() != 0 {
		t.Errorf("Len = %d, want 0", table.Len())
	}
}
