package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	quickjsruntime "github.com/wippyai/quickjs-runtime"
)

// memoryAdapter bridges wazero's api.Memory, which reports failure with a
// bool, to the error-returning Memory interface.
type memoryAdapter struct {
	mem api.Memory
}

func (m memoryAdapter) Read(offset, length uint32) ([]byte, error) {
	buf, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read [%d, %d) out of bounds", offset, offset+length)
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

func (m memoryAdapter) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("memory write [%d, %d) out of bounds", offset, offset+uint32(len(data)))
	}
	return nil
}

// heapAllocator is the default scratch allocator: it borrows the engine's own
// heap through qjs_alloc/qjs_free, so scratch regions count against the
// runtime's memory limit like everything else.
type heapAllocator struct {
	b *Bridge
}

func (a *heapAllocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	r, err := a.b.call1(ctx, a.b.fn.alloc, uint64(size))
	if err != nil {
		return 0, err
	}
	if uint32(r) == 0 {
		return 0, fmt.Errorf("alloc %d bytes: %w", size, ErrNoMemory)
	}
	return uint32(r), nil
}

func (a *heapAllocator) Realloc(ctx context.Context, ptr, oldSize, size uint32) (uint32, error) {
	newPtr, err := a.Alloc(ctx, size)
	if err != nil {
		return 0, err
	}
	if ptr != 0 && oldSize > 0 {
		n := oldSize
		if size < n {
			n = size
		}
		buf, ok := a.b.memory.Read(ptr, n)
		if !ok {
			_ = a.Free(ctx, newPtr)
			return 0, fmt.Errorf("realloc source read out of bounds")
		}
		if !a.b.memory.Write(newPtr, buf) {
			_ = a.Free(ctx, newPtr)
			return 0, fmt.Errorf("realloc destination write out of bounds")
		}
		_ = a.Free(ctx, ptr)
	}
	return newPtr, nil
}

func (a *heapAllocator) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	_, err := a.b.fn.free.Call(ctx, uint64(ptr))
	return err
}

// UsableSize reports 0: the engine heap does not expose block sizes.
func (a *heapAllocator) UsableSize(ptr uint32) uint32 {
	return 0
}

var argvPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 64)
		return &b
	},
}

// WriteString copies s into engine memory with a trailing NUL and returns the
// pointer. Caller frees through the bridge allocator.
func (b *Bridge) WriteString(ctx context.Context, s string) (uint32, error) {
	ptr, err := b.alloc.Alloc(ctx, uint32(len(s))+1)
	if err != nil {
		return 0, err
	}
	if len(s) > 0 {
		if !b.memory.WriteString(ptr, s) {
			_ = b.alloc.Free(ctx, ptr)
			return 0, fmt.Errorf("string write out of bounds")
		}
	}
	if !b.memory.WriteByte(ptr+uint32(len(s)), 0) {
		_ = b.alloc.Free(ctx, ptr)
		return 0, fmt.Errorf("string terminator write out of bounds")
	}
	return ptr, nil
}

// WriteBytes copies data into engine memory and returns the pointer. Caller
// frees through the bridge allocator.
func (b *Bridge) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := b.alloc.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if len(data) > 0 {
		if !b.memory.Write(ptr, data) {
			_ = b.alloc.Free(ctx, ptr)
			return 0, fmt.Errorf("bytes write out of bounds")
		}
	}
	return ptr, nil
}

// ReadCString reads a NUL-terminated string starting at ptr. Returns nil when
// ptr is 0 or out of bounds.
func (b *Bridge) ReadCString(ptr uint32) []byte {
	if ptr == 0 {
		return nil
	}
	end := ptr
	for {
		c, ok := b.memory.ReadByte(end)
		if !ok {
			return nil
		}
		if c == 0 {
			break
		}
		end++
	}
	if end == ptr {
		return []byte{}
	}
	buf, ok := b.memory.Read(ptr, end-ptr)
	if !ok {
		return nil
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// ReadBytes copies length bytes from engine memory starting at ptr.
func (b *Bridge) ReadBytes(ptr, length uint32) ([]byte, error) {
	buf, ok := b.memory.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("memory read [%d, %d) out of bounds", ptr, ptr+length)
	}
	out := make([]byte, length)
	copy(out, buf)
	return out, nil
}

// writeArgv serializes value handles into engine memory as the argv block the
// call exports expect. The returned func releases the block; it is valid even
// when argv is empty.
func (b *Bridge) writeArgv(ctx context.Context, args []uint32) (uint32, func(), error) {
	if len(args) == 0 {
		return 0, func() {}, nil
	}

	bp := argvPool.Get().(*[]byte)
	buf := (*bp)[:0]
	for _, h := range args {
		buf = binary.LittleEndian.AppendUint32(buf, h)
	}

	ptr, err := b.alloc.Alloc(ctx, uint32(len(buf)))
	if err != nil {
		*bp = buf
		argvPool.Put(bp)
		return 0, nil, err
	}
	if !b.memory.Write(ptr, buf) {
		_ = b.alloc.Free(ctx, ptr)
		*bp = buf
		argvPool.Put(bp)
		return 0, nil, fmt.Errorf("argv write out of bounds")
	}
	*bp = buf
	argvPool.Put(bp)

	return ptr, func() { _ = b.alloc.Free(ctx, ptr) }, nil
}

var _ quickjsruntime.Memory = memoryAdapter{}
var _ quickjsruntime.Allocator = (*heapAllocator)(nil)
