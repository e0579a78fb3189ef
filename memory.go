package quickjsruntime

import "context"

// Memory represents the engine's WASM linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// Allocator allocates scratch regions inside the engine's linear memory.
// The binding layer uses it for marshalling: source text, property names and
// out-parameters all travel through regions obtained here.
//
// The default implementation delegates to the engine's own heap allocator.
// Embedders may supply their own (for example a pooling decorator) via
// runtime.Config.
type Allocator interface {
	// Alloc returns a region of at least size bytes, or an allocation error.
	Alloc(ctx context.Context, size uint32) (uint32, error)

	// Realloc resizes a region, preserving the first min(size, oldSize) bytes.
	Realloc(ctx context.Context, ptr, oldSize, size uint32) (uint32, error)

	// Free releases a region. Freeing pointer 0 is a no-op.
	Free(ctx context.Context, ptr uint32) error

	// UsableSize reports the usable size of a region, or 0 when the
	// underlying allocator does not track it.
	UsableSize(ptr uint32) uint32
}
