package resource

// Handle is an opaque reference to a host record in a table.
// Handle 0 is reserved and always invalid. Handles are what the engine sees:
// a JavaScript function or wrapped instance carries a Handle, never a Go
// pointer, so host structures stay movable and engine-side dangling pointers
// are impossible.
type Handle uint32

// Kind identifies what a record stores.
type Kind uint8

const (
	// KindFunction is a host closure callable from script.
	KindFunction Kind = iota + 1
	// KindClass is a registered class definition.
	KindClass
	// KindInstance is a Go value boxed as an engine object.
	KindInstance
	// KindInternal is a record owned by the binding layer itself
	// (prelude hooks, loader, finalizer sink).
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindClass:
		return "class"
	case KindInstance:
		return "instance"
	case KindInternal:
		return "internal"
	default:
		return "invalid"
	}
}

// Dropper is implemented by record values that need cleanup when removed.
// Drop is called exactly once, after the record is no longer reachable from
// the table. It must not call back into the engine: removal may be driven by
// an engine GC finalizer, and GC callbacks run in a restricted phase.
type Dropper interface {
	Drop()
}
