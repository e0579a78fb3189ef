package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad    Phase = "load"    // engine instantiation
	PhaseRuntime Phase = "runtime" // runtime/context lifecycle
	PhaseEval    Phase = "eval"    // script compilation and execution
	PhaseConvert Phase = "convert" // Go to JS and JS to Go marshalling
	PhaseCall    Phase = "call"    // function invocation across the boundary
	PhaseClass   Phase = "class"   // host class registration and unwrap
	PhaseGuard   Phase = "guard"   // runtime lock acquisition
)

// Kind categorizes the error
type Kind string

const (
	KindSyntaxError     Kind = "syntax_error"
	KindException       Kind = "exception"
	KindTypeMismatch    Kind = "type_mismatch"
	KindCrossContext    Kind = "cross_context"
	KindInvalidEncoding Kind = "invalid_encoding"
	KindConversion      Kind = "conversion"
	KindWouldBlock      Kind = "would_block"
	KindInterrupted     Kind = "interrupted"
	KindAllocation      Kind = "allocation"
	KindModuleNotFound  Kind = "module_not_found"
	KindClosed          Kind = "closed"
	KindLifecycle       Kind = "lifecycle"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindOverflow        Kind = "overflow"
	KindInternal        Kind = "internal"
)

// Error is the structured error type used throughout the binding layer
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	JSType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.JSType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.JSType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", JS type ")
			b.WriteString(e.JSType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("JS type ")
			b.WriteString(e.JSType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.JSType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// JSType sets the JavaScript type name
func (b *Builder) JSType(t string) *Builder {
	b.err.JSType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, jsType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		JSType: jsType,
	}
}

// CrossContext is returned when a value is used against a context other than
// the one that produced it.
func CrossContext(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCrossContext,
		Detail: detail,
	}
}

// InvalidEncoding creates an invalid text encoding error
func InvalidEncoding(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidEncoding,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// Conversion creates a marshalling error with a field path
func Conversion(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConversion,
		Path:   path,
		Detail: detail,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in engine memory", size),
	}
}

// WouldBlock is returned by the non-blocking guard when the runtime lock is
// held by another goroutine.
func WouldBlock() *Error {
	return &Error{
		Phase:  PhaseGuard,
		Kind:   KindWouldBlock,
		Detail: "runtime lock held by another goroutine",
	}
}

// Interrupted is returned when script execution was aborted by context
// cancellation.
func Interrupted(cause error) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindInterrupted,
		Detail: "script execution interrupted",
		Cause:  cause,
	}
}

// ModuleNotFound is returned when the loader hook cannot resolve a specifier.
func ModuleNotFound(specifier string) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindModuleNotFound,
		Detail: fmt.Sprintf("module %q not found", specifier),
		Value:  specifier,
	}
}

// Closed is returned when an operation targets a closed runtime or context.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Lifecycle is returned when teardown ordering would be violated, for example
// closing a runtime that still has live contexts or values.
func Lifecycle(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindLifecycle,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		GoType: targetType,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// Internal wraps a fault that indicates a bug in the binding layer or the
// engine build rather than caller misuse.
func Internal(phase Phase, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates an engine loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
