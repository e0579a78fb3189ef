package runtime

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/wippyai/quickjs-runtime/errors"
)

// Exception is a script exception captured into Go. It implements error; the
// originating script value's name, message, and stack are copied out eagerly
// so the Exception stays usable after the Value is released.
type Exception struct {
	name    string
	message string
	stack   string
}

func (e *Exception) Error() string {
	if e.name == "" {
		return e.message
	}
	if e.message == "" {
		return e.name
	}
	return fmt.Sprintf("%s: %s", e.name, e.message)
}

// Name returns the error class name ("TypeError", "SyntaxError", ...), or ""
// when the thrown value was not an Error object.
func (e *Exception) Name() string { return e.name }

// Message returns the error message, or the thrown value's string form when
// it was not an Error object.
func (e *Exception) Message() string { return e.message }

// Stack returns the script stack trace, possibly empty.
func (e *Exception) Stack() string { return e.stack }

// Syntax reports whether the exception came from the parser.
func (e *Exception) Syntax() bool { return e.name == "SyntaxError" }

// AsException unwraps err down to the captured script exception, nil when
// err did not come from script.
func AsException(err error) *Exception {
	var exc *Exception
	if stderrors.As(err, &exc) {
		return exc
	}
	return nil
}

// readException copies name, message, and stack out of an exception value.
// Guard must be held. Faults while reading degrade to partial information
// rather than masking the exception itself.
func (c *Context) readException(ctx context.Context, excHandle uint32) *Exception {
	exc := &Exception{}
	b := c.rt.bridge

	isErr, err := b.IsError(ctx, excHandle)
	if err != nil {
		return exc
	}

	if isErr {
		if nameHandle, err := b.GetProperty(ctx, c.handle, excHandle, "name"); err == nil {
			if raw, err := b.ToString(ctx, c.handle, nameHandle); err == nil {
				exc.name = string(raw)
			}
			_ = b.FreeValue(ctx, c.handle, nameHandle)
		}
		if msg, err := b.ErrorMessage(ctx, c.handle, excHandle); err == nil {
			exc.message = msg
		}
		if stack, err := b.ErrorStack(ctx, c.handle, excHandle); err == nil {
			exc.stack = stack
		}
		return exc
	}

	// A bare thrown value ("throw 42"): its string form is the message.
	if raw, err := b.ToString(ctx, c.handle, excHandle); err == nil {
		exc.message = string(raw)
	}
	return exc
}

// IsSyntaxError reports whether err carries a script syntax error.
func IsSyntaxError(err error) bool {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == errors.KindSyntaxError
}
