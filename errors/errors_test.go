package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseConvert,
				Kind:   KindTypeMismatch,
				Path:   []string{"user", "address", "zip"},
				GoType: "string",
				JSType: "number",
				Detail: "cannot convert",
			},
			contains: []string{"[convert]", "type_mismatch", "user.address.zip", "string", "number", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseEval,
				Kind:  KindSyntaxError,
			},
			contains: []string{"[eval]", "syntax_error"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEval,
		Kind:  KindException,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseCall,
		Kind:  KindCrossContext,
		Path:  []string{"foo"},
	}

	if !errors.Is(err, &Error{Phase: PhaseCall, Kind: KindCrossContext}) {
		t.Error("expected match on same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseCall, Kind: KindTypeMismatch}) {
		t.Error("unexpected match on different kind")
	}
	if errors.Is(err, &Error{Phase: PhaseEval, Kind: KindCrossContext}) {
		t.Error("unexpected match on different phase")
	}
	if errors.Is(err, errors.New("plain")) {
		t.Error("unexpected match on plain error")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseConvert, KindConversion).
		Path("items", "3").
		GoType("int64").
		JSType("string").
		Detail("expected %s", "number").
		Value("x").
		Cause(cause).
		Build()

	if err.Phase != PhaseConvert || err.Kind != KindConversion {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if len(err.Path) != 2 || err.Path[1] != "3" {
		t.Errorf("unexpected path: %v", err.Path)
	}
	if err.Detail != "expected number" {
		t.Errorf("unexpected detail: %q", err.Detail)
	}
	if !errors.Is(err, err) || err.Unwrap() != cause {
		t.Error("builder lost cause")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"WouldBlock", WouldBlock(), KindWouldBlock},
		{"Interrupted", Interrupted(nil), KindInterrupted},
		{"ModuleNotFound", ModuleNotFound("lodash"), KindModuleNotFound},
		{"Closed", Closed(PhaseRuntime, "context"), KindClosed},
		{"Lifecycle", Lifecycle("%d live contexts", 2), KindLifecycle},
		{"CrossContext", CrossContext(PhaseCall, "arg 0"), KindCrossContext},
		{"InvalidEncoding", InvalidEncoding(PhaseConvert, nil, []byte{0xff, 0xfe}), KindInvalidEncoding},
		{"AllocationFailed", AllocationFailed(PhaseEval, 64), KindAllocation},
		{"Overflow", Overflow(PhaseConvert, nil, int64(1) << 53, "int32"), KindOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	if ModuleNotFound("lodash").Value != "lodash" {
		t.Error("ModuleNotFound did not record specifier")
	}
	if Lifecycle("%d live contexts", 2).Detail != "2 live contexts" {
		t.Error("Lifecycle did not format detail")
	}
}
