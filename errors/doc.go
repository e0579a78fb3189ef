// Package errors provides structured error types for the QuickJS binding
// layer.
//
// Every error carries a Phase (where in processing it occurred) and a Kind
// (what went wrong), plus optional field path, type names and cause. Matching
// with the standard errors.Is compares Phase and Kind, so callers can test
// for a category without string inspection:
//
//	_, err := jsCtx.Eval(ctx, "{", "<eval>")
//	if errors.Is(err, &qjserrors.Error{Phase: qjserrors.PhaseEval, Kind: qjserrors.KindSyntaxError}) {
//	    // malformed source
//	}
//
// Marshalling errors carry the path to the offending field:
//
//	[convert] conversion at user.tags.2: expected string, got number
package errors
