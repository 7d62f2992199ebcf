package filter

import (
	"fmt"
	"strings"

	"github.com/dshills/pulse/sandbox"
)

// CompileError reports a filter clause that could not be compiled.
// Registration must be rejected with this error; an uncompilable clause
// never degrades to a match-nothing or match-everything predicate.
type CompileError struct {
	// Clause is the full filter clause text (brackets stripped).
	Clause string

	// Fragment is the offending fragment, when one can be isolated.
	Fragment string

	// Errors is the non-empty structured error list.
	Errors []sandbox.ScriptError
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot compile filter [%s]", e.Clause)
	if e.Fragment != "" {
		fmt.Fprintf(&b, " at %q", e.Fragment)
	}
	for _, se := range e.Errors {
		b.WriteString(": ")
		b.WriteString(se.Error())
	}
	return b.String()
}

// compileErrorf builds a CompileError with a single message.
func compileErrorf(clause, fragment, format string, args ...any) *CompileError {
	return &CompileError{
		Clause:   clause,
		Fragment: fragment,
		Errors:   []sandbox.ScriptError{{Message: fmt.Sprintf(format, args...), Chunk: clause}},
	}
}
