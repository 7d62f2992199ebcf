package sandbox

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ErrClosed is returned when operating on a closed sandbox.
var ErrClosed = errors.New("sandbox is closed")

// ScriptError describes one failure from compiling or running predicate
// source. Compile failures are reported as a non-empty slice so callers
// can reject the subscription with the underlying detail.
type ScriptError struct {
	// Message is the Lua error text with chunk/line prefix stripped.
	Message string

	// Chunk is the source the error originated from.
	Chunk string

	// Line is the 1-based source line, or 0 when unknown.
	Line int
}

// Error implements the error interface.
func (e ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Fn is a compiled callable bound to the sandbox that produced it.
// It is compiled once and safe for reuse; calls are serialized through
// the sandbox mutex.
type Fn struct {
	sb *Sandbox
	fn *lua.LFunction
}

// CreateFunction compiles body into a callable taking the named
// parameters. The generated chunk binds the parameters from varargs, so
// body may reference them directly. Compile failures are returned as a
// structured error list and never panic the host process.
func (s *Sandbox) CreateFunction(body string, params []string) (*Fn, []ScriptError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, []ScriptError{{Message: ErrClosed.Error(), Chunk: body}}
	}

	chunk := body
	if len(params) > 0 {
		chunk = "local " + strings.Join(params, ", ") + " = ...\n" + body
	}

	fn, err := s.loadString(chunk)
	if err != nil {
		return nil, []ScriptError{parseScriptError(err, body)}
	}
	return &Fn{sb: s, fn: fn}, nil
}

// loadString compiles a chunk with panic recovery.
func (s *Sandbox) loadString(chunk string) (fn *lua.LFunction, err error) {
	defer func() {
		if r := recover(); r != nil {
			fn = nil
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return s.L.LoadString(chunk)
}

// Call invokes the compiled function with the given arguments and
// returns its single result. Lua runtime errors are returned, not
// raised; panics from bound Go functions are recovered.
func (f *Fn) Call(args ...lua.LValue) (lua.LValue, error) {
	f.sb.mu.Lock()
	defer f.sb.mu.Unlock()

	if f.sb.closed {
		return lua.LNil, ErrClosed
	}
	return f.call(args)
}

func (f *Fn) call(args []lua.LValue) (ret lua.LValue, err error) {
	L := f.sb.L
	defer func() {
		if r := recover(); r != nil {
			ret = lua.LNil
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	L.Push(f.fn)
	for _, a := range args {
		L.Push(a)
	}
	if err := L.PCall(len(args), 1, nil); err != nil {
		return lua.LNil, err
	}
	ret = L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// parseScriptError extracts line information from a gopher-lua error.
// Compile errors look like "parse error: <string> line:2(column:5) ...".
func parseScriptError(err error, chunk string) ScriptError {
	se := ScriptError{Message: err.Error(), Chunk: chunk}
	if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Object != lua.LNil {
		se.Message = apiErr.Object.String()
	}
	if i := strings.Index(se.Message, "line:"); i >= 0 {
		rest := se.Message[i+len("line:"):]
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if n, convErr := strconv.Atoi(rest[:j]); convErr == nil {
			se.Line = n
		}
	}
	return se
}
