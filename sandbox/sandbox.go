// Package sandbox provides an isolated Lua execution context for compiled
// filter predicates.
//
// Predicate source is compiled exactly once (at subscribe time) into a
// callable and reused for every dispatch. The sandbox exposes only an
// explicit allow-list of bindings: safe Lua standard libraries (base,
// table, string, math), a restricted log facade, and a safe json helper.
// File, OS, and module-loading primitives are removed.
//
// gopher-lua's LState is not goroutine-safe. All compilation and calls are
// serialized through the sandbox mutex.
package sandbox

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the advisory per-call instruction budget.
// gopher-lua does not enforce hard instruction limits; the value is kept
// for configuration symmetry and potential future enforcement.
const DefaultInstructionLimit = 1_000_000

// Sandbox owns one restricted Lua state.
type Sandbox struct {
	mu sync.Mutex
	L  *lua.LState

	log              zerolog.Logger
	instructionLimit int64
	closed           bool
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger backing the sandbox's log binding.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sandbox) {
		s.log = log
	}
}

// WithInstructionLimit sets the advisory instruction limit.
func WithInstructionLimit(n int64) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.instructionLimit = n
		}
	}
}

// New creates a sandboxed Lua state with the allow-listed bindings
// installed.
func New(opts ...Option) (*Sandbox, error) {
	s := &Sandbox{
		log:              zerolog.New(os.Stderr).Level(zerolog.WarnLevel),
		instructionLimit: DefaultInstructionLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	s.L = L

	openSafeLibraries(L)
	s.removeUnsafeGlobals()
	s.installLogBinding()
	s.installJSONBinding()

	return s, nil
}

// openSafeLibraries opens only side-effect-free Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Intentionally not opened: io, os, debug, package, channel.
}

// removeUnsafeGlobals strips base-library functions that could load or
// execute code outside the compiled predicate.
func (s *Sandbox) removeUnsafeGlobals() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "print", "collectgarbage"} {
		s.L.SetGlobal(name, lua.LNil)
	}
}

// installLogBinding exposes a restricted logging facade.
func (s *Sandbox) installLogBinding() {
	tbl := s.L.NewTable()
	s.L.SetField(tbl, "debug", s.L.NewFunction(func(L *lua.LState) int {
		s.log.Debug().Str("origin", "sandbox").Msg(L.CheckString(1))
		return 0
	}))
	s.L.SetField(tbl, "warn", s.L.NewFunction(func(L *lua.LState) int {
		s.log.Warn().Str("origin", "sandbox").Msg(L.CheckString(1))
		return 0
	}))
	s.L.SetGlobal("log", tbl)
}

// installJSONBinding exposes a safe JSON helper backed by gjson/sjson.
func (s *Sandbox) installJSONBinding() {
	tbl := s.L.NewTable()
	s.L.SetField(tbl, "get", s.L.NewFunction(func(L *lua.LState) int {
		doc := L.CheckString(1)
		path := L.CheckString(2)
		L.Push(LuaValue(L, gjson.Get(doc, path)))
		return 1
	}))
	s.L.SetField(tbl, "set", s.L.NewFunction(func(L *lua.LState) int {
		doc := L.CheckString(1)
		path := L.CheckString(2)
		val := toGoValue(L.Get(3))
		out, err := sjson.Set(doc, path, val)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(out))
		return 1
	}))
	s.L.SetField(tbl, "valid", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(gjson.Valid(L.CheckString(1))))
		return 1
	}))
	s.L.SetGlobal("json", tbl)
}

// NewFunction wraps a Go function as a Lua value owned by this sandbox.
func (s *Sandbox) NewFunction(fn lua.LGFunction) *lua.LFunction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.L.NewFunction(fn)
}

// NewTable returns a fresh table owned by this sandbox.
func (s *Sandbox) NewTable() *lua.LTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.L.NewTable()
}

// NewUserData wraps a Go value as Lua userdata owned by this sandbox.
func (s *Sandbox) NewUserData(v any) *lua.LUserData {
	s.mu.Lock()
	defer s.mu.Unlock()
	ud := s.L.NewUserData()
	ud.Value = v
	return ud
}

// Close releases the Lua state. Calls after Close return ErrClosed.
func (s *Sandbox) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}

// LuaValue converts a gjson result to the corresponding Lua value.
// Absent values become nil so that missing fields evaluate falsy.
func LuaValue(L *lua.LState, r gjson.Result) lua.LValue {
	if !r.Exists() {
		return lua.LNil
	}
	switch r.Type {
	case gjson.Null:
		return lua.LNil
	case gjson.True:
		return lua.LTrue
	case gjson.False:
		return lua.LFalse
	case gjson.Number:
		return lua.LNumber(r.Num)
	case gjson.String:
		return lua.LString(r.Str)
	default:
		// Objects and arrays are passed through as their raw JSON text;
		// predicates can drill further with json.get.
		return lua.LString(r.Raw)
	}
}

// toGoValue converts scalar Lua values for sjson; everything else
// degrades to its string form.
func toGoValue(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LNilType:
		return nil
	default:
		return fmt.Sprintf("%v", lv)
	}
}
