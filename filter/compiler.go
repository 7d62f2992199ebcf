package filter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/pulse/sandbox"
)

// preamble is prepended to every compiled clause. pc guards free
// field expressions: any runtime failure (type mismatch, comparison
// with nil) evaluates to false instead of raising.
const preamble = `local pc = function(f)
  local ok, r = pcall(f)
  if not ok then return false end
  return r
end
`

// fnParams are the parameters every compiled clause is bound to:
// the event data view, the discriminator strings, the capture output,
// and the three lookup helpers.
var fnParams = []string{"data", "strings", "captures", "v", "has", "m"}

// Compiler turns filter clause text into compiled Filters. All filters
// from one Compiler share its sandbox and lookup bindings.
type Compiler struct {
	sb  *sandbox.Sandbox
	log zerolog.Logger

	// field resolves v(data, "path") through the event's JSON view.
	field *lua.LFunction

	// has tests exact membership of a value in the strings table.
	has *lua.LFunction
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the logger used for predicate runtime failures.
func WithLogger(log zerolog.Logger) CompilerOption {
	return func(c *Compiler) {
		c.log = log
	}
}

// NewCompiler creates a Compiler bound to the given sandbox.
func NewCompiler(sb *sandbox.Sandbox, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		sb:  sb,
		log: zerolog.New(os.Stderr).Level(zerolog.WarnLevel),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.field = sb.NewFunction(fieldLookup)
	c.has = sb.NewFunction(memberLookup)
	return c
}

// Sandbox returns the sandbox this compiler compiles into.
func (c *Compiler) Sandbox() *sandbox.Sandbox { return c.sb }

// fieldLookup implements v(data, path): resolve a field path against the
// event's JSON view. Missing fields yield nil, never an error.
func fieldLookup(L *lua.LState) int {
	ud := L.CheckUserData(1)
	path := L.CheckString(2)
	d, ok := ud.Value.(Data)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(sandbox.LuaValue(L, gjson.Get(d.doc, path)))
	return 1
}

// memberLookup implements has(strings, value): exact membership test.
func memberLookup(L *lua.LState) int {
	tbl := L.CheckTable(1)
	want := L.CheckString(2)
	for i := 1; i <= tbl.Len(); i++ {
		if tbl.RawGetInt(i).String() == want {
			L.Push(lua.LTrue)
			return 1
		}
	}
	L.Push(lua.LFalse)
	return 1
}

// Compile turns one bracketed filter clause (brackets stripped) into a
// compiled Filter. An empty clause compiles to the always-true filter,
// represented as a nil *Filter. The clause is compiled exactly once;
// callers reuse the result for every dispatch.
func (c *Compiler) Compile(clause string) (*Filter, error) {
	var (
		expr    strings.Builder
		regexps []*regexp.Regexp
	)

	i, n := 0, len(clause)
	for i < n {
		ch := clause[i]
		switch {
		case isClauseSpace(ch):
			i++

		case ch == '(':
			expr.WriteByte('(')
			i++

		case ch == ')':
			expr.WriteByte(')')
			i++

		case ch == '&' && i+1 < n && clause[i+1] == '&':
			expr.WriteString(" and ")
			i += 2

		case ch == '|' && i+1 < n && clause[i+1] == '|':
			expr.WriteString(" or ")
			i += 2

		case ch == '!' && !(i+1 < n && clause[i+1] == '='):
			expr.WriteString(" not ")
			i++

		case ch == '/':
			pattern, flags, next, err := scanRegex(clause, i)
			if err != nil {
				return nil, err
			}
			re, err := compileRegex(clause, pattern, flags)
			if err != nil {
				return nil, err
			}
			regexps = append(regexps, re)
			fmt.Fprintf(&expr, "m(%d, strings, captures)", len(regexps))
			i = next

		case ch == '\'' || ch == '"':
			end, ok := scanQuoted(clause, i)
			if !ok {
				return nil, compileErrorf(clause, clause[i:], "unterminated string literal")
			}
			if atFragmentEnd(clause, end) {
				// Bare string literal: exact membership against the
				// discriminator strings.
				fmt.Fprintf(&expr, "has(strings, %s)", clause[i:end])
				i = end
				continue
			}
			// The literal opens a larger field expression.
			fallthrough

		default:
			frag, next := scanFieldExpr(clause, i)
			luaExpr, err := translateFieldExpr(clause, frag)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&expr, "pc(function() return %s end)", luaExpr)
			i = next
		}
	}

	src := strings.TrimSpace(expr.String())
	if src == "" {
		return nil, nil
	}

	body := preamble + "return " + src
	fn, serrs := c.sb.CreateFunction(body, fnParams)
	if len(serrs) > 0 {
		return nil, &CompileError{Clause: clause, Errors: serrs}
	}

	return &Filter{
		c:       c,
		fn:      fn,
		matcher: c.newMatcher(regexps),
		regexps: regexps,
		source:  src,
	}, nil
}

// newMatcher builds the per-filter m(i, strings, captures) binding.
// It reports whether any provided string matches regex i; on the first
// matching string, that string followed by the pattern's capture groups
// is appended to the captures table and scanning stops.
func (c *Compiler) newMatcher(regexps []*regexp.Regexp) *lua.LFunction {
	return c.sb.NewFunction(func(L *lua.LState) int {
		idx := L.CheckInt(1)
		strsTbl := L.CheckTable(2)
		capTbl := L.CheckTable(3)

		if idx < 1 || idx > len(regexps) {
			L.Push(lua.LFalse)
			return 1
		}
		re := regexps[idx-1]

		for i := 1; i <= strsTbl.Len(); i++ {
			s := strsTbl.RawGetInt(i).String()
			groups := re.FindStringSubmatch(s)
			if groups == nil {
				continue
			}
			capTbl.Append(lua.LString(s))
			for _, g := range groups[1:] {
				capTbl.Append(lua.LString(g))
			}
			L.Push(lua.LTrue)
			return 1
		}
		L.Push(lua.LFalse)
		return 1
	})
}

// scanRegex scans /pattern/flags starting at the opening slash.
// The closing delimiter must be unescaped; running off the end of the
// clause is a parse-time error naming the fragment.
func scanRegex(clause string, start int) (pattern, flags string, next int, err error) {
	i := start + 1
	for i < len(clause) {
		switch clause[i] {
		case '\\':
			i += 2
			continue
		case '/':
			pattern = clause[start+1 : i]
			i++
			j := i
			for j < len(clause) && clause[j] >= 'a' && clause[j] <= 'z' {
				j++
			}
			return pattern, clause[i:j], j, nil
		}
		i++
	}
	return "", "", 0, compileErrorf(clause, clause[start:], "unterminated regex literal")
}

// compileRegex compiles a regex fragment, mapping the supported flags
// onto Go regexp options. The g, u, and y flags have no Go equivalent
// and are accepted without effect.
func compileRegex(clause, pattern, flags string) (*regexp.Regexp, error) {
	var prefix string
	for _, f := range flags {
		switch f {
		case 'i':
			prefix += "(?i)"
		case 'm':
			prefix += "(?m)"
		case 's':
			prefix += "(?s)"
		case 'g', 'u', 'y':
			// Matching is per-string; these flags are meaningless here.
		default:
			return nil, compileErrorf(clause, "/"+pattern+"/"+flags, "unsupported regex flag %q", string(f))
		}
	}
	re, err := regexp.Compile(prefix + pattern)
	if err != nil {
		return nil, compileErrorf(clause, "/"+pattern+"/", "%v", err)
	}
	return re, nil
}

// scanQuoted returns the index just past a quoted string literal.
func scanQuoted(s string, start int) (end int, ok bool) {
	quote := s[start]
	i := start + 1
	for i < len(s) {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i + 1, true
		}
		i++
	}
	return 0, false
}

// atFragmentEnd reports whether only a combinator, a closing paren, or
// the end of the clause follows pos. This is what distinguishes a bare
// membership literal from a string opening a field expression.
func atFragmentEnd(s string, pos int) bool {
	for pos < len(s) && isClauseSpace(s[pos]) {
		pos++
	}
	if pos >= len(s) {
		return true
	}
	switch s[pos] {
	case ')':
		return true
	case '&':
		return pos+1 < len(s) && s[pos+1] == '&'
	case '|':
		return pos+1 < len(s) && s[pos+1] == '|'
	}
	return false
}

// scanFieldExpr accumulates a free field expression verbatim up to the
// next top-level combinator, unbalanced closing paren, or end of clause.
func scanFieldExpr(s string, start int) (frag string, next int) {
	depth := 0
	i := start
	for i < len(s) {
		switch c := s[i]; c {
		case '\'', '"':
			if end, ok := scanQuoted(s, i); ok {
				i = end
				continue
			}
			// Unterminated string: take the rest; the translator reports it.
			return s[start:], len(s)
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return s[start:i], i
			}
			depth--
		case '&':
			if i+1 < len(s) && s[i+1] == '&' {
				return s[start:i], i
			}
		case '|':
			if i+1 < len(s) && s[i+1] == '|' {
				return s[start:i], i
			}
		}
		i++
	}
	return s[start:], len(s)
}

func isClauseSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
