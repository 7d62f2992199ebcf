package filter

import "strings"

// translateFieldExpr rewrites one free field expression into Lua.
//
// Free identifiers (including dotted paths) resolve against the event
// data via the v binding, so `amount > 100` means "the data's amount
// field is greater than 100". The operator spelling follows the filter
// language, not Lua: != and !== become ~=, === becomes ==, and ! becomes
// not. null and undefined become nil.
func translateFieldExpr(clause, frag string) (string, error) {
	var out strings.Builder
	i, n := 0, len(frag)
	for i < n {
		c := frag[i]
		switch {
		case isClauseSpace(c):
			out.WriteByte(' ')
			i++

		case c == '\'' || c == '"':
			end, ok := scanQuoted(frag, i)
			if !ok {
				return "", compileErrorf(clause, frag, "unterminated string literal")
			}
			out.WriteString(frag[i:end])
			i = end

		case c >= '0' && c <= '9':
			j := i
			for j < n && (frag[j] >= '0' && frag[j] <= '9' || frag[j] == '.') {
				j++
			}
			out.WriteString(frag[i:j])
			i = j

		case isWordByte(c):
			j := i
			for j < n && (isWordByte(frag[j]) || frag[j] == '.' || frag[j] >= '0' && frag[j] <= '9') {
				j++
			}
			out.WriteString(translateWord(frag[i:j]))
			i = j

		case c == '=':
			// ==, === -> ==. A single = is not an operator here.
			j := i
			for j < n && frag[j] == '=' {
				j++
			}
			if j-i < 2 {
				return "", compileErrorf(clause, frag, "unexpected %q", "=")
			}
			out.WriteString("==")
			i = j

		case c == '!':
			if i+1 < n && frag[i+1] == '=' {
				j := i + 2
				if j < n && frag[j] == '=' {
					j++
				}
				out.WriteString("~=")
				i = j
			} else {
				out.WriteString(" not ")
				i++
			}

		case c == '<' || c == '>':
			out.WriteByte(c)
			i++
			if i < n && frag[i] == '=' {
				out.WriteByte('=')
				i++
			}

		case c == '&' || c == '|':
			// Nested combinators inside a parenthesized sub-expression.
			if i+1 < n && frag[i+1] == c {
				if c == '&' {
					out.WriteString(" and ")
				} else {
					out.WriteString(" or ")
				}
				i += 2
			} else {
				return "", compileErrorf(clause, frag, "unexpected %q", string(c))
			}

		case strings.IndexByte("+-*/%()", c) >= 0:
			out.WriteByte(c)
			i++

		default:
			return "", compileErrorf(clause, frag, "unexpected %q", string(c))
		}
	}
	expr := strings.TrimSpace(out.String())
	if expr == "" {
		return "", compileErrorf(clause, frag, "empty expression")
	}
	return expr, nil
}

// translateWord maps a bare word to Lua. Anything that is not a literal
// or a Lua logical keyword is a field path resolved through v.
func translateWord(w string) string {
	switch w {
	case "true", "false":
		return w
	case "nil", "null", "undefined":
		return "nil"
	case "and", "or", "not":
		return " " + w + " "
	default:
		return `v(data, "` + w + `")`
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
