package token

// Stream is a pull-based token source with single-token lookahead.
type Stream struct {
	src    string
	pos    int
	peeked *Token
}

// NewStream creates a Stream over the given trigger-expression text.
func NewStream(src string) *Stream {
	return &Stream{src: src}
}

// Peek returns the next token without consuming it.
func (s *Stream) Peek() Token {
	if s.peeked == nil {
		t := s.scan()
		s.peeked = &t
	}
	return *s.peeked
}

// Next consumes and returns the next token.
func (s *Stream) Next() Token {
	if s.peeked != nil {
		t := *s.peeked
		s.peeked = nil
		return t
	}
	return s.scan()
}

func (s *Stream) scan() Token {
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
	if s.pos >= len(s.src) {
		return Token{Kind: EOF, Pos: s.pos}
	}

	start := s.pos
	c := s.src[s.pos]
	switch {
	case c == '*':
		s.pos++
		return Token{Kind: Star, Text: "*", Pos: start}
	case c == '/':
		s.pos++
		return Token{Kind: Slash, Text: "/", Pos: start}
	case c == ':':
		s.pos++
		return Token{Kind: Colon, Text: ":", Pos: start}
	case c == '[':
		return s.scanClause()
	case isWordStart(c):
		s.pos++
		for s.pos < len(s.src) && isWordPart(s.src[s.pos]) {
			s.pos++
		}
		return Token{Kind: Word, Text: s.src[start:s.pos], Pos: start}
	default:
		s.pos++
		return Token{Kind: Invalid, Text: s.src[start:s.pos], Pos: start}
	}
}

// scanClause captures the contents of a bracketed filter clause.
// Scanning is balance- and escape-aware: backslash escapes the next
// character, quoted strings are skipped whole, and nested brackets must
// balance. The clause text (brackets stripped) is returned verbatim.
func (s *Stream) scanClause() Token {
	start := s.pos
	s.pos++ // consume '['
	depth := 1
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case '\\':
			s.pos++ // skip escaped character
		case '\'', '"':
			s.skipString(c)
			continue
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				inner := s.src[start+1 : s.pos]
				s.pos++
				return Token{Kind: Clause, Text: inner, Pos: start}
			}
		}
		s.pos++
	}
	return Token{Kind: Invalid, Text: s.src[start:], Pos: start}
}

// skipString advances past a quoted string, honoring backslash escapes.
// An unterminated string simply runs to end of input; the enclosing
// clause scan reports the unbalanced clause.
func (s *Stream) skipString(quote byte) {
	s.pos++ // opening quote
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos++
		case quote:
			s.pos++
			return
		}
		s.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordPart(c byte) bool {
	return isWordStart(c) || c == '.' || (c >= '0' && c <= '9')
}
