// Package trigger parses subscription trigger expressions.
//
// Grammar:
//
//	[modifiers] eventName[filter]:discriminator[filter]/discriminator[filter]/...
//
// Modifiers are leading keywords: once (auto-unsubscribe after the first
// delivery), this (bind the subscription to the caller-supplied source),
// and await (file the handler in the serial category instead of the
// default concurrent category). Each segment is an identifier or * with
// an optional bracketed filter clause; a segment without a filter matches
// unconditionally, and a leading bare clause applies under the wildcard
// name "*". Segments AND together at dispatch time.
//
// Parsing is total: input is consumed to the end or the parse fails
// naming the offending token. Trailing garbage is an error, never a
// silent truncation.
package trigger

import (
	"errors"
	"fmt"

	"github.com/dshills/pulse/filter"
	"github.com/dshills/pulse/token"
)

// Modifier keywords.
const (
	kwOnce  = "once"
	kwThis  = "this"
	kwAwait = "await"
)

// Wildcard is the segment name meaning "any event / unscoped filter".
const Wildcard = "*"

// ErrEmptyExpression is returned for expressions with no segments.
var ErrEmptyExpression = errors.New("trigger expression has no event segment")

// ErrNoSource is returned when the this modifier is used without a
// caller-supplied source object.
var ErrNoSource = errors.New("this modifier requires a source object")

// ParseError reports a malformed trigger expression.
type ParseError struct {
	// Expression is the full source text.
	Expression string

	// Token is the offending token.
	Token token.Token
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse trigger %q: unexpected %s at offset %d",
		e.Expression, e.Token, e.Token.Pos)
}

// Spec is one discriminator segment: a name and its compiled filter.
// A nil Filter means the segment matches unconditionally.
type Spec struct {
	Name   string
	Filter *filter.Filter
}

// Expression is the parsed form of a trigger expression. It is produced
// once at subscribe time and immutable thereafter.
type Expression struct {
	// Serial files the handler in the serial category (await modifier).
	Serial bool

	// Once auto-unsubscribes the handler after its first delivery.
	Once bool

	// Source is the bound source object when the this modifier was
	// present; nil otherwise.
	Source any

	// Filters holds one Spec per segment, in source order. All specs
	// must match for the subscriber to fire.
	Filters []Spec
}

// Parse parses a trigger expression, compiling every filter clause
// through c. source is the caller-supplied object the this modifier
// binds to. Filter compile failures abort the parse with the underlying
// *filter.CompileError.
func Parse(text string, source any, c *filter.Compiler) (*Expression, error) {
	s := token.NewStream(text)
	expr := &Expression{}

	// Leading modifiers, consumed greedily.
	for {
		t := s.Peek()
		if t.Kind != token.Word {
			break
		}
		switch t.Text {
		case kwOnce:
			expr.Once = true
		case kwThis:
			if source == nil {
				return nil, ErrNoSource
			}
			expr.Source = source
		case kwAwait:
			expr.Serial = true
		default:
			// Not a modifier; the event name starts here.
			goto segments
		}
		s.Next()
	}

segments:
	if err := parseSegment(text, s, expr, c); err != nil {
		return nil, err
	}
	for {
		t := s.Next()
		switch t.Kind {
		case token.EOF:
			return expr, nil
		case token.Colon, token.Slash:
			if err := parseSegment(text, s, expr, c); err != nil {
				return nil, err
			}
		default:
			return nil, &ParseError{Expression: text, Token: t}
		}
	}
}

// parseSegment parses one identifier-plus-optional-clause segment.
func parseSegment(text string, s *token.Stream, expr *Expression, c *filter.Compiler) error {
	name := ""
	t := s.Peek()
	switch t.Kind {
	case token.Word:
		name = t.Text
		s.Next()
	case token.Star:
		name = Wildcard
		s.Next()
	case token.Clause:
		// A bare clause applies under the wildcard name.
		name = Wildcard
	case token.EOF:
		if len(expr.Filters) == 0 {
			return ErrEmptyExpression
		}
		return &ParseError{Expression: text, Token: t}
	default:
		return &ParseError{Expression: text, Token: t}
	}

	var f *filter.Filter
	if t = s.Peek(); t.Kind == token.Clause {
		s.Next()
		var err error
		f, err = c.Compile(t.Text)
		if err != nil {
			return err
		}
	} else if t.Kind == token.Invalid {
		return &ParseError{Expression: text, Token: t}
	}

	expr.Filters = append(expr.Filters, Spec{Name: name, Filter: f})
	return nil
}
