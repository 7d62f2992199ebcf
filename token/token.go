// Package token tokenizes trigger-expression text.
//
// The scanner is deliberately small: trigger expressions are a flat
// sequence of words, separators, and bracketed filter clauses. Filter
// clause contents are not tokenized here; a clause is captured whole
// (balanced and escape-aware) and handed to the filter compiler as raw
// text via a single Clause token.
package token

import "fmt"

// Kind classifies a token.
type Kind int

// Token kinds produced by the Stream.
const (
	EOF Kind = iota
	Word
	Star
	Slash
	Colon
	Clause
	Invalid
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of input"
	case Word:
		return "word"
	case Star:
		return "*"
	case Slash:
		return "/"
	case Colon:
		return ":"
	case Clause:
		return "filter clause"
	case Invalid:
		return "invalid token"
	default:
		return "unknown"
	}
}

// Token is one lexical element of a trigger expression.
type Token struct {
	Kind Kind

	// Text is the token's content. For Clause tokens it is the inner
	// text with the surrounding brackets stripped. For Invalid tokens
	// it is the offending source fragment.
	Text string

	// Pos is the byte offset of the token in the source text.
	Pos int
}

// String formats the token for error messages.
func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case Clause:
		return fmt.Sprintf("[%s]", t.Text)
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}
