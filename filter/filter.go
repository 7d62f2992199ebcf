// Package filter compiles bracketed filter clauses into reusable boolean
// predicates over event data and discriminator strings.
//
// A clause is a composition of three fragment kinds joined with && / ||
// and parentheses:
//
//   - /regex/flags    true when any provided string matches; the first
//     matching string and its capture groups are appended to the
//     captures output
//   - "literal"       exact set-membership test against the provided strings
//   - anything else   a field-access expression evaluated against the
//     event data (free identifiers resolve to data fields; unknown
//     fields evaluate falsy, never throwing)
//
// Each clause is assembled into one Lua expression and compiled exactly
// once, at subscribe time, through the sandbox. The compiled callable is
// reused for every dispatch of that subscription.
package filter

import (
	"encoding/json"
	"regexp"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/pulse/sandbox"
)

// Data is the per-event view a predicate's field expressions resolve
// against. It is a JSON document: structured payloads are serialized
// once per event, and text-only events whose text is valid JSON expose
// the text directly.
type Data struct {
	doc string
}

// NewData builds the predicate view for an event payload. A nil payload
// with non-JSON (or empty) text yields an empty document, so every field
// lookup is falsy.
func NewData(payload any, text string) Data {
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Data{doc: "{}"}
		}
		return Data{doc: string(b)}
	}
	if text != "" && gjson.Valid(text) {
		return Data{doc: text}
	}
	return Data{doc: "{}"}
}

// DataFromJSON wraps an existing JSON document.
func DataFromJSON(doc string) Data {
	if !gjson.Valid(doc) {
		return Data{doc: "{}"}
	}
	return Data{doc: doc}
}

// JSON returns the underlying document.
func (d Data) JSON() string { return d.doc }

// Filter is a compiled predicate. A nil *Filter means "always true".
type Filter struct {
	c       *Compiler
	fn      *sandbox.Fn
	matcher *lua.LFunction
	regexps []*regexp.Regexp
	source  string
}

// Source returns the assembled Lua expression, for diagnostics.
func (f *Filter) Source() string { return f.source }

// Eval runs the predicate against the event's data view and the
// discriminator strings. Regex capture groups are appended to caps.
//
// Coercion policy: the predicate result is truthy unless it is Lua nil
// or false. Zero and the empty string are truthy. Runtime failures
// inside the predicate evaluate to false.
func (f *Filter) Eval(d Data, strs []string, caps *[]string) bool {
	if f == nil {
		return true
	}

	strsTbl := f.c.sb.NewTable()
	for _, s := range strs {
		strsTbl.Append(lua.LString(s))
	}
	capTbl := f.c.sb.NewTable()
	ud := f.c.sb.NewUserData(d)

	ret, err := f.fn.Call(ud, strsTbl, capTbl, f.c.field, f.c.has, f.matcher)
	if err != nil {
		f.c.log.Warn().Err(err).Str("filter", f.source).Msg("predicate evaluation failed")
		return false
	}

	if caps != nil {
		for i := 1; i <= capTbl.Len(); i++ {
			*caps = append(*caps, capTbl.RawGetInt(i).String())
		}
	}

	return ret != lua.LNil && ret != lua.LFalse
}
