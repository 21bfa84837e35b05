// Package schema describes which counters a MemSQL version exposes, how to
// query them and how each field is normalized into a displayed rate.
package schema

import (
	"strconv"
	"strings"
)

type valueKind uint8

const (
	nullValue valueKind = iota
	numberValue
	textValue
)

// Value is a single sampled or computed field. Its tag comes from the
// FieldSpec kind, never from the runtime type of what the driver returned.
type Value struct {
	kind valueKind
	num  float64
	text string
}

// Null is an undefined value; it renders as a blank.
var Null = Value{}

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: numberValue, num: f} }

// Text returns a string value.
func Text(s string) Value { return Value{kind: textValue, text: s} }

func (v Value) IsNull() bool { return v.kind == nullValue }

// Num returns the numeric payload and whether v is a number.
func (v Value) Num() (float64, bool) { return v.num, v.kind == numberValue }

// Str returns the string payload and whether v is text.
func (v Value) Str() (string, bool) { return v.text, v.kind == textValue }

func (v Value) String() string {
	switch v.kind {
	case numberValue:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case textValue:
		return v.text
	default:
		return ""
	}
}

// Record maps a column (raw records) or display name (delta records) to its
// value.
type Record map[string]Value

// Number returns the numeric value stored under name, or 0 when it is
// missing, null or text.
func (r Record) Number(name string) float64 {
	f, _ := r[name].Num()
	return f
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

const keySep = "\x1f"

// NullPart stands for a NULL key column so it never collides with an empty
// string.
const NullPart = "\x00"

// EntityKey identifies a monitored unit (a plan, an activity) across polls.
type EntityKey string

// NewEntityKey joins the key column values of one row.
func NewEntityKey(parts ...string) EntityKey {
	return EntityKey(strings.Join(parts, keySep))
}

// Parts splits k back into its key column values.
func (k EntityKey) Parts() []string {
	return strings.Split(string(k), keySep)
}

func (k EntityKey) String() string {
	parts := k.Parts()
	for i, p := range parts {
		if p == NullPart {
			parts[i] = "NULL"
		}
	}
	return strings.Join(parts, "/")
}
