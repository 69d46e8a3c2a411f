// Package attr implements the subject/action attribute value types shared
// by rule evaluation and bandit scoring (§3: AttributeValue, ContextAttributes).
package attr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the AttributeValue sum type.
type Kind int

const (
	KindNull Kind = iota
	KindNumeric
	KindCategorical
	KindBoolean
)

// Value is the AttributeValue sum type: Numeric(f64) | Categorical(Str) |
// Boolean(bool) | Null. Attributes flowing through rule evaluation are
// untyped at the wire level (any JSON scalar), so Value is also the
// decode target for a single JSON attribute.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

func Numeric(f float64) Value     { return Value{kind: KindNumeric, num: f} }
func Categorical(s string) Value  { return Value{kind: KindCategorical, str: s} }
func Boolean(b bool) Value        { return Value{kind: KindBoolean, b: b} }
func Null() Value                 { return Value{kind: KindNull} }
func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) Numeric() float64  { return v.num }
func (v Value) Categorical() string { return v.str }
func (v Value) Boolean() bool     { return v.b }

// String renders the value the way rule matching treats it: the textual
// form used for ONE_OF/NOT_ONE_OF and regex operators.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// UnmarshalJSON decodes a single JSON scalar into the appropriate variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Null()
		return nil
	case bytes.Equal(data, []byte("true")):
		*v = Boolean(true)
		return nil
	case bytes.Equal(data, []byte("false")):
		*v = Boolean(false)
		return nil
	}

	if len(data) > 0 && (data[0] == '"') {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Categorical(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("attr: unsupported json scalar %q: %w", data, err)
	}
	*v = Numeric(f)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumeric:
		return json.Marshal(v.num)
	case KindBoolean:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.str)
	}
}

// Map is a subject/action attribute bag keyed by attribute name, as seen
// by the rule/condition evaluator.
type Map map[string]Value

// Clone returns a shallow copy safe to mutate without affecting the
// original (e.g. to augment with a synthetic "id" attribute, §4.3 step 1).
func (m Map) Clone() Map {
	out := make(Map, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ContextAttributes partitions attributes into numeric and categorical
// maps, as used by bandit scoring (§3).
type ContextAttributes struct {
	Numeric     map[string]float64 `json:"numeric,omitempty"`
	Categorical map[string]string  `json:"categorical,omitempty"`
}

// ToMap converts ContextAttributes into the generic attribute Map consumed
// by the flag evaluator (§4.5 step 1: "subject_ContextAttributes converted
// to a generic attribute map").
func (c ContextAttributes) ToMap() Map {
	out := make(Map, len(c.Numeric)+len(c.Categorical))
	for k, v := range c.Numeric {
		out[k] = Numeric(v)
	}
	for k, v := range c.Categorical {
		out[k] = Categorical(v)
	}
	return out
}
