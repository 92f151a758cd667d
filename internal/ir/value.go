package ir

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Value is a sealed interface over the argument values a call can carry.
// Only String, Int, Bool, IntSet, Raw, Ref and Script implement it.
type Value interface {
	value() // Sealed - only these types implement it
	Kind() ValueKind
}

// ValueKind names a Value variant in JSON and in the run store.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindBool   ValueKind = "bool"
	KindSet    ValueKind = "set"
	KindRaw    ValueKind = "raw"
	KindRef    ValueKind = "ref"
	KindScript ValueKind = "script"
)

// String is a string literal. It is quoted when rendered.
type String string

func (String) value()          {}
func (String) Kind() ValueKind { return KindString }

// Int is an integer literal.
type Int int64

func (Int) value()          {}
func (Int) Kind() ValueKind { return KindInt }

// Bool is a boolean literal.
type Bool bool

func (Bool) value()          {}
func (Bool) Kind() ValueKind { return KindBool }

// IntSet is an array of distinct integers, kept sorted ascending.
type IntSet []int64

func (IntSet) value()          {}
func (IntSet) Kind() ValueKind { return KindSet }

// NewIntSet returns a sorted, de-duplicated set.
func NewIntSet(elems ...int64) IntSet {
	s := slices.Clone(elems)
	slices.Sort(s)
	return IntSet(slices.Compact(s))
}

// Contains reports whether n is a member of the set.
func (s IntSet) Contains(n int64) bool {
	_, ok := slices.BinarySearch(s, n)
	return ok
}

// Raw is grammar-produced source text emitted verbatim.
type Raw string

func (Raw) value()          {}
func (Raw) Kind() ValueKind { return KindRaw }

// Ref is an expression naming a live object instance ("this", "app", a bound variable).
type Ref string

func (Ref) value()          {}
func (Ref) Kind() ValueKind { return KindRef }

// Script is callback source built from nested API calls.
type Script []CallInstance

func (Script) value()          {}
func (Script) Kind() ValueKind { return KindScript }

// Equal reports whether two values are the same variant with the same content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ca, errA := MarshalCanonical(canonicalValue(a))
	cb, errB := MarshalCanonical(canonicalValue(b))
	return errA == nil && errB == nil && string(ca) == string(cb)
}

// valueEnvelope is the JSON form of a Value: {"kind": ..., "value": ...}.
type valueEnvelope struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalValue encodes a Value with its kind tag.
func MarshalValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}
	var payload any
	switch val := v.(type) {
	case String:
		payload = string(val)
	case Int:
		payload = int64(val)
	case Bool:
		payload = bool(val)
	case IntSet:
		if val == nil {
			val = IntSet{}
		}
		payload = []int64(val)
	case Raw:
		payload = string(val)
	case Ref:
		payload = string(val)
	case Script:
		if val == nil {
			val = Script{}
		}
		payload = []CallInstance(val)
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueEnvelope{Kind: v.Kind(), Value: raw})
}

// UnmarshalValue decodes a kind-tagged Value.
func UnmarshalValue(data []byte) (Value, error) {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindString, KindRaw, KindRef:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("%s value: %w", env.Kind, err)
		}
		switch env.Kind {
		case KindString:
			return String(s), nil
		case KindRaw:
			return Raw(s), nil
		default:
			return Ref(s), nil
		}
	case KindInt:
		var n int64
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return nil, fmt.Errorf("int value: %w", err)
		}
		return Int(n), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return nil, fmt.Errorf("bool value: %w", err)
		}
		return Bool(b), nil
	case KindSet:
		var elems []int64
		if err := json.Unmarshal(env.Value, &elems); err != nil {
			return nil, fmt.Errorf("set value: %w", err)
		}
		return NewIntSet(elems...), nil
	case KindScript:
		var calls []CallInstance
		if err := json.Unmarshal(env.Value, &calls); err != nil {
			return nil, fmt.Errorf("script value: %w", err)
		}
		return Script(calls), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", env.Kind)
	}
}
