// Package types provides domain models shared across workflow engine components.
//
// Zero-dependency design: types.go, workflow.go and errors.go use only the
// standard library so the engine and the persistence layer can share them
// without pulling in driver packages. ID utilities in ids.go import uuid but
// are isolated for selective inclusion.
package types

import (
	"strconv"
	"time"
)

// FieldKind tags the runtime type of an entity field value.
// Field types are determined by the target entity at evaluation time,
// never at rule-authoring time.
type FieldKind int

const (
	KindNull FieldKind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// String returns the kind name for diagnostics.
func (k FieldKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// FieldValue is a tagged union over the value types an entity field can
// carry. Exactly one of the payload fields is meaningful, selected by Kind.
// Coercion rules between kinds live in internal/engine; this type only
// carries the value.
type FieldValue struct {
	Kind FieldKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// NullValue returns the null field value.
func NullValue() FieldValue { return FieldValue{Kind: KindNull} }

// StringValue wraps a string as a FieldValue.
func StringValue(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }

// NumberValue wraps a float64 as a FieldValue.
func NumberValue(f float64) FieldValue { return FieldValue{Kind: KindNumber, Num: f} }

// BoolValue wraps a bool as a FieldValue.
func BoolValue(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }

// TimeValue wraps a time.Time as a FieldValue.
func TimeValue(t time.Time) FieldValue { return FieldValue{Kind: KindTime, Time: t} }

// FieldValueOf maps a loosely-typed value (as produced by encoding/json or
// caller-supplied snapshots) onto the tagged union. Integer widths collapse
// to float64 for JSON compatibility.
func FieldValueOf(v any) FieldValue {
	switch x := v.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(x)
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(float64(x))
	case int:
		return NumberValue(float64(x))
	case int32:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case uint:
		return NumberValue(float64(x))
	case uint64:
		return NumberValue(float64(x))
	case bool:
		return BoolValue(x)
	case time.Time:
		return TimeValue(x)
	default:
		return NullValue()
	}
}

// IsEmpty reports whether the value is null or a zero-length string.
// Used by the isEmpty/isNotEmpty operators.
func (v FieldValue) IsEmpty() bool {
	if v.Kind == KindNull {
		return true
	}
	return v.Kind == KindString && v.Str == ""
}

// Text renders the value as a string for substring operators and equality
// fallbacks. Lenient: every kind has a text form.
func (v FieldValue) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}
