// internal/engine/coerce.go
package engine

import (
	"strconv"
	"strings"
	"time"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Type coercion for condition evaluation.
 *
 * Comparison values are stored string-encoded and parsed against the
 * field's runtime type at evaluation time - never pre-typed at
 * rule-authoring time, since field types are determined by the target
 * entity, not the rule.
 *
 * Coercion rules, documented once and enforced everywhere:
 *   - number field: stored value must parse as float64 (whitespace trimmed,
 *     empty rejected)
 *   - bool field: stored value must parse per strconv.ParseBool
 *   - time field: stored value must parse as RFC 3339
 *   - string field: stored value taken verbatim
 *   - null field: comparison value keeps its string form; equality against
 *     null is decided by the operator, not here
 *
 * Ordering operators additionally promote string fields that parse as a
 * number or an RFC 3339 date, because the source schema string-encodes
 * entity fields and numeric strings are common there.
 */

// coerceStored parses a stored comparison value according to the field's
// runtime kind. Returns ErrTypeMismatch when the stored value cannot
// represent the field's type.
func coerceStored(raw string, kind types.FieldKind) (types.FieldValue, error) {
	switch kind {
	case types.KindNumber:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return types.FieldValue{}, types.ErrTypeMismatch
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return types.FieldValue{}, types.ErrTypeMismatch
		}
		return types.NumberValue(f), nil
	case types.KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return types.FieldValue{}, types.ErrTypeMismatch
		}
		return types.BoolValue(b), nil
	case types.KindTime:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			return types.FieldValue{}, types.ErrTypeMismatch
		}
		return types.TimeValue(t), nil
	case types.KindString, types.KindNull:
		return types.StringValue(raw), nil
	default:
		return types.FieldValue{}, types.ErrTypeMismatch
	}
}

// ordinal reduces a value to a comparable scalar for the ordering and
// range operators. Numbers order by value, times by epoch nanoseconds.
// String values are promoted when they parse as a number or RFC 3339 date.
func ordinal(v types.FieldValue) (float64, bool) {
	switch v.Kind {
	case types.KindNumber:
		return v.Num, true
	case types.KindTime:
		return float64(v.Time.UnixNano()), true
	case types.KindString:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return float64(t.UnixNano()), true
		}
		return 0, false
	default:
		return 0, false
	}
}
