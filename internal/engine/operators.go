// internal/engine/operators.go
package engine

import (
	"strings"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Implements the 11 condition operators with type-aware comparison rules.
 * The stored comparison value is coerced via coerceStored against the
 * field's runtime kind before comparison; substring operators instead
 * coerce the field to text first and only fail when no text form exists.
 *
 * Operators:
 *   - equals/notEquals: equality after canonicalizing both sides to the
 *     field's inferred type; null fields never equal a stored value
 *   - greaterThan/lessThan/greaterOrEqual/lessOrEqual: numeric or date
 *     ordering via ordinal()
 *   - contains/notContains: substring on the text-coerced field value
 *   - isEmpty/isNotEmpty: null/empty-string test, comparison value ignored
 *   - between: inclusive range; ErrInvalidRange when the secondary value is
 *     absent or lower > upper
 *
 * Why function-based: the operators differ only in their comparison, so a
 * single switch over a shared coercion path is cleaner than 11 interface
 * implementations.
 */

// Compare applies the operator to a field value and the stored comparison
// value(s). Fails with ErrUnsupportedOperator for unrecognized tags,
// ErrTypeMismatch when the operator cannot apply to the field's type, and
// ErrInvalidRange for malformed between bounds.
func Compare(op types.Operator, field types.FieldValue, value string, valueTwo *string) (bool, error) {
	switch op {
	case types.OpIsEmpty:
		return field.IsEmpty(), nil
	case types.OpIsNotEmpty:
		return !field.IsEmpty(), nil
	case types.OpEquals:
		return compareEqual(field, value)
	case types.OpNotEquals:
		eq, err := compareEqual(field, value)
		if err != nil {
			return false, err
		}
		return !eq, nil
	case types.OpGreaterThan:
		cmp, err := compareOrdinal(field, value)
		if err != nil {
			return false, err
		}
		return cmp > 0, nil
	case types.OpLessThan:
		cmp, err := compareOrdinal(field, value)
		if err != nil {
			return false, err
		}
		return cmp < 0, nil
	case types.OpGreaterOrEqual:
		cmp, err := compareOrdinal(field, value)
		if err != nil {
			return false, err
		}
		return cmp >= 0, nil
	case types.OpLessOrEqual:
		cmp, err := compareOrdinal(field, value)
		if err != nil {
			return false, err
		}
		return cmp <= 0, nil
	case types.OpContains:
		return strings.Contains(field.Text(), value), nil
	case types.OpNotContains:
		return !strings.Contains(field.Text(), value), nil
	case types.OpBetween:
		return compareBetween(field, value, valueTwo)
	default:
		return false, types.ErrUnsupportedOperator
	}
}

// compareEqual canonicalizes the stored value to the field's kind and
// compares. A null field equals nothing; notEquals mirrors through the
// caller's negation.
func compareEqual(field types.FieldValue, value string) (bool, error) {
	if field.Kind == types.KindNull {
		return false, nil
	}
	stored, err := coerceStored(value, field.Kind)
	if err != nil {
		return false, err
	}
	switch field.Kind {
	case types.KindNumber:
		return field.Num == stored.Num, nil
	case types.KindBool:
		return field.Bool == stored.Bool, nil
	case types.KindTime:
		return field.Time.Equal(stored.Time), nil
	default:
		return field.Str == stored.Str, nil
	}
}

// compareOrdinal performs three-way comparison of field against the stored
// value under numeric-or-date ordering. Both sides must reduce to an
// ordinal; otherwise ErrTypeMismatch.
func compareOrdinal(field types.FieldValue, value string) (int, error) {
	fv, ok := ordinal(field)
	if !ok {
		return 0, types.ErrTypeMismatch
	}
	sv, ok := ordinal(types.StringValue(value))
	if !ok {
		return 0, types.ErrTypeMismatch
	}
	switch {
	case fv < sv:
		return -1, nil
	case fv > sv:
		return 1, nil
	default:
		return 0, nil
	}
}

// compareBetween performs an inclusive range test with the primary value as
// lower bound and the secondary value as upper bound.
func compareBetween(field types.FieldValue, lower string, upper *string) (bool, error) {
	if upper == nil {
		return false, types.ErrInvalidRange
	}
	lo, ok := ordinal(types.StringValue(lower))
	if !ok {
		return false, types.ErrTypeMismatch
	}
	hi, ok := ordinal(types.StringValue(*upper))
	if !ok {
		return false, types.ErrTypeMismatch
	}
	if lo > hi {
		return false, types.ErrInvalidRange
	}
	fv, ok := ordinal(field)
	if !ok {
		return false, types.ErrTypeMismatch
	}
	return fv >= lo && fv <= hi, nil
}
