package types

import "errors"

// Sentinel errors for workflow engine operations.
//
// The error taxonomy splits four ways: configuration errors (malformed
// rules/conditions), field access errors (entity-side), persistence errors
// surfaced by the store, and concurrency conflicts on same-entity
// evaluation. Callers discriminate with errors.Is.
var (
	// ErrFieldNotFound indicates a condition names a field the entity does
	// not carry. A configuration error, not a runtime fault; absorbed as a
	// false condition and surfaced in diagnostics.
	ErrFieldNotFound = errors.New("field not found on entity")

	// ErrUnsupportedOperator indicates an unrecognized operator tag.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrTypeMismatch indicates an operator cannot be meaningfully applied
	// to the field's runtime type after coercion attempts.
	ErrTypeMismatch = errors.New("operator incompatible with field type")

	// ErrInvalidRange indicates a between condition with a missing secondary
	// value or lower bound greater than upper bound.
	ErrInvalidRange = errors.New("invalid range for between operator")

	// ErrInvalidConditionLogic indicates a condition-combination tag outside
	// {AND, OR}.
	ErrInvalidConditionLogic = errors.New("condition logic must be AND or OR")

	// ErrEmptyOrRule indicates a rule with OR logic and zero conditions,
	// which is vacuously false and rejected at authoring time.
	ErrEmptyOrRule = errors.New("OR rule requires at least one condition")

	// ErrNoMatch indicates resolution exhausted all candidate rules without
	// a match. Not a failure; the engine records a NoMatch execution.
	ErrNoMatch = errors.New("no workflow rule matched")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict indicates an optimistic lock failure on a
	// same-entity concurrent evaluation. Retried a bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrent modification of entity group assignment")
)
