// internal/types/workflow.go
package types

import (
	"encoding/json"
	"time"
)

/*
 * Domain types for workflow resolution and execution.
 *
 * Provides Workflow, WorkflowRule, WorkflowRuleCondition, and Execution
 * structures used by internal/engine for evaluation and by internal/store
 * for persistence. These types are wire-format agnostic - HTTP DTO
 * conversion happens at the httpapi boundary.
 *
 * Key types:
 *   - Workflow: Automation policy scoped to one entity type, ordered rules
 *   - WorkflowRule: Routing rule with AND/OR condition logic and target group
 *   - WorkflowRuleCondition: Single field/operator/value predicate
 *   - Execution: Immutable audit record of one evaluation attempt
 */

// Operator identifies a condition comparison. Stored as its string form,
// parsed at evaluation time against the field's runtime type.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "notContains"
	OpIsEmpty        Operator = "isEmpty"
	OpIsNotEmpty     Operator = "isNotEmpty"
	OpBetween        Operator = "between"
)

// ParseOperator validates an operator tag from storage or an admin request.
// Returns ErrUnsupportedOperator for unrecognized tags so malformed
// configuration surfaces as a ConfigurationError, not a crash.
func ParseOperator(s string) (Operator, error) {
	switch Operator(s) {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterOrEqual, OpLessOrEqual, OpContains, OpNotContains,
		OpIsEmpty, OpIsNotEmpty, OpBetween:
		return Operator(s), nil
	default:
		return "", ErrUnsupportedOperator
	}
}

// NeedsRange reports whether the operator consumes the secondary value.
// Invariant: ValueTwo is populated if and only if this returns true.
func (op Operator) NeedsRange() bool { return op == OpBetween }

// ConditionLogic combines a rule's conditions. Exactly two values exist.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// ParseConditionLogic validates a condition-combination tag.
func ParseConditionLogic(s string) (ConditionLogic, error) {
	switch ConditionLogic(s) {
	case LogicAnd, LogicOr:
		return ConditionLogic(s), nil
	default:
		return "", ErrInvalidConditionLogic
	}
}

// Workflow is one automation policy scoped to a single entity type.
// At most the first matching enabled workflow (by priority, then id) acts
// per evaluation. Soft-deleted once an Execution references it, never
// hard-deleted.
type Workflow struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	Active      bool      `db:"active" json:"active"`
	Priority    int       `db:"priority" json:"priority"`
	Deleted     bool      `db:"deleted" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// Rules ordered by priority ascending, id ascending. Populated by the
	// configuration loader; empty on bare row reads.
	Rules []WorkflowRule `db:"-" json:"rules,omitempty"`
}

// WorkflowRule is one routing rule within a workflow. When it evaluates
// true, the entity's group ownership moves to TargetGroupID.
type WorkflowRule struct {
	ID             int64          `db:"id" json:"id"`
	WorkflowID     int64          `db:"workflow_id" json:"workflow_id"`
	Name           string         `db:"name" json:"name"`
	Description    string         `db:"description" json:"description"`
	TargetGroupID  int64          `db:"target_group_id" json:"target_group_id"`
	Enabled        bool           `db:"enabled" json:"enabled"`
	Priority       int            `db:"priority" json:"priority"`
	ConditionLogic ConditionLogic `db:"condition_logic" json:"condition_logic"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`

	// Conditions ordered by priority ascending, id ascending.
	Conditions []WorkflowRuleCondition `db:"-" json:"conditions,omitempty"`
}

// WorkflowRuleCondition is a single predicate within a rule. Comparison
// values are stored string-encoded and parsed against the field's runtime
// type at evaluation time.
type WorkflowRuleCondition struct {
	ID        int64    `db:"id" json:"id"`
	RuleID    int64    `db:"rule_id" json:"rule_id"`
	FieldName string   `db:"field_name" json:"field_name"`
	Operator  Operator `db:"operator" json:"operator"`
	Value     string   `db:"value_one" json:"value"`
	ValueTwo  *string  `db:"value_two" json:"value_two,omitempty"`
	Priority  int      `db:"priority" json:"priority"`
}

// ExecutionStatus classifies the outcome of one evaluation attempt.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "Success"
	StatusNoMatch ExecutionStatus = "NoMatch"
	StatusError   ExecutionStatus = "Error"
)

// Execution is the immutable audit record of one evaluation attempt.
// Created exactly once per attempt regardless of outcome; never mutated
// or deleted afterwards. WorkflowID and RuleID are nil when no rule
// matched or an error occurred before matching.
type Execution struct {
	ID            ExecutionID     `db:"id" json:"id"`
	WorkflowID    *int64          `db:"workflow_id" json:"workflow_id,omitempty"`
	RuleID        *int64          `db:"rule_id" json:"rule_id,omitempty"`
	EntityType    string          `db:"entity_type" json:"entity_type"`
	EntityID      int64           `db:"entity_id" json:"entity_id"`
	SourceGroupID int64           `db:"source_group_id" json:"source_group_id"`
	TargetGroupID int64           `db:"target_group_id" json:"target_group_id"`
	Status        ExecutionStatus `db:"status" json:"status"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	Snapshot      json.RawMessage `db:"entity_snapshot" json:"entity_snapshot"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
