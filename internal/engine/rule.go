// internal/engine/rule.go
package engine

import (
	"sort"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Rule evaluation orchestration.
 *
 * Combines a rule's ordered conditions into a single boolean under AND/OR
 * logic with priority-ordered short-circuit.
 *
 * Evaluation flow:
 *   1. Order conditions by priority ascending, id ascending (stable,
 *      deterministic under concurrent rule edits)
 *   2. Per condition: field lookup -> coerce stored value -> compare
 *   3. AND short-circuits false on first failing condition; OR
 *      short-circuits true on first passing condition. Remaining field
 *      lookups are skipped - this matters for side-effect-free but
 *      potentially expensive accessors.
 *
 * Failure handling: a condition lookup or coercion failure evaluates to
 * false for that single condition, not a fatal error for the whole rule.
 * One malformed condition cannot block otherwise-valid rules, but the
 * failure is recorded as a diagnostic so administrators can tell broken
 * configuration apart from a genuine business non-match.
 *
 * Zero-condition policy: vacuously true under AND ("always apply"),
 * vacuously false under OR. OR rules without conditions are rejected at
 * authoring time; the false result here covers rows that predate that
 * validation.
 */

// ConditionDiagnostic records a condition that failed to evaluate, as
// opposed to one that evaluated false. Surfaced in execution metadata so
// a skipped rule can be distinguished from a true non-match.
type ConditionDiagnostic struct {
	ConditionID int64  `json:"condition_id"`
	RuleID      int64  `json:"rule_id"`
	FieldName   string `json:"field_name"`
	Reason      string `json:"reason"`
}

// EvalCondition evaluates a single condition against the entity snapshot.
// Errors out on field lookup failure, unsupported operator, type mismatch,
// or invalid range; the caller decides whether that aborts anything.
func EvalCondition(cond types.WorkflowRuleCondition, snap Snapshot) (bool, error) {
	op, err := types.ParseOperator(string(cond.Operator))
	if err != nil {
		return false, err
	}
	field, err := snap.Get(cond.FieldName)
	if err != nil {
		return false, err
	}
	return Compare(op, field, cond.Value, cond.ValueTwo)
}

// EvalRule evaluates a rule's conditions under its combination logic.
// Returns the rule verdict and any diagnostics for conditions that failed
// to evaluate. Condition failures count as false, never as errors.
func EvalRule(rule *types.WorkflowRule, snap Snapshot) (bool, []ConditionDiagnostic) {
	conds := orderedConditions(rule)
	var diags []ConditionDiagnostic

	if len(conds) == 0 {
		return rule.ConditionLogic == types.LogicAnd, nil
	}

	for _, cond := range conds {
		ok, err := EvalCondition(cond, snap)
		if err != nil {
			diags = append(diags, ConditionDiagnostic{
				ConditionID: cond.ID,
				RuleID:      rule.ID,
				FieldName:   cond.FieldName,
				Reason:      err.Error(),
			})
			ok = false
		}
		switch rule.ConditionLogic {
		case types.LogicOr:
			if ok {
				return true, diags
			}
		default: // AND
			if !ok {
				return false, diags
			}
		}
	}

	// AND: every condition passed. OR: none did.
	return rule.ConditionLogic != types.LogicOr, diags
}

// orderedConditions returns the rule's conditions sorted by priority
// ascending then id ascending, without mutating the rule.
func orderedConditions(rule *types.WorkflowRule) []types.WorkflowRuleCondition {
	conds := make([]types.WorkflowRuleCondition, len(rule.Conditions))
	copy(conds, rule.Conditions)
	sort.SliceStable(conds, func(i, j int) bool {
		if conds[i].Priority != conds[j].Priority {
			return conds[i].Priority < conds[j].Priority
		}
		return conds[i].ID < conds[j].ID
	})
	return conds
}
