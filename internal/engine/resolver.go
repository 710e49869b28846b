// internal/engine/resolver.go
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Workflow resolution.
 *
 * First-match-wins across a two-level priority ordering: workflows by
 * priority ascending then id ascending, rules within each workflow the
 * same way. A deterministic total order must exist so outcomes are
 * reproducible under concurrent rule edits; the explicit sort here covers
 * configuration sources that do not guarantee ordering.
 *
 * A malformed rule (unknown operator, bad range) aborts evaluation of the
 * offending rule only; resolution continues with the next candidate.
 */

// ConfigSource yields active workflow configuration for an entity type.
// Implemented by the store's read-through cache; configuration reads are
// not required to be transactionally consistent with admin writes.
type ConfigSource interface {
	ActiveWorkflows(ctx context.Context, entityType string) ([]types.Workflow, error)
}

// Match is the winning workflow/rule pair for an evaluation, plus the
// diagnostics accumulated while searching for it.
type Match struct {
	Workflow    *types.Workflow
	Rule        *types.WorkflowRule
	Diagnostics []ConditionDiagnostic
}

// Resolver selects the single winning workflow/rule pair for an entity.
type Resolver struct {
	src ConfigSource
	log *slog.Logger
}

// NewResolver creates a resolver over the given configuration source.
func NewResolver(src ConfigSource, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{src: src, log: log}
}

// Resolve finds the first matching enabled rule for the entity, or
// ErrNoMatch after exhausting all candidates. The returned Match carries
// diagnostics from every rule evaluated up to and including the winner,
// so a NoMatch caused by broken configuration is detectable.
func (r *Resolver) Resolve(ctx context.Context, entityType string, snap Snapshot) (Match, error) {
	active, err := r.src.ActiveWorkflows(ctx, entityType)
	if err != nil {
		return Match{}, err
	}

	// The source may hand out a shared cached slice; sort a copy so
	// concurrent evaluations never reorder it in place.
	workflows := make([]types.Workflow, len(active))
	copy(workflows, active)
	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].Priority != workflows[j].Priority {
			return workflows[i].Priority < workflows[j].Priority
		}
		return workflows[i].ID < workflows[j].ID
	})

	var diags []ConditionDiagnostic
	for wi := range workflows {
		wf := &workflows[wi]
		rules := orderedRules(wf)
		for ri := range rules {
			rule := &rules[ri]
			if !rule.Enabled {
				continue
			}
			if _, err := types.ParseConditionLogic(string(rule.ConditionLogic)); err != nil {
				// Configuration error aborts this rule only.
				r.log.WarnContext(ctx, "skipping malformed rule",
					"workflow_id", wf.ID, "rule_id", rule.ID, "error", err)
				diags = append(diags, ConditionDiagnostic{
					RuleID: rule.ID,
					Reason: err.Error(),
				})
				continue
			}
			ok, ruleDiags := EvalRule(rule, snap)
			diags = append(diags, ruleDiags...)
			for _, d := range ruleDiags {
				r.log.WarnContext(ctx, "condition failed to evaluate",
					"workflow_id", wf.ID, "rule_id", d.RuleID,
					"condition_id", d.ConditionID, "field", d.FieldName,
					"reason", d.Reason)
			}
			if ok {
				return Match{Workflow: wf, Rule: rule, Diagnostics: diags}, nil
			}
		}
	}

	return Match{Diagnostics: diags}, types.ErrNoMatch
}

// orderedRules returns the workflow's rules sorted by priority ascending
// then id ascending, without mutating the workflow.
func orderedRules(wf *types.Workflow) []types.WorkflowRule {
	rules := make([]types.WorkflowRule, len(wf.Rules))
	copy(rules, wf.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// IsNoMatch reports whether err is the resolver's no-match sentinel.
func IsNoMatch(err error) bool { return errors.Is(err, types.ErrNoMatch) }
