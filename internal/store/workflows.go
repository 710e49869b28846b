// internal/store/workflows.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Workflow configuration: engine reads and admin writes.
 *
 * ActiveWorkflows implements the engine's ConfigSource: active, non-deleted
 * workflows for one entity type with their enabled rules and conditions,
 * fully ordered (priority ascending, id ascending) at the database. Results
 * cache per entity type until TTL expiry or explicit invalidation.
 *
 * Admin CRUD mutates the same tables and invalidates the cache on every
 * write. Workflows referenced by execution history are only ever
 * soft-deleted; an unreferenced workflow may be removed outright.
 *
 * Authoring-time validation enforced here:
 *   - condition logic must be AND or OR
 *   - an enabled OR rule must have at least one condition (a zero-condition
 *     OR rule is vacuously false and therefore dead configuration)
 *   - operator tags must parse; between requires a secondary value
 */

// ActiveWorkflows returns the evaluation-ready configuration for an entity
// type, served from cache inside the TTL window.
func (s *Store) ActiveWorkflows(ctx context.Context, entityType string) ([]types.Workflow, error) {
	s.mu.RLock()
	entry, ok := s.cache[entityType]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expires) {
		return entry.workflows, nil
	}

	workflows, err := s.loadActiveWorkflows(ctx, entityType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[entityType] = cacheEntry{workflows: workflows, expires: s.now().Add(s.cacheTTL)}
	s.mu.Unlock()

	return workflows, nil
}

func (s *Store) loadActiveWorkflows(ctx context.Context, entityType string) ([]types.Workflow, error) {
	var workflows []types.Workflow
	if err := s.q.Select(ctx, "list-active-workflows", &workflows, entityType); err != nil {
		return nil, fmt.Errorf("loading workflows for %s: %w", entityType, err)
	}

	for i := range workflows {
		var rules []types.WorkflowRule
		if err := s.q.Select(ctx, "list-enabled-rules", &rules, workflows[i].ID); err != nil {
			return nil, fmt.Errorf("loading rules for workflow %d: %w", workflows[i].ID, err)
		}
		for j := range rules {
			var conds []types.WorkflowRuleCondition
			if err := s.q.Select(ctx, "list-conditions", &conds, rules[j].ID); err != nil {
				return nil, fmt.Errorf("loading conditions for rule %d: %w", rules[j].ID, err)
			}
			rules[j].Conditions = conds
		}
		workflows[i].Rules = rules
	}

	return workflows, nil
}

// ListWorkflows returns all non-deleted workflow rows (no rules attached).
func (s *Store) ListWorkflows(ctx context.Context) ([]types.Workflow, error) {
	var workflows []types.Workflow
	if err := s.q.Select(ctx, "list-workflows", &workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

// GetWorkflow returns one workflow with all its rules and conditions,
// including disabled ones (admin view). ErrNotFound for unknown or
// soft-deleted ids.
func (s *Store) GetWorkflow(ctx context.Context, id int64) (*types.Workflow, error) {
	var wf types.Workflow
	if err := s.q.Get(ctx, "get-workflow", &wf, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	var rules []types.WorkflowRule
	if err := s.q.Select(ctx, "list-rules", &rules, id); err != nil {
		return nil, err
	}
	for i := range rules {
		var conds []types.WorkflowRuleCondition
		if err := s.q.Select(ctx, "list-conditions", &conds, rules[i].ID); err != nil {
			return nil, err
		}
		rules[i].Conditions = conds
	}
	wf.Rules = rules
	return &wf, nil
}

// CreateWorkflow inserts a workflow and fills in its assigned id.
func (s *Store) CreateWorkflow(ctx context.Context, wf *types.Workflow) error {
	now := s.now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	id, err := s.insertReturningID(ctx, "insert-workflow",
		wf.Name, wf.Description, wf.EntityType, wf.Active, wf.Priority, now, now)
	if err != nil {
		return err
	}
	wf.ID = id
	s.InvalidateConfig()
	return nil
}

// UpdateWorkflow updates a workflow's editable attributes.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *types.Workflow) error {
	now := s.now().UTC()
	res, err := s.q.Exec(ctx, "update-workflow",
		wf.Name, wf.Description, wf.EntityType, wf.Active, wf.Priority, now, wf.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	wf.UpdatedAt = now
	s.InvalidateConfig()
	return nil
}

// DeleteWorkflow removes a workflow. Hard delete only while no execution
// references it; afterwards the row is soft-deleted so the forensic ledger
// keeps a valid workflow reference forever.
func (s *Store) DeleteWorkflow(ctx context.Context, id int64) error {
	var refs int64
	if err := s.q.Get(ctx, "count-workflow-executions", &refs, id); err != nil {
		return err
	}

	var (
		res sql.Result
		err error
	)
	if refs > 0 {
		res, err = s.q.Exec(ctx, "soft-delete-workflow", s.now().UTC(), id)
	} else {
		res, err = s.q.Exec(ctx, "hard-delete-workflow", id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	s.InvalidateConfig()
	return nil
}

// CreateRule inserts a rule into a workflow and fills in its assigned id.
// Rejects enabled OR rules outright: they cannot have conditions yet, and
// a zero-condition OR rule is vacuously false.
func (s *Store) CreateRule(ctx context.Context, rule *types.WorkflowRule) error {
	logic, err := types.ParseConditionLogic(string(rule.ConditionLogic))
	if err != nil {
		return err
	}
	if rule.Enabled && logic == types.LogicOr {
		return types.ErrEmptyOrRule
	}

	now := s.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	id, err := s.insertReturningID(ctx, "insert-rule",
		rule.WorkflowID, rule.Name, rule.Description, rule.TargetGroupID,
		rule.Enabled, rule.Priority, string(logic), now, now)
	if err != nil {
		return err
	}
	rule.ID = id
	s.InvalidateConfig()
	return nil
}

// UpdateRule updates a rule's editable attributes. Enabling an OR rule
// requires at least one condition.
func (s *Store) UpdateRule(ctx context.Context, rule *types.WorkflowRule) error {
	logic, err := types.ParseConditionLogic(string(rule.ConditionLogic))
	if err != nil {
		return err
	}
	if rule.Enabled && logic == types.LogicOr {
		var conds int64
		if err := s.q.Get(ctx, "count-rule-conditions", &conds, rule.ID); err != nil {
			return err
		}
		if conds == 0 {
			return types.ErrEmptyOrRule
		}
	}

	now := s.now().UTC()
	res, err := s.q.Exec(ctx, "update-rule",
		rule.Name, rule.Description, rule.TargetGroupID, rule.Enabled,
		rule.Priority, string(logic), now, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	rule.UpdatedAt = now
	s.InvalidateConfig()
	return nil
}

// DeleteRule removes a rule and its conditions. Execution history survives
// through the ledger's SET NULL rule reference.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.q.Exec(ctx, "delete-rule", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	s.InvalidateConfig()
	return nil
}

// CreateCondition inserts a condition and fills in its assigned id.
// Operator and range shape are validated here so malformed predicates are
// rejected at authoring time instead of failing every evaluation.
func (s *Store) CreateCondition(ctx context.Context, cond *types.WorkflowRuleCondition) error {
	if err := validateCondition(cond); err != nil {
		return err
	}
	id, err := s.insertReturningID(ctx, "insert-condition",
		cond.RuleID, cond.FieldName, string(cond.Operator), cond.Value, cond.ValueTwo, cond.Priority)
	if err != nil {
		return err
	}
	cond.ID = id
	s.InvalidateConfig()
	return nil
}

// UpdateCondition updates a condition's editable attributes.
func (s *Store) UpdateCondition(ctx context.Context, cond *types.WorkflowRuleCondition) error {
	if err := validateCondition(cond); err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, "update-condition",
		cond.FieldName, string(cond.Operator), cond.Value, cond.ValueTwo, cond.Priority, cond.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	s.InvalidateConfig()
	return nil
}

// DeleteCondition removes a single condition.
func (s *Store) DeleteCondition(ctx context.Context, id int64) error {
	res, err := s.q.Exec(ctx, "delete-condition", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	s.InvalidateConfig()
	return nil
}

func validateCondition(cond *types.WorkflowRuleCondition) error {
	op, err := types.ParseOperator(string(cond.Operator))
	if err != nil {
		return err
	}
	// ValueTwo populated iff the operator requires a range.
	if op.NeedsRange() && cond.ValueTwo == nil {
		return types.ErrInvalidRange
	}
	if !op.NeedsRange() && cond.ValueTwo != nil {
		return types.ErrInvalidRange
	}
	return nil
}

// insertReturningID executes a named insert and reports the assigned row
// id. lib/pq does not implement LastInsertId, so PostgreSQL goes through
// RETURNING instead.
func (s *Store) insertReturningID(ctx context.Context, name string, args ...any) (int64, error) {
	query, err := s.q.Raw(name)
	if err != nil {
		return 0, err
	}
	if s.conn.DriverName() == "postgres" {
		var id int64
		if err := s.conn.GetContext(ctx, &id, query+" RETURNING id", args...); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
