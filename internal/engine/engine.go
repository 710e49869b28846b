// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Execution engine.
 *
 * Invoked synchronously, once per entity-changing event, by the entity
 * mutation collaborators of the surrounding CRUD application. Always
 * produces exactly one execution record per invocation: Success, NoMatch,
 * or Error.
 *
 * Atomicity: resolving the rule, reassigning the entity's group ownership,
 * and appending the execution record form one logical transaction. The
 * reassignment and the audit insert share a store transaction; if the
 * audit write cannot commit, the mutation rolls back with it.
 *
 * Concurrency: same-entity evaluations serialize through optimistic
 * concurrency on the group assignment row (row_version check). Conflicts
 * re-read the entity's current group and retry a bounded number of times
 * before surfacing ErrConcurrencyConflict.
 *
 * Error audit: a terminal failure still attempts a best-effort Error-status
 * execution record. If even that write fails, the caller receives a hard
 * failure - silent audit loss is not acceptable.
 */

// Default retry budget for optimistic lock conflicts.
const defaultConflictRetries = 3

// EntityEvent is the input to one evaluation: the entity's identity, its
// field values at mutation time, and its current group ownership.
type EntityEvent struct {
	EntityType    string
	EntityID      int64
	Fields        MapSnapshot
	SourceGroupID int64
}

// ExecutionResult is returned to the invoking CRUD operation. GroupID
// equals the source group when no reassignment happened.
type ExecutionResult struct {
	ExecutionID types.ExecutionID
	Status      types.ExecutionStatus
	WorkflowID  *int64
	RuleID      *int64
	GroupID     int64
}

// ExecutionStore is the persistence surface for the execution engine.
// Implemented by *store.Store.
type ExecutionStore interface {
	// EntityGroup returns the entity's current group id and row version.
	// ErrNotFound when the engine has never routed this entity.
	EntityGroup(ctx context.Context, entityType string, entityID int64) (groupID, version int64, err error)

	// ApplyReassignment moves the entity's group ownership and appends the
	// execution record in one transaction, guarded by the expected row
	// version. Returns ErrConcurrencyConflict when the row changed
	// underneath the evaluation; neither write survives in that case.
	ApplyReassignment(ctx context.Context, expectedVersion int64, exec *types.Execution) error

	// AppendExecution inserts one execution record outside any engine
	// transaction. Used for NoMatch and best-effort Error records.
	AppendExecution(ctx context.Context, exec *types.Execution) error
}

// Engine applies resolved rules to entities and maintains the audit ledger.
type Engine struct {
	resolver *Resolver
	store    ExecutionStore
	log      *slog.Logger
	retries  int
	now      func() time.Time
}

// NewEngine creates an execution engine. retries <= 0 selects the default
// conflict retry budget.
func NewEngine(resolver *Resolver, store ExecutionStore, log *slog.Logger, retries int) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if retries <= 0 {
		retries = defaultConflictRetries
	}
	return &Engine{
		resolver: resolver,
		store:    store,
		log:      log,
		retries:  retries,
		now:      time.Now,
	}
}

// Execute evaluates one entity event end to end. The snapshot is captured
// before resolution so the audit record exists regardless of outcome.
// NoMatch is not an error for the caller; persistence failures are.
func (e *Engine) Execute(ctx context.Context, event EntityEvent) (ExecutionResult, error) {
	snap := event.Fields
	snapshotJSON := MarshalSnapshot(snap)

	match, err := e.resolver.Resolve(ctx, event.EntityType, snap)
	if err != nil {
		if IsNoMatch(err) {
			return e.recordNoMatch(ctx, event, snapshotJSON, match.Diagnostics)
		}
		// Configuration load failure: audit best-effort, surface to caller.
		return e.recordError(ctx, event, snapshotJSON, nil, nil, err)
	}

	result, err := e.applyMatch(ctx, event, match, snapshotJSON)
	if err != nil {
		return e.recordError(ctx, event, snapshotJSON, &match.Workflow.ID, &match.Rule.ID, err)
	}
	return result, nil
}

// applyMatch reassigns the entity's group and appends the Success record
// in one transaction, retrying bounded times on version conflicts.
func (e *Engine) applyMatch(ctx context.Context, event EntityEvent, match Match, snapshotJSON []byte) (ExecutionResult, error) {
	target := match.Rule.TargetGroupID

	var lastErr error
	for attempt := 0; attempt < e.retries; attempt++ {
		source, version, err := e.currentGroup(ctx, event)
		if err != nil {
			return ExecutionResult{}, err
		}

		exec := &types.Execution{
			ID:            types.NewExecutionID(),
			WorkflowID:    &match.Workflow.ID,
			RuleID:        &match.Rule.ID,
			EntityType:    event.EntityType,
			EntityID:      event.EntityID,
			SourceGroupID: source,
			TargetGroupID: target,
			Status:        types.StatusSuccess,
			Snapshot:      snapshotJSON,
			CreatedAt:     e.now().UTC(),
		}

		err = e.store.ApplyReassignment(ctx, version, exec)
		if err == nil {
			e.log.InfoContext(ctx, "workflow rule applied",
				"entity_type", event.EntityType, "entity_id", event.EntityID,
				"workflow_id", match.Workflow.ID, "rule_id", match.Rule.ID,
				"source_group_id", source, "target_group_id", target)
			return ExecutionResult{
				ExecutionID: exec.ID,
				Status:      types.StatusSuccess,
				WorkflowID:  exec.WorkflowID,
				RuleID:      exec.RuleID,
				GroupID:     target,
			}, nil
		}
		if !errors.Is(err, types.ErrConcurrencyConflict) {
			return ExecutionResult{}, err
		}
		lastErr = err
	}
	return ExecutionResult{}, fmt.Errorf("retries exhausted after %d attempts: %w", e.retries, lastErr)
}

// currentGroup reads the entity's live group assignment. Entities the
// engine has never routed fall back to the caller-supplied source group.
func (e *Engine) currentGroup(ctx context.Context, event EntityEvent) (int64, int64, error) {
	group, version, err := e.store.EntityGroup(ctx, event.EntityType, event.EntityID)
	if errors.Is(err, types.ErrNotFound) {
		return event.SourceGroupID, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return group, version, nil
}

// recordNoMatch appends the NoMatch execution. The entity's group is never
// mutated; source and target group ids are equal by construction. When
// conditions failed to evaluate during resolution, a summary lands in the
// record's error message so a configuration-caused NoMatch is
// distinguishable from a genuine business mismatch.
func (e *Engine) recordNoMatch(ctx context.Context, event EntityEvent, snapshotJSON []byte, diags []ConditionDiagnostic) (ExecutionResult, error) {
	exec := &types.Execution{
		ID:            types.NewExecutionID(),
		EntityType:    event.EntityType,
		EntityID:      event.EntityID,
		SourceGroupID: event.SourceGroupID,
		TargetGroupID: event.SourceGroupID,
		Status:        types.StatusNoMatch,
		Snapshot:      snapshotJSON,
		CreatedAt:     e.now().UTC(),
	}
	if msg := diagnosticsSummary(diags); msg != "" {
		exec.ErrorMessage = &msg
	}
	if err := e.store.AppendExecution(ctx, exec); err != nil {
		return ExecutionResult{}, fmt.Errorf("recording no-match execution: %w", err)
	}
	return ExecutionResult{
		ExecutionID: exec.ID,
		Status:      types.StatusNoMatch,
		GroupID:     event.SourceGroupID,
	}, nil
}

// diagnosticsSummary flattens condition diagnostics into one line for the
// execution record. Empty when nothing failed.
func diagnosticsSummary(diags []ConditionDiagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	parts := make([]string, len(diags))
	for i, d := range diags {
		parts[i] = fmt.Sprintf("rule %d condition %d (%s): %s",
			d.RuleID, d.ConditionID, d.FieldName, d.Reason)
	}
	return fmt.Sprintf("%d condition(s) failed to evaluate: %s",
		len(diags), strings.Join(parts, "; "))
}

// recordError appends a best-effort Error execution and returns the
// original failure. An audit write failure joins the returned error; the
// caller must see a hard failure rather than silent audit loss.
func (e *Engine) recordError(ctx context.Context, event EntityEvent, snapshotJSON []byte, workflowID, ruleID *int64, cause error) (ExecutionResult, error) {
	msg := cause.Error()
	exec := &types.Execution{
		ID:            types.NewExecutionID(),
		WorkflowID:    workflowID,
		RuleID:        ruleID,
		EntityType:    event.EntityType,
		EntityID:      event.EntityID,
		SourceGroupID: event.SourceGroupID,
		TargetGroupID: event.SourceGroupID,
		Status:        types.StatusError,
		ErrorMessage:  &msg,
		Snapshot:      snapshotJSON,
		CreatedAt:     e.now().UTC(),
	}
	if auditErr := e.store.AppendExecution(ctx, exec); auditErr != nil {
		return ExecutionResult{}, fmt.Errorf("evaluation failed (%w) and error audit write failed: %w", cause, auditErr)
	}
	e.log.ErrorContext(ctx, "workflow evaluation failed",
		"entity_type", event.EntityType, "entity_id", event.EntityID, "error", msg)
	return ExecutionResult{
		ExecutionID: exec.ID,
		Status:      types.StatusError,
		WorkflowID:  workflowID,
		RuleID:      ruleID,
		GroupID:     event.SourceGroupID,
	}, cause
}
