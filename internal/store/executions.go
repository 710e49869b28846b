// internal/store/executions.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Execution ledger: append-only audit of every evaluation attempt.
 *
 * Inserts go through the named insert-execution query. The history surface
 * needs composable filters (entity, workflow, time range), which dotsql's
 * fixed named queries cannot express, so ListExecutions builds its WHERE
 * clause in Go against ? placeholders and Rebinds for the active driver.
 *
 * No update or delete exists for this table anywhere in the codebase.
 */

// Pagination bounds for the history surface.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ExecutionFilter narrows a history query. Zero values mean "no filter".
type ExecutionFilter struct {
	EntityType string
	EntityID   int64
	WorkflowID int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// AppendExecution inserts one immutable execution record.
func (s *Store) AppendExecution(ctx context.Context, exec *types.Execution) error {
	if _, err := s.q.Exec(ctx, "insert-execution", executionArgs(exec)...); err != nil {
		return fmt.Errorf("appending execution record: %w", err)
	}
	return nil
}

// GetExecution returns one execution by id. ErrNotFound for unknown ids.
func (s *Store) GetExecution(ctx context.Context, id types.ExecutionID) (*types.Execution, error) {
	var exec types.Execution
	err := s.q.Get(ctx, "get-execution", &exec, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListExecutions returns executions matching the filter, newest first.
// Limit is clamped to MaxPageSize; zero selects DefaultPageSize.
func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]types.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != 0 {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.WorkflowID != 0 {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := "SELECT id, workflow_id, rule_id, entity_type, entity_id, source_group_id, target_group_id, status, error_message, entity_snapshot, created_at FROM workflow_executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	var execs []types.Execution
	if err := s.conn.SelectContext(ctx, &execs, s.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return execs, nil
}

// executionArgs flattens an execution row into insert-execution parameter
// order.
func executionArgs(exec *types.Execution) []any {
	return []any{
		string(exec.ID),
		exec.WorkflowID,
		exec.RuleID,
		exec.EntityType,
		exec.EntityID,
		exec.SourceGroupID,
		exec.TargetGroupID,
		string(exec.Status),
		exec.ErrorMessage,
		[]byte(exec.Snapshot),
		exec.CreatedAt,
	}
}
