// internal/store/entities.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

/*
 * Entity group assignments with optimistic concurrency.
 *
 * The engine owns group ownership routing, so the assignment row lives in
 * this module's schema and shares a transaction with the execution ledger
 * insert. row_version guards same-entity concurrent evaluations: the
 * UPDATE is version-qualified and zero affected rows means another
 * evaluation committed first, surfaced as ErrConcurrencyConflict for the
 * engine's bounded retry.
 */

// EntityGroup returns the entity's current group id and row version.
// ErrNotFound when the engine has never routed this entity.
func (s *Store) EntityGroup(ctx context.Context, entityType string, entityID int64) (int64, int64, error) {
	var row struct {
		EntityType string `db:"entity_type"`
		EntityID   int64  `db:"entity_id"`
		GroupID    int64  `db:"group_id"`
		RowVersion int64  `db:"row_version"`
		UpdatedAt  any    `db:"updated_at"`
	}
	err := s.q.Get(ctx, "get-entity-group", &row, entityType, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, types.ErrNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	return row.GroupID, row.RowVersion, nil
}

// ApplyReassignment moves the entity's group and appends the execution
// record as one transaction. expectedVersion 0 means the assignment row
// does not exist yet and is inserted; a duplicate insert from a racing
// evaluation also surfaces as ErrConcurrencyConflict.
func (s *Store) ApplyReassignment(ctx context.Context, expectedVersion int64, exec *types.Execution) error {
	updateSQL, err := s.q.Raw("update-entity-group")
	if err != nil {
		return err
	}
	insertSQL, err := s.q.Raw("insert-entity-group")
	if err != nil {
		return err
	}
	execSQL, err := s.q.Raw("insert-execution")
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reassignment: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	if expectedVersion == 0 {
		if _, err := tx.ExecContext(ctx, insertSQL,
			exec.EntityType, exec.EntityID, exec.TargetGroupID, now); err != nil {
			// Unique violation on (entity_type, entity_id): lost the race.
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", types.ErrConcurrencyConflict, err)
			}
			return fmt.Errorf("inserting entity group: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, updateSQL,
			exec.TargetGroupID, now, exec.EntityType, exec.EntityID, expectedVersion)
		if err != nil {
			return fmt.Errorf("reassigning entity group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrConcurrencyConflict
		}
	}

	if _, err := tx.ExecContext(ctx, execSQL, executionArgs(exec)...); err != nil {
		return fmt.Errorf("appending execution record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reassignment: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation
// from either supported driver. Anything else is a persistence failure
// and must not be retried as a conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
