package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/alal76/crm-solution-sub000/internal/core/db"
	"github.com/alal76/crm-solution-sub000/internal/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	conn := sqlx.NewDb(mockDB, "sqlite3")
	queries, err := db.LoadQueries(conn)
	if err != nil {
		t.Fatalf("Failed to load queries: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(conn, queries, log, time.Minute), mock
}

func workflowRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "name", "description", "entity_type", "active", "priority", "deleted", "created_at", "updated_at",
	}).AddRow(int64(1), "Escalation", "", "ServiceRequest", true, 1, false, now, now)
}

func ruleRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "workflow_id", "name", "description", "target_group_id", "enabled", "priority", "condition_logic", "created_at", "updated_at",
	}).AddRow(int64(10), int64(1), "High priority", "", int64(42), true, 1, "AND", now, now)
}

func conditionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "rule_id", "field_name", "operator", "value_one", "value_two", "priority",
	}).AddRow(int64(100), int64(10), "priority", "equals", "High", nil, 1)
}

func expectConfigLoad(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM workflows").WithArgs("ServiceRequest").WillReturnRows(workflowRows())
	mock.ExpectQuery("FROM workflow_rules").WithArgs(int64(1)).WillReturnRows(ruleRows())
	mock.ExpectQuery("FROM workflow_rule_conditions").WithArgs(int64(10)).WillReturnRows(conditionRows())
}

func TestActiveWorkflowsAssemblesConfiguration(t *testing.T) {
	st, mock := newMockStore(t)
	expectConfigLoad(mock)

	workflows, err := st.ActiveWorkflows(context.Background(), "ServiceRequest")
	if err != nil {
		t.Fatalf("ActiveWorkflows failed: %v", err)
	}

	if len(workflows) != 1 {
		t.Fatalf("Expected 1 workflow, got %d", len(workflows))
	}
	if len(workflows[0].Rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(workflows[0].Rules))
	}
	rule := workflows[0].Rules[0]
	if rule.TargetGroupID != 42 {
		t.Errorf("Expected target group 42, got %d", rule.TargetGroupID)
	}
	if len(rule.Conditions) != 1 {
		t.Fatalf("Expected 1 condition, got %d", len(rule.Conditions))
	}
	if rule.Conditions[0].Operator != types.OpEquals || rule.Conditions[0].Value != "High" {
		t.Errorf("Unexpected condition: %+v", rule.Conditions[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestActiveWorkflowsServesFromCache(t *testing.T) {
	st, mock := newMockStore(t)
	expectConfigLoad(mock)

	if _, err := st.ActiveWorkflows(context.Background(), "ServiceRequest"); err != nil {
		t.Fatalf("ActiveWorkflows failed: %v", err)
	}
	// Second read inside the TTL window must not touch the database.
	if _, err := st.ActiveWorkflows(context.Background(), "ServiceRequest"); err != nil {
		t.Fatalf("ActiveWorkflows (cached) failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Cached read issued unexpected queries: %s", err)
	}
}

func TestInvalidateConfigForcesReload(t *testing.T) {
	st, mock := newMockStore(t)
	expectConfigLoad(mock)
	expectConfigLoad(mock)

	if _, err := st.ActiveWorkflows(context.Background(), "ServiceRequest"); err != nil {
		t.Fatalf("ActiveWorkflows failed: %v", err)
	}
	st.InvalidateConfig()
	if _, err := st.ActiveWorkflows(context.Background(), "ServiceRequest"); err != nil {
		t.Fatalf("ActiveWorkflows after invalidation failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestActiveWorkflowsTTLExpiry(t *testing.T) {
	st, mock := newMockStore(t)
	expectConfigLoad(mock)
	expectConfigLoad(mock)

	current := time.Now()
	st.now = func() time.Time { return current }

	if _, err := st.ActiveWorkflows(context.Background(), "ServiceRequest"); err != nil {
		t.Fatalf("ActiveWorkflows failed: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := st.ActiveWorkflows(context.Background(), "ServiceRequest"); err != nil {
		t.Fatalf("ActiveWorkflows after TTL failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestApplyReassignmentUpdatePath(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entity_groups").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_executions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	wfID, ruleID := int64(1), int64(10)
	exec := &types.Execution{
		ID:            types.NewExecutionID(),
		WorkflowID:    &wfID,
		RuleID:        &ruleID,
		EntityType:    "ServiceRequest",
		EntityID:      1001,
		SourceGroupID: 7,
		TargetGroupID: 42,
		Status:        types.StatusSuccess,
		Snapshot:      []byte(`{"priority":"High"}`),
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.ApplyReassignment(context.Background(), 3, exec); err != nil {
		t.Fatalf("ApplyReassignment failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestApplyReassignmentVersionConflict(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entity_groups").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	exec := &types.Execution{
		ID:         types.NewExecutionID(),
		EntityType: "ServiceRequest",
		EntityID:   1001,
		Status:     types.StatusSuccess,
		Snapshot:   []byte(`{}`),
		CreatedAt:  time.Now().UTC(),
	}
	err := st.ApplyReassignment(context.Background(), 3, exec)
	if !errors.Is(err, types.ErrConcurrencyConflict) {
		t.Errorf("Expected ErrConcurrencyConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestApplyReassignmentInsertPath(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entity_groups").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO workflow_executions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	exec := &types.Execution{
		ID:            types.NewExecutionID(),
		EntityType:    "Lead",
		EntityID:      5,
		SourceGroupID: 3,
		TargetGroupID: 9,
		Status:        types.StatusSuccess,
		Snapshot:      []byte(`{}`),
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.ApplyReassignment(context.Background(), 0, exec); err != nil {
		t.Fatalf("ApplyReassignment insert path failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestApplyReassignmentInsertRace(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entity_groups").
		WillReturnError(sqlite3.Error{
			Code:         sqlite3.ErrConstraint,
			ExtendedCode: sqlite3.ErrConstraintUnique,
		})
	mock.ExpectRollback()

	exec := &types.Execution{
		ID:         types.NewExecutionID(),
		EntityType: "Lead",
		EntityID:   5,
		Status:     types.StatusSuccess,
		Snapshot:   []byte(`{}`),
		CreatedAt:  time.Now().UTC(),
	}
	err := st.ApplyReassignment(context.Background(), 0, exec)
	if !errors.Is(err, types.ErrConcurrencyConflict) {
		t.Errorf("Expected ErrConcurrencyConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestApplyReassignmentInsertFailureIsNotConflict(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entity_groups").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	exec := &types.Execution{
		ID:         types.NewExecutionID(),
		EntityType: "Lead",
		EntityID:   5,
		Status:     types.StatusSuccess,
		Snapshot:   []byte(`{}`),
		CreatedAt:  time.Now().UTC(),
	}
	err := st.ApplyReassignment(context.Background(), 0, exec)
	if err == nil {
		t.Fatal("Expected an error for a failed insert")
	}
	if errors.Is(err, types.ErrConcurrencyConflict) {
		t.Errorf("Persistence failure wrapped as conflict: %v", err)
	}
	if !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("Underlying cause lost: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestDeleteWorkflowHardWhenUnreferenced(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("DELETE FROM workflows").WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.DeleteWorkflow(context.Background(), 1); err != nil {
		t.Fatalf("DeleteWorkflow failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestDeleteWorkflowSoftWhenReferenced(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec("UPDATE workflows").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.DeleteWorkflow(context.Background(), 1); err != nil {
		t.Fatalf("DeleteWorkflow failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Execution-referenced workflow must be soft-deleted: %s", err)
	}
}

func TestCreateRuleRejectsEnabledOrRule(t *testing.T) {
	st, _ := newMockStore(t)

	err := st.CreateRule(context.Background(), &types.WorkflowRule{
		WorkflowID:     1,
		Name:           "dead rule",
		TargetGroupID:  9,
		Enabled:        true,
		ConditionLogic: types.LogicOr,
	})
	if !errors.Is(err, types.ErrEmptyOrRule) {
		t.Errorf("Expected ErrEmptyOrRule, got %v", err)
	}
}

func TestCreateRuleRejectsUnknownLogic(t *testing.T) {
	st, _ := newMockStore(t)

	err := st.CreateRule(context.Background(), &types.WorkflowRule{
		WorkflowID:     1,
		Name:           "bad",
		TargetGroupID:  9,
		ConditionLogic: types.ConditionLogic("XOR"),
	})
	if !errors.Is(err, types.ErrInvalidConditionLogic) {
		t.Errorf("Expected ErrInvalidConditionLogic, got %v", err)
	}
}

func TestUpdateRuleEnablingOrRequiresConditions(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := st.UpdateRule(context.Background(), &types.WorkflowRule{
		ID:             10,
		Name:           "or rule",
		TargetGroupID:  9,
		Enabled:        true,
		ConditionLogic: types.LogicOr,
	})
	if !errors.Is(err, types.ErrEmptyOrRule) {
		t.Errorf("Expected ErrEmptyOrRule, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestCreateConditionValidation(t *testing.T) {
	st, _ := newMockStore(t)
	two := "100"

	tests := []struct {
		name    string
		cond    types.WorkflowRuleCondition
		wantErr error
	}{
		{
			name:    "unknown operator",
			cond:    types.WorkflowRuleCondition{RuleID: 1, FieldName: "f", Operator: "regex", Value: "x"},
			wantErr: types.ErrUnsupportedOperator,
		},
		{
			name:    "between missing upper bound",
			cond:    types.WorkflowRuleCondition{RuleID: 1, FieldName: "f", Operator: types.OpBetween, Value: "1"},
			wantErr: types.ErrInvalidRange,
		},
		{
			name:    "non-range operator with secondary value",
			cond:    types.WorkflowRuleCondition{RuleID: 1, FieldName: "f", Operator: types.OpEquals, Value: "1", ValueTwo: &two},
			wantErr: types.ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.CreateCondition(context.Background(), &tt.cond)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateCondition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("FROM workflow_executions").
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetExecution(context.Background(), types.ExecutionID("0195a000-0000-7000-8000-000000000000"))
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListExecutionsFilterAndPagination(t *testing.T) {
	st, mock := newMockStore(t)

	cols := []string{
		"id", "workflow_id", "rule_id", "entity_type", "entity_id",
		"source_group_id", "target_group_id", "status", "error_message",
		"entity_snapshot", "created_at",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"0195a000-0000-7000-8000-000000000001", int64(1), int64(10),
		"ServiceRequest", int64(1001), int64(7), int64(42), "Success",
		nil, []byte(`{}`), time.Now().UTC(),
	)

	mock.ExpectQuery("FROM workflow_executions WHERE entity_type = \\? AND entity_id = \\? ORDER BY created_at DESC, id DESC LIMIT \\? OFFSET \\?").
		WithArgs("ServiceRequest", int64(1001), 25, 0).
		WillReturnRows(rows)

	execs, err := st.ListExecutions(context.Background(), ExecutionFilter{
		EntityType: "ServiceRequest",
		EntityID:   1001,
		Limit:      25,
	})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("Expected 1 execution, got %d", len(execs))
	}
	if execs[0].Status != types.StatusSuccess {
		t.Errorf("Expected Success status, got %s", execs[0].Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}

func TestListExecutionsClampsPageSize(t *testing.T) {
	st, mock := newMockStore(t)

	cols := []string{
		"id", "workflow_id", "rule_id", "entity_type", "entity_id",
		"source_group_id", "target_group_id", "status", "error_message",
		"entity_snapshot", "created_at",
	}
	mock.ExpectQuery("FROM workflow_executions ORDER BY").
		WithArgs(MaxPageSize, 0).
		WillReturnRows(sqlmock.NewRows(cols))

	_, err := st.ListExecutions(context.Background(), ExecutionFilter{Limit: 10000})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled expectations: %s", err)
	}
}
