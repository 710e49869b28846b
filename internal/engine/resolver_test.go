package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alal76/crm-solution-sub000/internal/types"
)

type staticConfig struct {
	workflows []types.Workflow
	err       error
}

func (s *staticConfig) ActiveWorkflows(ctx context.Context, entityType string) ([]types.Workflow, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.workflows, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enabledRule(id int64, priority int, target int64, conds ...types.WorkflowRuleCondition) types.WorkflowRule {
	return types.WorkflowRule{
		ID:             id,
		Priority:       priority,
		TargetGroupID:  target,
		Enabled:        true,
		ConditionLogic: types.LogicAnd,
		Conditions:     conds,
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	// Two workflows both match; the lower-priority-value workflow wins.
	src := &staticConfig{workflows: []types.Workflow{
		{
			ID: 10, Priority: 2, Rules: []types.WorkflowRule{
				enabledRule(101, 1, 900, cond(1, 1, "status", types.OpEquals, "Open")),
			},
		},
		{
			ID: 20, Priority: 1, Rules: []types.WorkflowRule{
				enabledRule(201, 1, 800, cond(2, 1, "status", types.OpEquals, "Open")),
			},
		},
	}}
	r := NewResolver(src, discardLogger())

	match, err := r.Resolve(context.Background(), "ServiceRequest", MapSnapshot{"status": "Open"})
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if match.Workflow.ID != 20 {
		t.Errorf("Resolve() workflow = %d, want 20 (lower priority value wins)", match.Workflow.ID)
	}
	if match.Rule.ID != 201 {
		t.Errorf("Resolve() rule = %d, want 201", match.Rule.ID)
	}
}

func TestResolveDoesNotMutateSource(t *testing.T) {
	// The source can be a shared cache; Resolve must sort its own copy,
	// even when many evaluations run at once.
	shared := []types.Workflow{
		{
			ID: 10, Priority: 2, Rules: []types.WorkflowRule{
				enabledRule(101, 1, 900, cond(1, 1, "status", types.OpEquals, "Open")),
			},
		},
		{
			ID: 20, Priority: 1, Rules: []types.WorkflowRule{
				enabledRule(201, 1, 800, cond(2, 1, "status", types.OpEquals, "Open")),
			},
		},
	}
	r := NewResolver(&staticConfig{workflows: shared}, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			match, err := r.Resolve(context.Background(), "ServiceRequest", MapSnapshot{"status": "Open"})
			if err != nil {
				t.Errorf("Resolve() unexpected error = %v", err)
				return
			}
			if match.Workflow.ID != 20 {
				t.Errorf("Resolve() workflow = %d, want 20", match.Workflow.ID)
			}
		}()
	}
	wg.Wait()

	if shared[0].ID != 10 || shared[1].ID != 20 {
		t.Errorf("Resolve() reordered the source slice: got [%d %d], want [10 20]",
			shared[0].ID, shared[1].ID)
	}
}

func TestResolveWorkflowTieBreaksByID(t *testing.T) {
	src := &staticConfig{workflows: []types.Workflow{
		{
			ID: 7, Priority: 1, Rules: []types.WorkflowRule{
				enabledRule(71, 1, 700),
			},
		},
		{
			ID: 3, Priority: 1, Rules: []types.WorkflowRule{
				enabledRule(31, 1, 300),
			},
		},
	}}
	r := NewResolver(src, discardLogger())

	match, err := r.Resolve(context.Background(), "Lead", MapSnapshot{})
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if match.Workflow.ID != 3 {
		t.Errorf("Resolve() workflow = %d, want 3 (id tie-break)", match.Workflow.ID)
	}
}

func TestResolveRulePriorityWithinWorkflow(t *testing.T) {
	src := &staticConfig{workflows: []types.Workflow{
		{
			ID: 1, Priority: 1, Rules: []types.WorkflowRule{
				enabledRule(12, 5, 500),
				enabledRule(11, 1, 100),
			},
		},
	}}
	r := NewResolver(src, discardLogger())

	match, err := r.Resolve(context.Background(), "Lead", MapSnapshot{})
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if match.Rule.ID != 11 {
		t.Errorf("Resolve() rule = %d, want 11 (rule priority within workflow)", match.Rule.ID)
	}
}

func TestResolveSkipsDisabledRules(t *testing.T) {
	disabled := enabledRule(1, 1, 100)
	disabled.Enabled = false

	src := &staticConfig{workflows: []types.Workflow{
		{
			ID: 1, Priority: 1, Rules: []types.WorkflowRule{
				disabled,
				enabledRule(2, 2, 200),
			},
		},
	}}
	r := NewResolver(src, discardLogger())

	match, err := r.Resolve(context.Background(), "Lead", MapSnapshot{})
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if match.Rule.ID != 2 {
		t.Errorf("Resolve() rule = %d, want 2 (disabled rule skipped)", match.Rule.ID)
	}
}

func TestResolveSkipsMalformedRuleOnly(t *testing.T) {
	malformed := enabledRule(1, 1, 100)
	malformed.ConditionLogic = types.ConditionLogic("XOR")

	src := &staticConfig{workflows: []types.Workflow{
		{
			ID: 1, Priority: 1, Rules: []types.WorkflowRule{
				malformed,
				enabledRule(2, 2, 200),
			},
		},
	}}
	r := NewResolver(src, discardLogger())

	match, err := r.Resolve(context.Background(), "Lead", MapSnapshot{})
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if match.Rule.ID != 2 {
		t.Errorf("Resolve() rule = %d, want 2 (malformed rule skipped)", match.Rule.ID)
	}
	if len(match.Diagnostics) != 1 || match.Diagnostics[0].RuleID != 1 {
		t.Errorf("Resolve() diagnostics = %+v, want one for rule 1", match.Diagnostics)
	}
}

func TestResolveNoMatch(t *testing.T) {
	src := &staticConfig{workflows: []types.Workflow{
		{
			ID: 1, Priority: 1, Rules: []types.WorkflowRule{
				enabledRule(1, 1, 100, cond(1, 1, "status", types.OpEquals, "Closed")),
			},
		},
	}}
	r := NewResolver(src, discardLogger())

	_, err := r.Resolve(context.Background(), "Lead", MapSnapshot{"status": "Open"})
	if !IsNoMatch(err) {
		t.Errorf("Resolve() error = %v, want ErrNoMatch", err)
	}
}

func TestResolveConfigSourceError(t *testing.T) {
	wantErr := errors.New("connection refused")
	r := NewResolver(&staticConfig{err: wantErr}, discardLogger())

	_, err := r.Resolve(context.Background(), "Lead", MapSnapshot{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Resolve() error = %v, want %v", err, wantErr)
	}
	if IsNoMatch(err) {
		t.Errorf("config source failure must not masquerade as NoMatch")
	}
}

func TestResolveDeterministic(t *testing.T) {
	// Same configuration and snapshot must resolve identically every time.
	src := &staticConfig{workflows: []types.Workflow{
		{ID: 2, Priority: 1, Rules: []types.WorkflowRule{enabledRule(21, 1, 210)}},
		{ID: 1, Priority: 1, Rules: []types.WorkflowRule{enabledRule(11, 1, 110)}},
	}}
	r := NewResolver(src, discardLogger())

	for i := 0; i < 10; i++ {
		match, err := r.Resolve(context.Background(), "Lead", MapSnapshot{})
		if err != nil {
			t.Fatalf("Resolve() unexpected error = %v", err)
		}
		if match.Workflow.ID != 1 || match.Rule.ID != 11 {
			t.Fatalf("Resolve() iteration %d chose workflow %d rule %d, want 1/11",
				i, match.Workflow.ID, match.Rule.ID)
		}
	}
}
