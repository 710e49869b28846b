// Package httpapi exposes the workflow engine over HTTP: the evaluation
// entry point invoked by entity-mutation collaborators, the read-only
// execution history surface, and the administrative configuration CRUD.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alal76/crm-solution-sub000/internal/engine"
	"github.com/alal76/crm-solution-sub000/internal/store"
	"github.com/alal76/crm-solution-sub000/internal/types"
)

// Evaluator is the engine surface the evaluation endpoint needs.
type Evaluator interface {
	Execute(ctx context.Context, event engine.EntityEvent) (engine.ExecutionResult, error)
}

// Server routes HTTP traffic to the engine and store.
type Server struct {
	store  *store.Store
	engine Evaluator
	authmw func(http.Handler) http.Handler
	log    *slog.Logger
}

// New creates a server. authmw guards every /api route; pass nil only in
// tests.
func New(st *store.Store, eng Evaluator, authmw func(http.Handler) http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, engine: eng, authmw: authmw, log: log}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api/workflow", func(r chi.Router) {
		if s.authmw != nil {
			r.Use(s.authmw)
		}

		r.Post("/evaluations", s.handleEvaluate)

		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)

		r.Get("/workflows", s.handleListWorkflows)
		r.Post("/workflows", s.handleCreateWorkflow)
		r.Route("/workflows/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkflow)
			r.Put("/", s.handleUpdateWorkflow)
			r.Delete("/", s.handleDeleteWorkflow)
			r.Post("/rules", s.handleCreateRule)
		})
		r.Route("/rules/{id}", func(r chi.Router) {
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/conditions", s.handleCreateCondition)
		})
		r.Route("/conditions/{id}", func(r chi.Router) {
			r.Put("/", s.handleUpdateCondition)
			r.Delete("/", s.handleDeleteCondition)
		})
	})

	return r
}

// evaluateRequest is the wire form of one entity-changing event.
type evaluateRequest struct {
	EntityType    string         `json:"entity_type"`
	EntityID      int64          `json:"entity_id"`
	Fields        map[string]any `json:"fields"`
	SourceGroupID int64          `json:"source_group_id"`
}

type evaluateResponse struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status"`
	WorkflowID  *int64 `json:"workflow_id,omitempty"`
	RuleID      *int64 `json:"rule_id,omitempty"`
	GroupID     int64  `json:"group_id"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EntityType == "" || req.EntityID == 0 {
		writeError(w, http.StatusBadRequest, "entity_type and entity_id required")
		return
	}

	result, err := s.engine.Execute(r.Context(), engine.EntityEvent{
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Fields:        engine.MapSnapshot(req.Fields),
		SourceGroupID: req.SourceGroupID,
	})
	resp := evaluateResponse{
		ExecutionID: string(result.ExecutionID),
		Status:      string(result.Status),
		WorkflowID:  result.WorkflowID,
		RuleID:      result.RuleID,
		GroupID:     result.GroupID,
	}
	if err != nil {
		// NoMatch never lands here; a failure of the evaluation must fail
		// the invoking entity update.
		resp.Status = string(types.StatusError)
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   parseInt(q.Get("entity_id")),
		WorkflowID: parseInt(q.Get("workflow_id")),
		Limit:      int(parseInt(q.Get("limit"))),
		Offset:     int(parseInt(q.Get("offset"))),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		filter.To = t
	}

	execs, err := s.store.ListExecutions(r.Context(), filter)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseExecutionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}
	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := parseInt(chi.URLParam(r, "id"))
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

type workflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	EntityType  string `json:"entity_type"`
	Active      bool   `json:"active"`
	Priority    int    `json:"priority"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.EntityType == "" {
		writeError(w, http.StatusBadRequest, "name and entity_type required")
		return
	}
	wf := &types.Workflow{
		Name:        req.Name,
		Description: req.Description,
		EntityType:  req.EntityType,
		Active:      req.Active,
		Priority:    req.Priority,
	}
	if err := s.store.CreateWorkflow(r.Context(), wf); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	wf := &types.Workflow{
		ID:          parseInt(chi.URLParam(r, "id")),
		Name:        req.Name,
		Description: req.Description,
		EntityType:  req.EntityType,
		Active:      req.Active,
		Priority:    req.Priority,
	}
	if err := s.store.UpdateWorkflow(r.Context(), wf); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.Context(), parseInt(chi.URLParam(r, "id"))); err != nil {
		s.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ruleRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetGroupID  int64  `json:"target_group_id"`
	Enabled        bool   `json:"enabled"`
	Priority       int    `json:"priority"`
	ConditionLogic string `json:"condition_logic"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.TargetGroupID == 0 {
		writeError(w, http.StatusBadRequest, "name and target_group_id required")
		return
	}
	if req.ConditionLogic == "" {
		req.ConditionLogic = string(types.LogicAnd)
	}
	rule := &types.WorkflowRule{
		WorkflowID:     parseInt(chi.URLParam(r, "id")),
		Name:           req.Name,
		Description:    req.Description,
		TargetGroupID:  req.TargetGroupID,
		Enabled:        req.Enabled,
		Priority:       req.Priority,
		ConditionLogic: types.ConditionLogic(req.ConditionLogic),
	}
	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule := &types.WorkflowRule{
		ID:             parseInt(chi.URLParam(r, "id")),
		Name:           req.Name,
		Description:    req.Description,
		TargetGroupID:  req.TargetGroupID,
		Enabled:        req.Enabled,
		Priority:       req.Priority,
		ConditionLogic: types.ConditionLogic(req.ConditionLogic),
	}
	if err := s.store.UpdateRule(r.Context(), rule); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRule(r.Context(), parseInt(chi.URLParam(r, "id"))); err != nil {
		s.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conditionRequest struct {
	FieldName string  `json:"field_name"`
	Operator  string  `json:"operator"`
	Value     string  `json:"value"`
	ValueTwo  *string `json:"value_two,omitempty"`
	Priority  int     `json:"priority"`
}

func (s *Server) handleCreateCondition(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FieldName == "" {
		writeError(w, http.StatusBadRequest, "field_name required")
		return
	}
	cond := &types.WorkflowRuleCondition{
		RuleID:    parseInt(chi.URLParam(r, "id")),
		FieldName: req.FieldName,
		Operator:  types.Operator(req.Operator),
		Value:     req.Value,
		ValueTwo:  req.ValueTwo,
		Priority:  req.Priority,
	}
	if err := s.store.CreateCondition(r.Context(), cond); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cond)
}

func (s *Server) handleUpdateCondition(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cond := &types.WorkflowRuleCondition{
		ID:        parseInt(chi.URLParam(r, "id")),
		FieldName: req.FieldName,
		Operator:  types.Operator(req.Operator),
		Value:     req.Value,
		ValueTwo:  req.ValueTwo,
		Priority:  req.Priority,
	}
	if err := s.store.UpdateCondition(r.Context(), cond); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cond)
}

func (s *Server) handleDeleteCondition(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCondition(r.Context(), parseInt(chi.URLParam(r, "id"))); err != nil {
		s.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps store sentinels onto HTTP status codes.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrUnsupportedOperator),
		errors.Is(err, types.ErrInvalidRange),
		errors.Is(err, types.ErrInvalidConditionLogic),
		errors.Is(err, types.ErrEmptyOrRule):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
