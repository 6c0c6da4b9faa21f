package api

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-decisions/kestrel/internal/condition"
	"github.com/opensource-decisions/kestrel/internal/dmn"
	"github.com/opensource-decisions/kestrel/internal/domain"
	"github.com/opensource-decisions/kestrel/internal/outcome"
	"github.com/opensource-decisions/kestrel/internal/rules"
	"github.com/opensource-decisions/kestrel/internal/stats"
	"github.com/opensource-decisions/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	executor  *dmn.Executor
	processor *outcome.Processor
	stats     *stats.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, executor *dmn.Executor, processor *outcome.Processor, statsSvc *stats.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		executor:  executor,
		processor: processor,
		stats:     statsSvc,
		version:   version,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
// Rules come from a stored ruleset, inline definitions, or both.
type EvaluateRequest struct {
	RuleSetID string               `json:"rulesetId,omitempty"`
	Rules     []*domain.RuleConfig `json:"rules,omitempty"`
	Record    domain.Record        `json:"record"`
	Actions   map[string]string    `json:"actions,omitempty"`
	Trace     bool                 `json:"trace,omitempty"`
}

// EvaluateResponse is the response for the synchronous evaluate endpoints.
type EvaluateResponse struct {
	EvaluationID    string                   `json:"evaluationId"`
	Status          string                   `json:"status"`
	TotalPoints     float64                  `json:"totalPoints"`
	Pattern         string                   `json:"pattern"`
	Recommendation  *string                  `json:"recommendation,omitempty"`
	DecisionOutputs map[string]any           `json:"decisionOutputs,omitempty"`
	Trace           *domain.RuleSetResult    `json:"trace,omitempty"`
	Metadata        domain.EvaluationMetadata `json:"metadata"`
}

// Evaluate handles POST /evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	requestID := GetRequestID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Record == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record is required",
		})
		return
	}

	ruleList := req.Rules
	if req.RuleSetID != "" {
		if h.repo == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "repository not available",
			})
			return
		}
		rs, err := h.repo.GetRuleSet(ctx, tenantID, req.RuleSetID)
		if err != nil {
			slog.Error("failed to load ruleset", "id", req.RuleSetID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "ruleset not found",
			})
			return
		}
		ruleList = append(rs.Rules, ruleList...)
	}
	if len(ruleList) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rulesetId or rules is required",
		})
		return
	}

	evalStart := time.Now()
	result, err := h.engine.ExecuteRuleSet(ctx, ruleList, req.Record, rules.ExecOptions{Trace: req.Trace})
	if err != nil {
		writeError(w, err)
		return
	}
	evalMs := time.Since(evalStart).Milliseconds()

	eval := h.processor.Process(ctx, &outcome.Input{
		TenantID:  tenantID,
		RequestID: requestID,
		TraceID:   traceID,
		Kind:      domain.KindRuleSet,
		Result:    result,
		Actions:   h.actionTable(r, req.Actions),
		Trace:     req.Trace,
		EvalMs:    evalMs,
		StartTime: start,
	})

	h.saveAndRespond(w, r, eval)
}

// EvaluateDMNRequest is the request body for POST /evaluate/dmn. Exactly one
// of XML, Path, and ModelID selects the model source.
type EvaluateDMNRequest struct {
	XML     string            `json:"xml,omitempty"`
	Path    string            `json:"path,omitempty"`
	ModelID string            `json:"modelId,omitempty"`
	Record  domain.Record     `json:"record"`
	Actions map[string]string `json:"actions,omitempty"`
	Trace   bool              `json:"trace,omitempty"`
}

// EvaluateDMN handles POST /evaluate/dmn.
func (h *Handler) EvaluateDMN(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	requestID := GetRequestID(ctx)

	var req EvaluateDMNRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Record == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record is required",
		})
		return
	}

	sources := 0
	for _, s := range []string{req.XML, req.Path, req.ModelID} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		writeError(w, domain.ValidationErr("model_source", "xml|path|modelId", fmt.Errorf("exactly one model source is required, got %d", sources)))
		return
	}

	parseStart := time.Now()
	var (
		model *dmn.Model
		err   error
	)
	switch {
	case req.XML != "":
		model, err = dmn.Parse([]byte(req.XML))
	case req.Path != "":
		model, err = dmn.ParseFile(req.Path)
	default:
		var dm *domain.DecisionModel
		dm, err = h.loadModel(ctx, tenantID, req.ModelID)
		if err == nil {
			model, err = dmn.Parse([]byte(dm.XML))
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	parseMs := time.Since(parseStart).Milliseconds()

	evalStart := time.Now()
	result, err := h.executor.Execute(ctx, model, req.Record, req.Trace)
	if err != nil {
		writeError(w, err)
		return
	}
	evalMs := time.Since(evalStart).Milliseconds()

	eval := h.processor.Process(ctx, &outcome.Input{
		TenantID:        tenantID,
		RequestID:       requestID,
		TraceID:         traceID,
		Kind:            domain.KindDMN,
		Result:          &result.RuleSetResult,
		DecisionOutputs: result.DecisionOutputs,
		Decisions:       len(result.Order),
		Actions:         h.actionTable(r, req.Actions),
		Trace:           req.Trace,
		ParseMs:         parseMs,
		EvalMs:          evalMs,
		StartTime:       start,
	})

	h.saveAndRespond(w, r, eval)
}

// BatchRequest is the request body for POST /evaluate/batch.
type BatchRequest struct {
	RuleSetID string          `json:"rulesetId,omitempty"`
	ModelID   string          `json:"modelId,omitempty"`
	Records   []domain.Record `json:"records"`
	Trace     bool            `json:"trace,omitempty"`
}

// EvaluateBatch handles POST /evaluate/batch by handing the records to the
// async worker via the event bus.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	requestID := GetRequestID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "records is required",
		})
		return
	}
	if (req.RuleSetID == "") == (req.ModelID == "") {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "exactly one of rulesetId and modelId is required",
		})
		return
	}

	if requestID == "" {
		requestID = uuid.New().String()
	}

	payload, _ := json.Marshal(worker.BatchMessage{
		RequestID: requestID,
		TenantID:  tenantID,
		TraceID:   traceID,
		RuleSetID: req.RuleSetID,
		ModelID:   req.ModelID,
		Trace:     req.Trace,
		Records:   req.Records,
	})

	if err := h.bus.Publish(ctx, tenantID, domain.TopicEvaluationRequested, payload); err != nil {
		slog.Error("failed to publish batch request", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue batch",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"requestId": requestID,
		"records":   len(req.Records),
		"topic":     domain.TopicEvaluationCompleted,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListRuleSets returns all rulesets for the tenant.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	sets, err := h.repo.ListRuleSets(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rulesets", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rulesets",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rulesets": sets,
		"count":    len(sets),
	})
}

// GetRuleSet retrieves a ruleset by ID.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rulesetID := chi.URLParam(r, "id")

	rs, err := h.repo.GetRuleSet(ctx, tenantID, rulesetID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "ruleset not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rs)
}

// CreateRuleSet creates a new ruleset after validating every expression.
func (h *Handler) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rs domain.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rs.ID == "" || len(rs.Rules) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and rules are required",
		})
		return
	}

	for _, rule := range rs.Rules {
		if rule.Expression == "" && rule.Condition != nil {
			// Legacy single-condition rules are translated on write.
			expr, err := h.translateCondition(rule)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("rule %s: %v", rule.ID, err),
				})
				return
			}
			rule.Expression = expr
		}
		if err := h.engine.Validate(rule.Expression); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("rule %s: invalid expression: %v", rule.ID, err),
			})
			return
		}
	}

	rs.TenantID = tenantID
	if rs.Version == "" {
		rs.Version = "1.0.0"
	}

	if err := h.repo.SaveRuleSet(ctx, tenantID, &rs); err != nil {
		slog.Error("failed to save ruleset", "id", rs.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save ruleset",
		})
		return
	}

	slog.Info("ruleset created", "id", rs.ID, "rules", len(rs.Rules))
	writeJSON(w, http.StatusCreated, &rs)
}

// ReloadRuleSets revalidates every stored ruleset against the engine and
// reports any rules whose expressions no longer compile.
func (h *Handler) ReloadRuleSets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	sets, err := h.repo.ListRuleSets(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rulesets", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rulesets",
		})
		return
	}

	var invalid []string
	total := 0
	for _, rs := range sets {
		for _, rule := range rs.Rules {
			total++
			if err := h.engine.Validate(rule.Expression); err != nil {
				invalid = append(invalid, fmt.Sprintf("%s/%s", rs.ID, rule.ID))
			}
		}
	}

	slog.Info("rulesets revalidated", "rulesets", len(sets), "rules", total, "invalid", len(invalid))
	writeJSON(w, http.StatusOK, map[string]any{
		"rulesets": len(sets),
		"rules":    total,
		"invalid":  invalid,
	})
}

// GetPatterns returns the tenant's action pattern table.
func (h *Handler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	table, err := h.repo.GetActionTable(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load action table", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load action table",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": table,
		"count":    len(table),
	})
}

// PutPatterns upserts pattern -> recommendation entries.
func (h *Handler) PutPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var table map[string]string
	if err := json.NewDecoder(r.Body).Decode(&table); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(table) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one pattern is required",
		})
		return
	}

	for pattern, recommendation := range table {
		if err := h.repo.SaveActionPattern(ctx, tenantID, pattern, recommendation); err != nil {
			slog.Error("failed to save action pattern", "pattern", pattern, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save action pattern",
			})
			return
		}
	}

	slog.Info("action patterns updated", "count", len(table))
	writeJSON(w, http.StatusOK, map[string]any{
		"updated": len(table),
	})
}

// ListModels returns all DMN decision models for the tenant.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	models, err := h.repo.ListDecisionModels(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list models", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list models",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

// CreateModelRequest is the request body for POST /models.
type CreateModelRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	XML     string `json:"xml"`
}

// CreateModel stores a DMN decision model after parsing it.
func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.XML == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "xml is required",
		})
		return
	}

	parsed, err := dmn.Parse([]byte(req.XML))
	if err != nil {
		writeError(w, err)
		return
	}

	model := &domain.DecisionModel{
		ID:       req.ID,
		TenantID: tenantID,
		Name:     req.Name,
		Version:  req.Version,
		XML:      req.XML,
		Checksum: fmt.Sprintf("%x", md5.Sum([]byte(req.XML))),
		Enabled:  true,
	}
	if model.ID == "" {
		model.ID = uuid.New().String()
	}
	if model.Version == "" {
		model.Version = "1.0.0"
	}
	if model.Name == "" && len(parsed.Decisions) > 0 {
		model.Name = parsed.Decisions[0].Meta.Name
	}

	if err := h.repo.SaveDecisionModel(ctx, tenantID, model); err != nil {
		slog.Error("failed to save model", "id", model.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save model",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetModel(ctx, tenantID, model.ID, model, 10*time.Minute)
	}

	slog.Info("model created", "id", model.ID, "decisions", len(parsed.Decisions))
	writeJSON(w, http.StatusCreated, map[string]any{
		"model":     model,
		"decisions": len(parsed.Decisions),
	})
}

// GetModel retrieves a DMN decision model by ID.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	modelID := chi.URLParam(r, "id")

	model, err := h.loadModel(ctx, tenantID, modelID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "model not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, model)
}

// DeleteModel soft-deletes a DMN decision model.
func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	modelID := chi.URLParam(r, "id")

	if err := h.repo.DeleteDecisionModel(ctx, tenantID, modelID); err != nil {
		slog.Error("failed to delete model", "id", modelID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "model not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.Delete(ctx, tenantID, "model:"+modelID)
	}

	slog.Info("model deleted", "id", modelID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "model deleted",
	})
}

// GetStats handles GET /stats?window=3600.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	window := 3600
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "window must be a positive integer of seconds",
			})
			return
		}
		window = parsed
	}

	snap, err := h.stats.Snapshot(ctx, tenantID, window)
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// actionTable resolves the pattern table for a request: an inline table wins,
// otherwise the stored tenant table is used.
func (h *Handler) actionTable(r *http.Request, inline map[string]string) domain.ActionTable {
	if len(inline) > 0 {
		return domain.ActionTable(inline)
	}
	if h.repo == nil {
		return domain.ActionTable{}
	}
	table, err := h.repo.GetActionTable(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		slog.Warn("failed to load action table", "error", err)
		return domain.ActionTable{}
	}
	return table
}

// loadModel fetches a decision model, cache first.
func (h *Handler) loadModel(ctx context.Context, tenantID, modelID string) (*domain.DecisionModel, error) {
	if h.cache != nil {
		if model, err := h.cache.GetModel(ctx, tenantID, modelID); err == nil && model != nil {
			return model, nil
		}
	}
	if h.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	model, err := h.repo.GetDecisionModel(ctx, tenantID, modelID)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		_ = h.cache.SetModel(ctx, tenantID, modelID, model, 10*time.Minute)
	}
	return model, nil
}

// translateCondition renders a legacy single-condition rule into an expression.
func (h *Handler) translateCondition(rule *domain.RuleConfig) (string, error) {
	return condition.ToPredicate(*rule.Condition)
}

// saveAndRespond persists the evaluation and writes the response body.
func (h *Handler) saveAndRespond(w http.ResponseWriter, r *http.Request, eval *domain.Evaluation) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo != nil {
		if err := h.repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			slog.Error("failed to save evaluation", "id", eval.ID, "error", err)
		}
	}
	if h.stats != nil {
		h.stats.RecordEvaluation(ctx, tenantID, 3600)
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		EvaluationID:    eval.ID,
		Status:          eval.Status,
		TotalPoints:     eval.TotalPoints,
		Pattern:         eval.Pattern,
		Recommendation:  eval.Recommendation,
		DecisionOutputs: eval.DecisionOutputs,
		Trace:           eval.Trace,
		Metadata:        eval.Metadata,
	})
}

// writeError maps domain error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]string{"error": err.Error()}

	var de *domain.Error
	if errors.As(err, &de) {
		body["kind"] = string(de.Kind)
		body["code"] = de.Code
		switch de.Kind {
		case domain.KindDataValidation:
			status = http.StatusBadRequest
		case domain.KindConfiguration:
			status = http.StatusUnprocessableEntity
		case domain.KindRuleEvaluation:
			status = http.StatusInternalServerError
		}
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
