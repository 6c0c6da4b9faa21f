// Package worker provides async batch evaluation for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-decisions/kestrel/internal/dmn"
	"github.com/opensource-decisions/kestrel/internal/domain"
	"github.com/opensource-decisions/kestrel/internal/outcome"
	"github.com/opensource-decisions/kestrel/internal/rules"
	"github.com/opensource-decisions/kestrel/internal/stats"
)

// Worker processes batch evaluation requests from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *rules.Engine
	executor  *dmn.Executor
	processor *outcome.Processor
	stats     *stats.Service

	workerCount int

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// WorkerCount bounds concurrent record evaluations per batch
	WorkerCount int
}

// NewWorker creates a new async batch worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *rules.Engine, executor *dmn.Executor, processor *outcome.Processor, statsSvc *stats.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:         bus,
		repo:        repo,
		engine:      engine,
		executor:    executor,
		processor:   processor,
		stats:       statsSvc,
		workerCount: 4,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing batch requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount > 0 {
		w.workerCount = cfg.WorkerCount
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", w.workerCount,
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicEvaluationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEvaluationRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicEvaluationRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage is the payload for a batch evaluation request.
// Exactly one of RuleSetID and ModelID selects the configuration.
type BatchMessage struct {
	RequestID string          `json:"requestId"`
	TenantID  string          `json:"tenantId"`
	TraceID   string          `json:"traceId,omitempty"`
	RuleSetID string          `json:"rulesetId,omitempty"`
	ModelID   string          `json:"modelId,omitempty"`
	Trace     bool            `json:"trace,omitempty"`
	Records   []domain.Record `json:"records"`
}

// BatchResult is published to the completed topic once all records are done.
type BatchResult struct {
	RequestID     string   `json:"requestId"`
	TenantID      string   `json:"tenantId"`
	Records       int      `json:"records"`
	Matched       int      `json:"matched"`
	Failed        int      `json:"failed"`
	EvaluationIDs []string `json:"evaluationIds"`
	DurationMs    int64    `json:"durationMs"`
}

// processBatch evaluates every record in a batch request.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batch BatchMessage
	if err := msg.Decode(&batch); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if batch.TenantID != "" {
		tenantID = batch.TenantID
	}
	traceID := batch.TraceID
	if traceID == "" {
		traceID = msg.ID
	}
	requestID := batch.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	slog.Debug("processing batch",
		"request_id", requestID,
		"tenant_id", tenantID,
		"records", len(batch.Records),
	)

	// Load configuration once per batch; each record evaluates against the
	// same snapshot even if the ruleset is updated mid-flight.
	var (
		kind      string
		ruleList  []*domain.RuleConfig
		model     *dmn.Model
		parseMs   int64
		decisions int
	)
	switch {
	case batch.RuleSetID != "":
		rs, err := w.repo.GetRuleSet(ctx, tenantID, batch.RuleSetID)
		if err != nil {
			return fmt.Errorf("failed to load ruleset %s: %w", batch.RuleSetID, err)
		}
		kind = domain.KindRuleSet
		ruleList = rs.Rules
	case batch.ModelID != "":
		dm, err := w.repo.GetDecisionModel(ctx, tenantID, batch.ModelID)
		if err != nil {
			return fmt.Errorf("failed to load decision model %s: %w", batch.ModelID, err)
		}
		parseStart := time.Now()
		model, err = dmn.Parse([]byte(dm.XML))
		if err != nil {
			return fmt.Errorf("failed to parse decision model %s: %w", batch.ModelID, err)
		}
		parseMs = time.Since(parseStart).Milliseconds()
		kind = domain.KindDMN
		decisions = len(model.Decisions)
	default:
		return fmt.Errorf("batch request requires rulesetId or modelId")
	}

	actions, err := w.repo.GetActionTable(ctx, tenantID)
	if err != nil {
		slog.Warn("failed to load action table",
			"tenant_id", tenantID,
			"error", err,
		)
		actions = domain.ActionTable{}
	}

	// Fan records out over a bounded pool.
	sem := make(chan struct{}, w.workerCount)
	var mu sync.Mutex
	result := BatchResult{
		RequestID: requestID,
		TenantID:  tenantID,
		Records:   len(batch.Records),
	}

	var wg sync.WaitGroup
	for _, rec := range batch.Records {
		wg.Add(1)
		sem <- struct{}{}
		go func(record domain.Record) {
			defer wg.Done()
			defer func() { <-sem }()

			eval, err := w.evaluateRecord(ctx, evalParams{
				tenantID:  tenantID,
				requestID: requestID,
				traceID:   traceID,
				kind:      kind,
				ruleList:  ruleList,
				model:     model,
				actions:   actions,
				trace:     batch.Trace,
				parseMs:   parseMs,
				decisions: decisions,
				record:    record,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				return
			}
			result.EvaluationIDs = append(result.EvaluationIDs, eval.ID)
			if eval.Status == domain.StatusMatch {
				result.Matched++
			}
		}(rec)
	}
	wg.Wait()

	result.DurationMs = time.Since(start).Milliseconds()

	payload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, payload); err != nil {
		slog.Error("failed to publish batch result",
			"request_id", requestID,
			"error", err,
		)
	}

	slog.Info("batch processed",
		"request_id", requestID,
		"tenant_id", tenantID,
		"records", result.Records,
		"matched", result.Matched,
		"failed", result.Failed,
		"duration_ms", result.DurationMs,
	)

	return nil
}

type evalParams struct {
	tenantID  string
	requestID string
	traceID   string
	kind      string
	ruleList  []*domain.RuleConfig
	model     *dmn.Model
	actions   domain.ActionTable
	trace     bool
	parseMs   int64
	decisions int
	record    domain.Record
}

// evaluateRecord runs one record through the engine and persists the result.
func (w *Worker) evaluateRecord(ctx context.Context, p evalParams) (*domain.Evaluation, error) {
	start := time.Now()

	var (
		rsResult        *domain.RuleSetResult
		decisionOutputs map[string]any
		err             error
	)

	evalStart := time.Now()
	if p.kind == domain.KindDMN {
		var dr *domain.DecisionResult
		dr, err = w.executor.Execute(ctx, p.model, p.record, p.trace)
		if err == nil {
			rsResult = &dr.RuleSetResult
			decisionOutputs = dr.DecisionOutputs
		}
	} else {
		rsResult, err = w.engine.ExecuteRuleSet(ctx, p.ruleList, p.record, rules.ExecOptions{Trace: p.trace})
	}
	evalMs := time.Since(evalStart).Milliseconds()

	if err != nil {
		slog.Error("record evaluation failed",
			"request_id", p.requestID,
			"tenant_id", p.tenantID,
			"error", err,
		)
		return nil, err
	}

	eval := w.processor.Process(ctx, &outcome.Input{
		TenantID:        p.tenantID,
		RequestID:       p.requestID,
		TraceID:         p.traceID,
		Kind:            p.kind,
		Result:          rsResult,
		DecisionOutputs: decisionOutputs,
		Decisions:       p.decisions,
		Actions:         p.actions,
		Trace:           p.trace,
		ParseMs:         p.parseMs,
		EvalMs:          evalMs,
		StartTime:       start,
	})

	if w.repo != nil {
		if err := w.repo.SaveEvaluation(ctx, p.tenantID, eval); err != nil {
			slog.Error("failed to save evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	if w.stats != nil {
		w.stats.RecordEvaluation(ctx, p.tenantID, 3600)
	}

	if eval.Recommendation != nil {
		payload, _ := json.Marshal(eval)
		if err := w.bus.Publish(ctx, p.tenantID, domain.TopicRecommendation, payload); err != nil {
			slog.Error("failed to publish recommendation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	return eval, nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
