package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opensource-decisions/kestrel/internal/bus"
	"github.com/opensource-decisions/kestrel/internal/cache"
	"github.com/opensource-decisions/kestrel/internal/dmn"
	"github.com/opensource-decisions/kestrel/internal/domain"
	"github.com/opensource-decisions/kestrel/internal/outcome"
	"github.com/opensource-decisions/kestrel/internal/repository"
	"github.com/opensource-decisions/kestrel/internal/rules"
	"github.com/opensource-decisions/kestrel/internal/stats"
)

const approvalXML = `<?xml version="1.0" encoding="UTF-8"?>
<definitions xmlns="https://www.omg.org/spec/DMN/20191111/MODEL/" id="defs" name="approval">
  <decision id="approval" name="Approval">
    <decisionTable id="dt" hitPolicy="UNIQUE">
      <input id="i1" label="Score" inputVariable="score">
        <inputExpression typeRef="number"><text>score</text></inputExpression>
      </input>
      <output id="o1" label="Decision" name="decision" typeRef="string"/>
      <rule id="r1">
        <inputEntry><text>&gt;= 700</text></inputEntry>
        <outputEntry><text>"APPROVED"</text></outputEntry>
      </rule>
      <rule id="r2">
        <inputEntry><text>&lt; 700</text></inputEntry>
        <outputEntry><text>"DECLINED"</text></outputEntry>
      </rule>
    </decisionTable>
  </decision>
</definitions>`

// createTestServer wires a full community-tier stack on a temp sqlite file.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpFile.Name(),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create repository: %v", err)
	}

	eventBus := bus.NewChannelBus(100)

	t.Cleanup(func() {
		eventBus.Close()
		repo.Close()
		os.Remove(tmpFile.Name())
	})

	lru := cache.NewLRUCache(100)
	engine := rules.NewEngine()
	executor := dmn.NewExecutor(engine)
	processor := outcome.NewProcessor()
	statsSvc := stats.NewService(repo, lru)

	return NewServer(cfg, repo, lru, eventBus, engine, executor, processor, statsSvc, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t)

	inlineRules := []*domain.RuleConfig{
		{
			ID:           "high-amount",
			Expression:   "amount > 100.0",
			Priority:     1,
			Points:       10,
			Weight:       1,
			ActionResult: "H",
			Enabled:      true,
		},
	}

	t.Run("InlineRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			Rules:   inlineRules,
			Record:  domain.Record{"amount": 250.0},
			Actions: map[string]string{"H": "review"},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.EvaluationID == "" {
			t.Error("expected evaluationId in response")
		}
		if resp.Status != domain.StatusMatch {
			t.Errorf("expected status MATCH, got %s", resp.Status)
		}
		if resp.Pattern != "H" {
			t.Errorf("expected pattern 'H', got '%s'", resp.Pattern)
		}
		if resp.TotalPoints != 10 {
			t.Errorf("expected 10 points, got %.1f", resp.TotalPoints)
		}
		if resp.Recommendation == nil || *resp.Recommendation != "review" {
			t.Errorf("expected recommendation 'review', got %v", resp.Recommendation)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
		if resp.Metadata.EngineVersion == "" {
			t.Error("expected engineVersion in metadata")
		}
	})

	t.Run("InlineConditionRule", func(t *testing.T) {
		// Raw body: the rule carries only the condition triple, and no
		// enabled flag. It must translate and evaluate.
		rr := doJSON(t, server, http.MethodPost, "/evaluate", map[string]any{
			"record": map[string]any{"issue": 35},
			"rules": []map[string]any{{
				"id":           "aging",
				"condition":    map[string]any{"attribute": "issue", "operator": "greater_than", "constant": "30"},
				"points":       10,
				"weight":       1,
				"actionResult": "Y",
			}},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Status != domain.StatusMatch {
			t.Errorf("expected status MATCH, got %s", resp.Status)
		}
		if resp.Pattern != "Y" {
			t.Errorf("expected pattern 'Y', got '%s'", resp.Pattern)
		}
		if resp.TotalPoints != 10 {
			t.Errorf("expected 10 points, got %.1f", resp.TotalPoints)
		}
	})

	t.Run("DisabledRuleContributesNothing", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", map[string]any{
			"record": map[string]any{"amount": 250},
			"rules": []map[string]any{
				{
					"id":           "off",
					"expression":   "amount > 100.0",
					"points":       10,
					"weight":       1,
					"actionResult": "H",
					"enabled":      false,
				},
				{
					"id":           "on",
					"expression":   "amount > 200.0",
					"points":       5,
					"weight":       1,
					"actionResult": "X",
				},
			},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Pattern != "X" {
			t.Errorf("disabled rule must leave no pattern segment, got '%s'", resp.Pattern)
		}
		if resp.TotalPoints != 5 {
			t.Errorf("expected 5 points, got %.1f", resp.TotalPoints)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			Rules:  inlineRules,
			Record: domain.Record{"amount": 10.0},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != domain.StatusNoMatch {
			t.Errorf("expected status NO_MATCH, got %s", resp.Status)
		}
		if resp.Pattern != domain.NoMatchSentinel {
			t.Errorf("expected pattern '-', got '%s'", resp.Pattern)
		}
	})

	t.Run("StoredRuleSet", func(t *testing.T) {
		create := doJSON(t, server, http.MethodPost, "/rulesets", domain.RuleSet{
			ID:    "rs-api",
			Name:  "API Rules",
			Rules: inlineRules,
		})
		if create.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", create.Code, create.Body.String())
		}

		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			RuleSetID: "rs-api",
			Record:    domain.Record{"amount": 250.0},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Pattern != "H" {
			t.Errorf("expected pattern 'H', got '%s'", resp.Pattern)
		}
	})

	t.Run("UnknownRuleSet", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			RuleSetID: "no-such-ruleset",
			Record:    domain.Record{"amount": 1.0},
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingRecord", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			Rules: inlineRules,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NoRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			Record: domain.Record{"amount": 1.0},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			Rules:  inlineRules,
			Record: domain.Record{"amount": 250.0},
		})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestEvaluateDMNEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("InlineXML", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/dmn", EvaluateDMNRequest{
			XML:    approvalXML,
			Record: domain.Record{"score": 720.0},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Status != domain.StatusMatch {
			t.Errorf("expected status MATCH, got %s", resp.Status)
		}
		if resp.DecisionOutputs["decision"] != "APPROVED" {
			t.Errorf("expected decision 'APPROVED', got %v", resp.DecisionOutputs["decision"])
		}
		if resp.Metadata.Decisions != 1 {
			t.Errorf("expected 1 decision, got %d", resp.Metadata.Decisions)
		}
	})

	t.Run("StoredModel", func(t *testing.T) {
		create := doJSON(t, server, http.MethodPost, "/models", CreateModelRequest{
			ID:   "model-approval",
			Name: "approval",
			XML:  approvalXML,
		})
		if create.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", create.Code, create.Body.String())
		}

		rr := doJSON(t, server, http.MethodPost, "/evaluate/dmn", EvaluateDMNRequest{
			ModelID: "model-approval",
			Record:  domain.Record{"score": 500.0},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.DecisionOutputs["decision"] != "DECLINED" {
			t.Errorf("expected decision 'DECLINED', got %v", resp.DecisionOutputs["decision"])
		}
	})

	t.Run("MultipleSources", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/dmn", EvaluateDMNRequest{
			XML:     approvalXML,
			ModelID: "model-approval",
			Record:  domain.Record{"score": 500.0},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NoSource", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/dmn", EvaluateDMNRequest{
			Record: domain.Record{"score": 500.0},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidXML", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/dmn", EvaluateDMNRequest{
			XML:    "<definitions><broken",
			Record: domain.Record{"score": 500.0},
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("MissingRecord", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/dmn", EvaluateDMNRequest{
			XML: approvalXML,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestBatchEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Accepted", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/batch", BatchRequest{
			RuleSetID: "rs-batch",
			Records:   []domain.Record{{"amount": 1.0}},
		})

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["requestId"] == "" {
			t.Error("expected requestId in response")
		}
	})

	t.Run("BothSources", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/batch", BatchRequest{
			RuleSetID: "rs-batch",
			ModelID:   "model-001",
			Records:   []domain.Record{{"amount": 1.0}},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NeitherSource", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/batch", BatchRequest{
			Records: []domain.Record{{"amount": 1.0}},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NoRecords", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate/batch", BatchRequest{
			RuleSetID: "rs-batch",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRuleSetEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateAndGet", func(t *testing.T) {
		create := doJSON(t, server, http.MethodPost, "/rulesets", domain.RuleSet{
			ID:   "rs-crud",
			Name: "CRUD Rules",
			Rules: []*domain.RuleConfig{
				{ID: "r1", Expression: "x > 1", ActionResult: "A", Weight: 1, Enabled: true},
			},
		})
		if create.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", create.Code, create.Body.String())
		}

		rr := doJSON(t, server, http.MethodGet, "/rulesets/rs-crud", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rs domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &rs)
		if rs.Version != "1.0.0" {
			t.Errorf("expected default version 1.0.0, got %s", rs.Version)
		}
	})

	t.Run("LegacyConditionTranslated", func(t *testing.T) {
		create := doJSON(t, server, http.MethodPost, "/rulesets", domain.RuleSet{
			ID:   "rs-legacy",
			Name: "Legacy Rules",
			Rules: []*domain.RuleConfig{
				{
					ID:           "legacy-1",
					ActionResult: "L",
					Weight:       1,
					Enabled:      true,
					Condition: &domain.ConditionDefinition{
						Attribute: "amount",
						Operator:  domain.OpGreaterThan,
						Constant:  "100",
					},
				},
			},
		})
		if create.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", create.Code, create.Body.String())
		}

		rr := doJSON(t, server, http.MethodGet, "/rulesets/rs-legacy", nil)
		var rs domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &rs)
		if rs.Rules[0].Expression == "" {
			t.Error("expected legacy condition to be translated to an expression")
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets", domain.RuleSet{
			ID:   "rs-bad",
			Name: "Bad Rules",
			Rules: []*domain.RuleConfig{
				{ID: "r1", Expression: "x >>>> 1", Weight: 1, Enabled: true},
			},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets", domain.RuleSet{
			Name:  "No ID",
			Rules: []*domain.RuleConfig{{ID: "r1", Expression: "x > 1"}},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rulesets", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count < 2 {
			t.Errorf("expected at least 2 rulesets, got %d", resp.Count)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			RuleSets int      `json:"rulesets"`
			Rules    int      `json:"rules"`
			Invalid  []string `json:"invalid"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.RuleSets < 2 {
			t.Errorf("expected at least 2 rulesets revalidated, got %d", resp.RuleSets)
		}
		if len(resp.Invalid) != 0 {
			t.Errorf("expected no invalid rules, got %v", resp.Invalid)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rulesets/no-such", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestPatternEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("PutAndGet", func(t *testing.T) {
		put := doJSON(t, server, http.MethodPut, "/patterns", map[string]string{
			"H-": "review",
			"HE": "escalate",
		})
		if put.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", put.Code, put.Body.String())
		}

		rr := doJSON(t, server, http.MethodGet, "/patterns", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Patterns map[string]string `json:"patterns"`
			Count    int               `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 patterns, got %d", resp.Count)
		}
		if resp.Patterns["HE"] != "escalate" {
			t.Errorf("expected 'escalate' for HE, got '%s'", resp.Patterns["HE"])
		}
	})

	t.Run("EmptyBody", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/patterns", map[string]string{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateGetDelete", func(t *testing.T) {
		create := doJSON(t, server, http.MethodPost, "/models", CreateModelRequest{
			ID:  "model-crud",
			XML: approvalXML,
		})
		if create.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", create.Code, create.Body.String())
		}

		var created struct {
			Model     domain.DecisionModel `json:"model"`
			Decisions int                  `json:"decisions"`
		}
		json.Unmarshal(create.Body.Bytes(), &created)
		if created.Decisions != 1 {
			t.Errorf("expected 1 decision, got %d", created.Decisions)
		}
		if created.Model.Checksum == "" {
			t.Error("expected checksum to be computed")
		}
		if created.Model.Name != "Approval" {
			t.Errorf("expected name from first decision, got '%s'", created.Model.Name)
		}

		get := doJSON(t, server, http.MethodGet, "/models/model-crud", nil)
		if get.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", get.Code)
		}

		list := doJSON(t, server, http.MethodGet, "/models", nil)
		var listResp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(list.Body.Bytes(), &listResp)
		if listResp.Count != 1 {
			t.Errorf("expected 1 model, got %d", listResp.Count)
		}

		del := doJSON(t, server, http.MethodDelete, "/models/model-crud", nil)
		if del.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", del.Code)
		}

		after := doJSON(t, server, http.MethodGet, "/models/model-crud", nil)
		if after.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", after.Code)
		}
	})

	t.Run("InvalidXMLRejected", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/models", CreateModelRequest{
			XML: "<definitions><broken",
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("MissingXML", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/models", CreateModelRequest{
			Name: "empty",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	server := createTestServer(t)

	// Record one evaluation first
	doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
		Rules: []*domain.RuleConfig{
			{ID: "r1", Expression: "x > 1", ActionResult: "A", Weight: 1, Enabled: true},
		},
		Record: domain.Record{"x": 5.0},
	})

	t.Run("DefaultWindow", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var snap stats.Snapshot
		json.Unmarshal(rr.Body.Bytes(), &snap)
		if snap.WindowSecs != 3600 {
			t.Errorf("expected default window 3600, got %d", snap.WindowSecs)
		}
		if snap.Evaluations != 1 {
			t.Errorf("expected 1 evaluation, got %d", snap.Evaluations)
		}
	})

	t.Run("CustomWindow", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/stats?window=60", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var snap stats.Snapshot
		json.Unmarshal(rr.Body.Bytes(), &snap)
		if snap.WindowSecs != 60 {
			t.Errorf("expected window 60, got %d", snap.WindowSecs)
		}
	})

	t.Run("InvalidWindow", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/stats?window=-5", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestEvaluationRetrieval(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
		Rules: []*domain.RuleConfig{
			{ID: "r1", Expression: "x > 1", ActionResult: "A", Weight: 1, Enabled: true},
		},
		Record: domain.Record{"x": 5.0},
	})

	var resp EvaluateResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)

	t.Run("GetByID", func(t *testing.T) {
		get := doJSON(t, server, http.MethodGet, "/evaluations/"+resp.EvaluationID, nil)
		if get.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", get.Code)
		}

		var eval domain.Evaluation
		json.Unmarshal(get.Body.Bytes(), &eval)
		if eval.ID != resp.EvaluationID {
			t.Errorf("expected evaluation %s, got %s", resp.EvaluationID, eval.ID)
		}
		if eval.Pattern != "A" {
			t.Errorf("expected pattern 'A', got '%s'", eval.Pattern)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		get := doJSON(t, server, http.MethodGet, "/evaluations/no-such-id", nil)
		if get.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", get.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
