// Package stats provides evaluation throughput statistics.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-decisions/kestrel/internal/domain"
)

// Service reports evaluation counts over time windows.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new stats service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Snapshot summarizes evaluation activity for a tenant.
type Snapshot struct {
	TenantID    string `json:"tenant_id"`
	WindowSecs  int    `json:"window_secs"`
	Evaluations int64  `json:"evaluations"`
	GeneratedAt int64  `json:"generated_at"`
}

// EvaluationCount returns the number of evaluations recorded for a tenant
// within the trailing window.
func (s *Service) EvaluationCount(ctx context.Context, tenantID string, windowSecs int) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	if windowSecs <= 0 {
		windowSecs = 3600
	}

	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	count, err := s.repo.CountEvaluations(ctx, tenantID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count evaluations: %w", err)
	}
	return count, nil
}

// RecordEvaluation bumps the windowed cache counter after an evaluation
// completes and returns the running count. Counter failures are non-fatal;
// the repository remains the source of truth.
func (s *Service) RecordEvaluation(ctx context.Context, tenantID string, windowSecs int) int64 {
	if s.cache == nil || tenantID == "" {
		return 0
	}
	if windowSecs <= 0 {
		windowSecs = 3600
	}
	key := fmt.Sprintf("evals:%d", windowSecs)
	count, err := s.cache.IncrementCounter(ctx, tenantID, key, time.Duration(windowSecs)*time.Second)
	if err != nil {
		return 0
	}
	return count
}

// Snapshot builds a point-in-time summary for the stats endpoint.
func (s *Service) Snapshot(ctx context.Context, tenantID string, windowSecs int) (*Snapshot, error) {
	count, err := s.EvaluationCount(ctx, tenantID, windowSecs)
	if err != nil {
		return nil, err
	}
	if windowSecs <= 0 {
		windowSecs = 3600
	}
	return &Snapshot{
		TenantID:    tenantID,
		WindowSecs:  windowSecs,
		Evaluations: count,
		GeneratedAt: time.Now().Unix(),
	}, nil
}
