package domain

import (
	"context"
	"time"
)

// Repository defines the interface for configuration and result persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Rule set operations
	SaveRuleSet(ctx context.Context, tenantID string, rs *RuleSet) error
	GetRuleSet(ctx context.Context, tenantID string, rulesetID string) (*RuleSet, error)
	ListRuleSets(ctx context.Context, tenantID string) ([]*RuleSet, error)

	// Action pattern table operations
	SaveActionPattern(ctx context.Context, tenantID string, pattern, recommendation string) error
	GetActionTable(ctx context.Context, tenantID string) (ActionTable, error)

	// DMN decision model operations
	SaveDecisionModel(ctx context.Context, tenantID string, model *DecisionModel) error
	GetDecisionModel(ctx context.Context, tenantID string, modelID string) (*DecisionModel, error)
	ListDecisionModels(ctx context.Context, tenantID string) ([]*DecisionModel, error)
	DeleteDecisionModel(ctx context.Context, tenantID string, modelID string) error

	// Evaluation results
	SaveEvaluation(ctx context.Context, tenantID string, eval *Evaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*Evaluation, error)
	CountEvaluations(ctx context.Context, tenantID string, since time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
