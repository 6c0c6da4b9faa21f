// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-decisions/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleSet stores a rule set with tenant isolation.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, tenantID string, rs *domain.RuleSet) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_sets (
			id, tenant_id, name, description, version, rules, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rules = excluded.rules,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, tenantID, rs.Name, rs.Description, rs.Version,
		string(rulesJSON), boolToInt(rs.Enabled), now, now,
	)
	return err
}

// GetRuleSet retrieves the latest enabled version of a rule set.
func (r *SQLRepository) GetRuleSet(ctx context.Context, tenantID string, rulesetID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, rules, enabled
		FROM rule_sets
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rs domain.RuleSet
	var rulesJSON string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, rulesetID).Scan(
		&rs.ID, &rs.TenantID, &rs.Name, &rs.Description, &rs.Version,
		&rulesJSON, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rs.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(rulesJSON), &rs.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules for %s: %w", rs.ID, err)
	}

	return &rs, nil
}

// ListRuleSets retrieves all enabled rule sets for a tenant.
func (r *SQLRepository) ListRuleSets(ctx context.Context, tenantID string) ([]*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, rules, enabled
		FROM rule_sets
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.RuleSet
	for rows.Next() {
		var rs domain.RuleSet
		var rulesJSON string
		var enabled int

		if err := rows.Scan(
			&rs.ID, &rs.TenantID, &rs.Name, &rs.Description, &rs.Version,
			&rulesJSON, &enabled,
		); err != nil {
			return nil, err
		}

		rs.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(rulesJSON), &rs.Rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules for %s: %w", rs.ID, err)
		}
		sets = append(sets, &rs)
	}

	return sets, rows.Err()
}

// SaveActionPattern stores one pattern -> recommendation entry.
func (r *SQLRepository) SaveActionPattern(ctx context.Context, tenantID string, pattern, recommendation string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO action_patterns (tenant_id, pattern, recommendation, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, pattern) DO UPDATE SET
			recommendation = excluded.recommendation,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, pattern, recommendation, time.Now().UTC())
	return err
}

// GetActionTable retrieves a tenant's full pattern table.
func (r *SQLRepository) GetActionTable(ctx context.Context, tenantID string) (domain.ActionTable, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT pattern, recommendation FROM action_patterns WHERE tenant_id = ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(domain.ActionTable)
	for rows.Next() {
		var pattern, recommendation string
		if err := rows.Scan(&pattern, &recommendation); err != nil {
			return nil, err
		}
		table[pattern] = recommendation
	}

	return table, rows.Err()
}

// SaveDecisionModel stores a DMN document with tenant isolation.
func (r *SQLRepository) SaveDecisionModel(ctx context.Context, tenantID string, model *domain.DecisionModel) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO decision_models (
			id, tenant_id, name, version, xml, checksum, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			xml = excluded.xml,
			checksum = excluded.checksum,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		model.ID, tenantID, model.Name, model.Version,
		model.XML, model.Checksum, boolToInt(model.Enabled), now, now,
	)
	return err
}

// GetDecisionModel retrieves the latest enabled version of a decision model.
func (r *SQLRepository) GetDecisionModel(ctx context.Context, tenantID string, modelID string) (*domain.DecisionModel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, version, xml, checksum, enabled
		FROM decision_models
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var m domain.DecisionModel
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, modelID).Scan(
		&m.ID, &m.TenantID, &m.Name, &m.Version, &m.XML, &m.Checksum, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Enabled = enabled == 1
	return &m, nil
}

// ListDecisionModels retrieves all enabled decision models for a tenant.
// The XML body is omitted from listings.
func (r *SQLRepository) ListDecisionModels(ctx context.Context, tenantID string) ([]*domain.DecisionModel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, version, checksum, enabled
		FROM decision_models
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*domain.DecisionModel
	for rows.Next() {
		var m domain.DecisionModel
		var enabled int
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Version, &m.Checksum, &enabled); err != nil {
			return nil, err
		}
		m.Enabled = enabled == 1
		models = append(models, &m)
	}

	return models, rows.Err()
}

// DeleteDecisionModel soft-deletes a model by setting enabled = 0.
func (r *SQLRepository) DeleteDecisionModel(ctx context.Context, tenantID string, modelID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE decision_models
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, modelID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	outputs, _ := json.Marshal(eval.DecisionOutputs)
	metadata, _ := json.Marshal(eval.Metadata)

	var trace []byte
	if eval.Trace != nil {
		trace, _ = json.Marshal(eval.Trace)
	}

	var recommendation sql.NullString
	if eval.Recommendation != nil {
		recommendation = sql.NullString{String: *eval.Recommendation, Valid: true}
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, request_id, kind, status, total_points, pattern,
			recommendation, decision_outputs, trace, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.RequestID, eval.Kind, eval.Status,
		eval.TotalPoints, eval.Pattern, recommendation,
		string(outputs), string(trace), string(metadata), eval.Timestamp,
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request_id, kind, status, total_points, pattern,
			   recommendation, decision_outputs, trace, metadata, timestamp
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var eval domain.Evaluation
	var recommendation sql.NullString
	var outputs, trace, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&eval.ID, &eval.TenantID, &eval.RequestID, &eval.Kind, &eval.Status,
		&eval.TotalPoints, &eval.Pattern, &recommendation,
		&outputs, &trace, &metadata, &eval.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if recommendation.Valid {
		eval.Recommendation = &recommendation.String
	}
	if outputs != "" && outputs != "null" {
		json.Unmarshal([]byte(outputs), &eval.DecisionOutputs)
	}
	if trace != "" && trace != "null" {
		json.Unmarshal([]byte(trace), &eval.Trace)
	}
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// CountEvaluations counts a tenant's evaluations since the given time.
func (r *SQLRepository) CountEvaluations(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM evaluations WHERE tenant_id = ? AND timestamp >= ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
