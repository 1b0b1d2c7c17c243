package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"payroll-bridge/internal/registry"
)

// ErrRuleSetNotFound is returned when no rule set matches the query.
var ErrRuleSetNotFound = errors.New("rule set not found")

// Repository persists versioned rule sets in PostgreSQL. Rule sets are
// immutable once stored: editing creates a new version row, and only one
// version per (source, destination, type) triple is active at a time.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a rule set repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ruleSetRow maps the mapping_rule_sets table; Rules is stored as JSONB.
type ruleSetRow struct {
	ID                string `db:"rule_set_id"`
	SourceSystem      string `db:"source_system"`
	DestinationSystem string `db:"destination_system"`
	MappingType       string `db:"mapping_type"`
	Rules             []byte `db:"rules"`
	Version           int    `db:"version"`
	IsActive          bool   `db:"is_active"`
}

func (r ruleSetRow) toRuleSet() (*RuleSet, error) {
	rs := &RuleSet{
		ID:                r.ID,
		SourceSystem:      r.SourceSystem,
		DestinationSystem: r.DestinationSystem,
		MappingType:       r.MappingType,
		Version:           r.Version,
		IsActive:          r.IsActive,
	}
	if err := json.Unmarshal(r.Rules, &rs.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules for rule set %s: %w", r.ID, err)
	}
	return rs, nil
}

const ruleSetColumns = `rule_set_id, source_system, destination_system, mapping_type, rules, version, is_active`

// Create stores a new rule set as version 1, inactive until activated.
func (r *Repository) Create(ctx context.Context, rs *RuleSet) (string, error) {
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return "", fmt.Errorf("failed to encode rules: %w", err)
	}

	id := rs.ID
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO mapping_rule_sets (
			rule_set_id, source_system, destination_system, mapping_type,
			rules, version, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 1, false, NOW(), NOW())`

	if _, err := r.db.ExecContext(ctx, query,
		id, rs.SourceSystem, rs.DestinationSystem, rs.MappingType, rulesJSON,
	); err != nil {
		return "", fmt.Errorf("failed to insert rule set: %w", err)
	}
	return id, nil
}

// NewVersion stores edited rules as a fresh, inactive version of an
// existing rule set. The prior version row is never touched, preserving
// the immutability invariant for execution records that reference it.
func (r *Repository) NewVersion(ctx context.Context, baseID string, rules Rules) (*RuleSet, error) {
	base, err := r.GetByID(ctx, baseID)
	if err != nil {
		return nil, err
	}

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}

	next := &RuleSet{
		ID:                uuid.New().String(),
		SourceSystem:      base.SourceSystem,
		DestinationSystem: base.DestinationSystem,
		MappingType:       base.MappingType,
		Rules:             rules,
		Version:           base.Version + 1,
	}

	query := `
		INSERT INTO mapping_rule_sets (
			rule_set_id, source_system, destination_system, mapping_type,
			rules, version, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, false, NOW(), NOW())`

	if _, err := r.db.ExecContext(ctx, query,
		next.ID, next.SourceSystem, next.DestinationSystem, next.MappingType,
		rulesJSON, next.Version,
	); err != nil {
		return nil, fmt.Errorf("failed to insert rule set version: %w", err)
	}
	return next, nil
}

// Activate validates the rule set against the registry and, if valid,
// marks it active while deactivating any other version of the same
// (source, destination, type) triple. Validation here is what guarantees
// unknown transformation names are never discovered mid-batch.
func (r *Repository) Activate(ctx context.Context, id string, reg *registry.Registry) error {
	rs, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := Validate(rs, reg); err != nil {
		return fmt.Errorf("activation refused: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deactivate := `
		UPDATE mapping_rule_sets
		SET is_active = false, updated_at = NOW()
		WHERE source_system = $1 AND destination_system = $2 AND mapping_type = $3 AND is_active = true`
	if _, err := tx.ExecContext(ctx, deactivate,
		rs.SourceSystem, rs.DestinationSystem, rs.MappingType,
	); err != nil {
		return fmt.Errorf("failed to deactivate prior versions: %w", err)
	}

	activate := `
		UPDATE mapping_rule_sets
		SET is_active = true, updated_at = NOW()
		WHERE rule_set_id = $1`
	if _, err := tx.ExecContext(ctx, activate, id); err != nil {
		return fmt.Errorf("failed to activate rule set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}
	return nil
}

// GetByID retrieves one rule set version.
func (r *Repository) GetByID(ctx context.Context, id string) (*RuleSet, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM mapping_rule_sets WHERE rule_set_id = $1`

	var row ruleSetRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule set %s: %w", id, ErrRuleSetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule set: %w", err)
	}
	return row.toRuleSet()
}

// GetActive retrieves the single active rule set for a system pair and
// mapping type.
func (r *Repository) GetActive(ctx context.Context, sourceSystem, destinationSystem, mappingType string) (*RuleSet, error) {
	query := `
		SELECT ` + ruleSetColumns + `
		FROM mapping_rule_sets
		WHERE source_system = $1 AND destination_system = $2 AND mapping_type = $3 AND is_active = true
		ORDER BY version DESC
		LIMIT 1`

	var row ruleSetRow
	err := r.db.GetContext(ctx, &row, query, sourceSystem, destinationSystem, mappingType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active rule set for %s -> %s (%s): %w",
			sourceSystem, destinationSystem, mappingType, ErrRuleSetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active rule set: %w", err)
	}
	return row.toRuleSet()
}

// List returns every stored version ordered by system pair and version.
func (r *Repository) List(ctx context.Context) ([]*RuleSet, error) {
	query := `
		SELECT ` + ruleSetColumns + `
		FROM mapping_rule_sets
		ORDER BY source_system, destination_system, mapping_type, version DESC`

	var rows []ruleSetRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}

	ruleSets := make([]*RuleSet, 0, len(rows))
	for _, row := range rows {
		rs, err := row.toRuleSet()
		if err != nil {
			return nil, err
		}
		ruleSets = append(ruleSets, rs)
	}
	return ruleSets, nil
}
