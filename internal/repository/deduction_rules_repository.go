package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fieldline/be-sales-conversions/internal/commission"
	"github.com/fieldline/be-sales-conversions/internal/database"
	"github.com/fieldline/be-sales-conversions/internal/errors"
)

// DeductionRulesRepository reads the organization-wide deduction schedule.
// The workflow only ever reads a snapshot of it, once per calculation.
type DeductionRulesRepository struct {
	db *database.DB
}

// NewDeductionRulesRepository creates a new DeductionRulesRepository.
func NewDeductionRulesRepository(db *database.DB) *DeductionRulesRepository {
	return &DeductionRulesRepository{db: db}
}

// ListActiveRules returns the active deduction rules in declared order,
// ready to hand to the calculator.
func (r *DeductionRulesRepository) ListActiveRules(ctx context.Context) ([]commission.DeductionRule, error) {
	query := `
		SELECT label, percentage
		FROM deduction_rules
		WHERE is_active = TRUE
		ORDER BY position ASC, label ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list deduction rules")
	}
	defer rows.Close()

	rules := make([]commission.DeductionRule, 0)
	for rows.Next() {
		var rule commission.DeductionRule
		if err := rows.Scan(&rule.Label, &rule.Percentage); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan deduction rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// List returns the full schedule for administrative reads.
func (r *DeductionRulesRepository) List(ctx context.Context, activeOnly bool) ([]*DeductionRule, error) {
	query := `
		SELECT id, label, percentage, position, is_active, created_at, updated_at
		FROM deduction_rules
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY position ASC, label ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list deduction rules")
	}
	defer rows.Close()

	rules := make([]*DeductionRule, 0)
	for rows.Next() {
		rule := &DeductionRule{}
		err := rows.Scan(
			&rule.ID,
			&rule.Label,
			&rule.Percentage,
			&rule.Position,
			&rule.IsActive,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan deduction rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetByID retrieves one rule.
func (r *DeductionRulesRepository) GetByID(ctx context.Context, id string) (*DeductionRule, error) {
	query := `
		SELECT id, label, percentage, position, is_active, created_at, updated_at
		FROM deduction_rules
		WHERE id = $1
	`

	rule := &DeductionRule{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rule.ID,
		&rule.Label,
		&rule.Percentage,
		&rule.Position,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("deduction_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get deduction rule")
	}
	return rule, nil
}
