package service

import (
	"context"

	"github.com/fieldline/be-sales-conversions/internal/repository"
)

// DeductionRuleCatalog is the administrative read surface over the deduction
// schedule, as opposed to DeductionRuleSource's calculation snapshot.
type DeductionRuleCatalog interface {
	List(ctx context.Context, activeOnly bool) ([]*repository.DeductionRule, error)
	GetByID(ctx context.Context, id string) (*repository.DeductionRule, error)
}

// RulesService serves deduction schedule reads for dashboards. The schedule
// is maintained out of band; this service never mutates it.
type RulesService struct {
	catalog DeductionRuleCatalog
}

// NewRulesService creates a new rules service.
func NewRulesService(catalog DeductionRuleCatalog) *RulesService {
	return &RulesService{catalog: catalog}
}

// List returns the deduction schedule in applied order.
func (s *RulesService) List(ctx context.Context, activeOnly bool) ([]*repository.DeductionRule, error) {
	return s.catalog.List(ctx, activeOnly)
}

// Get returns one deduction rule.
func (s *RulesService) Get(ctx context.Context, id string) (*repository.DeductionRule, error) {
	return s.catalog.GetByID(ctx, id)
}
