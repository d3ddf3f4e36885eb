// Package commission implements the deduction and commission calculation.
//
// Deductions are applied sequentially and cumulatively: each rule's amount is
// a percentage of the balance remaining after the prior rules, not of the
// original revenue. The calculation is pure; the applied snapshot it returns
// is persisted with the conversion record so historical commissions stay
// reproducible when the deduction schedule later changes.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/fieldline/be-sales-conversions/internal/errors"
)

var oneHundred = decimal.NewFromInt(100)

// DeductionRule is one entry of the organization's ordered deduction schedule.
type DeductionRule struct {
	Label      string
	Percentage decimal.Decimal // 0-100
}

// AppliedDeduction is a frozen snapshot of one applied rule. Serialized as
// JSON into the conversion record's deductions_applied column.
type AppliedDeduction struct {
	Label      string          `json:"label"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// Result is the output of one calculation.
type Result struct {
	Commissionable  decimal.Decimal
	FinalCommission decimal.Decimal
	Applied         []AppliedDeduction
}

// Calculate applies the ordered deduction rules to revenue and derives the
// commission at rate percent of the commissionable remainder.
//
// Monetary outputs are rounded to 2 decimal places, half up, once per derived
// value; the running balance is carried at full precision so rounding error
// does not compound across rules. Identical inputs always produce identical
// outputs.
func Calculate(revenue, rate decimal.Decimal, rules []DeductionRule) (*Result, error) {
	if revenue.IsNegative() {
		return nil, errors.InvalidInput("revenue", "revenue cannot be negative")
	}
	if rate.IsNegative() || rate.GreaterThan(oneHundred) {
		return nil, errors.InvalidInput("commission_rate", "commission rate must be between 0 and 100")
	}
	for _, rule := range rules {
		if rule.Label == "" {
			return nil, errors.InvalidInput("deductions", "deduction rule label is required")
		}
		if rule.Percentage.IsNegative() || rule.Percentage.GreaterThan(oneHundred) {
			return nil, errors.InvalidInput("deductions", "deduction percentage must be between 0 and 100")
		}
	}

	remaining := revenue
	applied := make([]AppliedDeduction, 0, len(rules))

	for _, rule := range rules {
		amount := remaining.Mul(rule.Percentage).Div(oneHundred)
		applied = append(applied, AppliedDeduction{
			Label:      rule.Label,
			Percentage: rule.Percentage,
			Amount:     amount.Round(2),
		})
		remaining = remaining.Sub(amount)
	}

	// An empty schedule must leave revenue untouched, with no rounding drift.
	commissionable := remaining
	if len(rules) > 0 {
		commissionable = remaining.Round(2)
	}

	finalCommission := commissionable.Mul(rate).Div(oneHundred).Round(2)

	return &Result{
		Commissionable:  commissionable,
		FinalCommission: finalCommission,
		Applied:         applied,
	}, nil
}
