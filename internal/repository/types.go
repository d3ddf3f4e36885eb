package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline/be-sales-conversions/internal/commission"
)

// ── Domain types for the conversion approval workflow ─────────────────────────

// ConversionStatus is the single authoritative workflow state of a record.
// The audit timestamps are history, never used to infer the current stage.
type ConversionStatus string

const (
	StatusPending     ConversionStatus = "pending"
	StatusRecommended ConversionStatus = "recommended"
	StatusApproved    ConversionStatus = "approved"
	StatusRejected    ConversionStatus = "rejected"
)

// ConversionRecord is one sale-in-review with its monetary fields and full
// workflow audit trail. lead_id and rep_id are immutable after creation;
// commissionable_amount and commission_amount are derived by the calculator
// and never hand-entered. Records are never deleted by the workflow.
type ConversionRecord struct {
	ID     string `json:"id"`
	LeadID string `json:"lead_id"`
	RepID  string `json:"rep_id"`

	RevenueAmount        decimal.Decimal               `json:"revenue_amount"`
	Currency             string                        `json:"currency"`
	CommissionRate       decimal.Decimal               `json:"commission_rate"`
	DeductionsApplied    []commission.AppliedDeduction `json:"deductions_applied"`
	CommissionableAmount decimal.Decimal               `json:"commissionable_amount"`
	CommissionAmount     decimal.Decimal               `json:"commission_amount"`

	Status ConversionStatus `json:"status"`

	SubmittedBy     string     `json:"submitted_by"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	RecommendedBy   *string    `json:"recommended_by,omitempty"`
	RecommendedAt   *time.Time `json:"recommended_at,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	WorkflowNotes   *string    `json:"workflow_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeductionRule is one entry of the organization-wide deduction schedule,
// read-only from the workflow's perspective.
type DeductionRule struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Percentage decimal.Decimal `json:"percentage"`
	Position   int             `json:"position"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AuditEntry is one immutable record in the workflow audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	ConversionID string         `json:"conversion_id"`
	Action       string         `json:"action"` // submitted | recommended | approved | rejected | amended
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ListFilter narrows List queries. Nil fields are not applied.
type ListFilter struct {
	Status   *ConversionStatus
	RepID    *string
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}
