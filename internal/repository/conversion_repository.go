package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldline/be-sales-conversions/internal/commission"
	"github.com/fieldline/be-sales-conversions/internal/database"
	"github.com/fieldline/be-sales-conversions/internal/errors"
)

// ConversionRepository handles conversion record persistence. Status changes
// go through the conditional UpdateIfStatus primitive so two concurrent
// transitions on the same record can never both commit.
type ConversionRepository struct {
	db *database.DB
}

// NewConversionRepository creates a new conversion repository.
func NewConversionRepository(db *database.DB) *ConversionRepository {
	return &ConversionRepository{db: db}
}

const conversionColumns = `
	id, lead_id, rep_id,
	revenue_amount, currency, commission_rate,
	deductions_applied, commissionable_amount, commission_amount,
	status,
	submitted_by, submitted_at,
	recommended_by, recommended_at,
	approved_by, approved_at,
	rejected_by, rejected_at,
	rejection_reason, workflow_notes,
	created_at, updated_at`

// Create inserts a new conversion record.
func (r *ConversionRepository) Create(ctx context.Context, rec *ConversionRecord) error {
	deductionsJSON, err := json.Marshal(rec.DeductionsApplied)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal deduction snapshot")
	}

	query := `
		INSERT INTO conversions
		    (id, lead_id, rep_id,
		     revenue_amount, currency, commission_rate,
		     deductions_applied, commissionable_amount, commission_amount,
		     status, submitted_by, submitted_at, workflow_notes)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8, $9,
		        $10::conversion_status, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rec.ID,
		rec.LeadID,
		rec.RepID,
		rec.RevenueAmount,
		rec.Currency,
		rec.CommissionRate,
		deductionsJSON,
		rec.CommissionableAmount,
		rec.CommissionAmount,
		rec.Status,
		rec.SubmittedBy,
		rec.SubmittedAt,
		rec.WorkflowNotes,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create conversion record")
	}
	return nil
}

// GetByID retrieves a conversion record by ID.
func (r *ConversionRepository) GetByID(ctx context.Context, id string) (*ConversionRecord, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE id = $1`

	rec, err := scanConversion(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("conversion", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get conversion record")
	}
	return rec, nil
}

// List retrieves conversion records matching the filter, newest first.
func (r *ConversionRepository) List(ctx context.Context, filter ListFilter) ([]*ConversionRecord, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE 1=1`

	args := []any{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d::conversion_status", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.RepID != nil {
		query += fmt.Sprintf(" AND rep_id = $%d", argCount)
		args = append(args, *filter.RepID)
		argCount++
	}
	if filter.FromDate != nil {
		query += fmt.Sprintf(" AND submitted_at >= $%d", argCount)
		args = append(args, *filter.FromDate)
		argCount++
	}
	if filter.ToDate != nil {
		query += fmt.Sprintf(" AND submitted_at <= $%d", argCount)
		args = append(args, *filter.ToDate)
		argCount++
	}

	query += " ORDER BY submitted_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list conversion records")
	}
	defer rows.Close()

	records := make([]*ConversionRecord, 0)
	for rows.Next() {
		rec, err := scanConversion(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan conversion record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateIfStatus writes the record's mutable fields, but only when its
// status in the store still matches expected. When the precondition has been
// lost to a concurrent transition the update is a no-op and a conflict error
// is returned; the caller should re-read and retry with updated intent.
func (r *ConversionRepository) UpdateIfStatus(ctx context.Context, rec *ConversionRecord, expected ConversionStatus) error {
	deductionsJSON, err := json.Marshal(rec.DeductionsApplied)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal deduction snapshot")
	}

	query := `
		UPDATE conversions
		SET revenue_amount = $3,
		    commission_rate = $4,
		    deductions_applied = $5,
		    commissionable_amount = $6,
		    commission_amount = $7,
		    status = $8::conversion_status,
		    submitted_by = $9,
		    submitted_at = $10,
		    recommended_by = $11,
		    recommended_at = $12,
		    approved_by = $13,
		    approved_at = $14,
		    rejected_by = $15,
		    rejected_at = $16,
		    rejection_reason = $17,
		    workflow_notes = $18,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2::conversion_status
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rec.ID,
		expected,
		rec.RevenueAmount,
		rec.CommissionRate,
		deductionsJSON,
		rec.CommissionableAmount,
		rec.CommissionAmount,
		rec.Status,
		rec.SubmittedBy,
		rec.SubmittedAt,
		rec.RecommendedBy,
		rec.RecommendedAt,
		rec.ApprovedBy,
		rec.ApprovedAt,
		rec.RejectedBy,
		rec.RejectedAt,
		rec.RejectionReason,
		rec.WorkflowNotes,
	).Scan(&rec.UpdatedAt)

	if err == pgx.ErrNoRows {
		// Distinguish a missing record from a lost precondition.
		var current ConversionStatus
		checkErr := r.db.QueryRow(ctx, `SELECT status FROM conversions WHERE id = $1`, rec.ID).Scan(&current)
		if checkErr == pgx.ErrNoRows {
			return errors.NotFound("conversion", rec.ID)
		}
		if checkErr != nil {
			return errors.Wrap(checkErr, errors.ErrCodeInternal, "failed to check conversion status")
		}
		return errors.Newf(errors.ErrCodeConflict,
			"conversion %s is no longer %s (now %s)", rec.ID, expected, current)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update conversion record")
	}
	return nil
}

type conversionScanner interface {
	Scan(dest ...any) error
}

func scanConversion(sc conversionScanner) (*ConversionRecord, error) {
	rec := &ConversionRecord{}
	var deductionsJSON []byte

	err := sc.Scan(
		&rec.ID,
		&rec.LeadID,
		&rec.RepID,
		&rec.RevenueAmount,
		&rec.Currency,
		&rec.CommissionRate,
		&deductionsJSON,
		&rec.CommissionableAmount,
		&rec.CommissionAmount,
		&rec.Status,
		&rec.SubmittedBy,
		&rec.SubmittedAt,
		&rec.RecommendedBy,
		&rec.RecommendedAt,
		&rec.ApprovedBy,
		&rec.ApprovedAt,
		&rec.RejectedBy,
		&rec.RejectedAt,
		&rec.RejectionReason,
		&rec.WorkflowNotes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.DeductionsApplied = make([]commission.AppliedDeduction, 0)
	if len(deductionsJSON) > 0 {
		if err := json.Unmarshal(deductionsJSON, &rec.DeductionsApplied); err != nil {
			return nil, fmt.Errorf("unmarshal deduction snapshot: %w", err)
		}
	}

	return rec, nil
}
