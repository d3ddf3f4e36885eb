package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldline/be-sales-conversions/internal/commission"
	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/logger"
	"github.com/fieldline/be-sales-conversions/internal/metrics"
	"github.com/fieldline/be-sales-conversions/internal/repository"
)

// ConversionStore is the persistence contract the workflow engine needs.
// UpdateIfStatus is the atomic conditional-write primitive: the update only
// commits when the stored status still matches expected, otherwise it fails
// with a conflict error and leaves the record unchanged.
type ConversionStore interface {
	Create(ctx context.Context, rec *repository.ConversionRecord) error
	GetByID(ctx context.Context, id string) (*repository.ConversionRecord, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*repository.ConversionRecord, error)
	UpdateIfStatus(ctx context.Context, rec *repository.ConversionRecord, expected repository.ConversionStatus) error
}

// DeductionRuleSource returns the current ordered deduction schedule. It is
// read once per calculation and never mutated by the workflow.
type DeductionRuleSource interface {
	ListActiveRules(ctx context.Context) ([]commission.DeductionRule, error)
}

// RoleProvider resolves a user's role from the identity service.
type RoleProvider interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// AuditLog records and reads workflow transitions. Append failures must be
// non-fatal to the transition itself.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByConversionID(ctx context.Context, conversionID string) ([]*repository.AuditEntry, error)
}

// Notifier publishes workflow events for the notifications service. All
// implementations swallow their own errors.
type Notifier interface {
	PublishConversionEvent(ctx context.Context, eventType, conversionID, actorID string, payload map[string]any)
}

// WorkflowService is the role-gated state machine that moves a conversion
// record between statuses. Every transition is a single conditional update:
// of two concurrent transitions on the same record, exactly one commits.
type WorkflowService struct {
	store    ConversionStore
	rules    DeductionRuleSource
	identity RoleProvider
	audit    AuditLog // optional
	notifier Notifier // optional
	log      *logger.Logger
	now      func() time.Time
}

// NewWorkflowService creates a new workflow service. audit and notifier may
// be nil.
func NewWorkflowService(
	store ConversionStore,
	rules DeductionRuleSource,
	identity RoleProvider,
	audit AuditLog,
	notifier Notifier,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		store:    store,
		rules:    rules,
		identity: identity,
		audit:    audit,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// SubmitRequest carries a rep's raw deal data.
type SubmitRequest struct {
	RepID          string          `json:"rep_id"`
	LeadID         string          `json:"lead_id"`
	Revenue        decimal.Decimal `json:"revenue"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Currency       string          `json:"currency"`
	Notes          *string         `json:"notes,omitempty"`
}

// Submit runs the deduction calculation against a fresh schedule snapshot
// and creates the record in status pending.
func (s *WorkflowService) Submit(ctx context.Context, req *SubmitRequest) (*repository.ConversionRecord, error) {
	rec, err := s.submit(ctx, req)
	s.countTransition("submit", err)
	return rec, err
}

func (s *WorkflowService) submit(ctx context.Context, req *SubmitRequest) (*repository.ConversionRecord, error) {
	if req.RepID == "" {
		return nil, errors.InvalidInput("rep_id", "rep id is required")
	}
	if req.LeadID == "" {
		return nil, errors.InvalidInput("lead_id", "lead id is required")
	}
	currencyCode := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currencyCode) != 3 {
		return nil, errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	}

	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	result, err := commission.Calculate(req.Revenue, req.CommissionRate, rules)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &repository.ConversionRecord{
		ID:                   uuid.NewString(),
		LeadID:               req.LeadID,
		RepID:                req.RepID,
		RevenueAmount:        req.Revenue,
		Currency:             currencyCode,
		CommissionRate:       req.CommissionRate,
		DeductionsApplied:    result.Applied,
		CommissionableAmount: result.Commissionable,
		CommissionAmount:     result.FinalCommission,
		Status:               repository.StatusPending,
		SubmittedBy:          req.RepID,
		SubmittedAt:          now,
		WorkflowNotes:        req.Notes,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("conversion_id", rec.ID).
		Str("lead_id", rec.LeadID).
		Str("rep_id", rec.RepID).
		Str("currency", rec.Currency).
		Str("commission_amount", rec.CommissionAmount.String()).
		Msg("Conversion submitted")

	s.appendAudit(ctx, rec.ID, "submitted", req.RepID, nil, rec.Status, map[string]any{
		"revenue": req.Revenue.String(),
	})
	s.publish(ctx, "conversion_submitted", rec, req.RepID)

	return rec, nil
}

// Recommend moves a pending record to recommended. Requires the recommend
// capability (manager or admin).
func (s *WorkflowService) Recommend(ctx context.Context, actorID, recordID string, notes *string) (*repository.ConversionRecord, error) {
	rec, err := s.recommend(ctx, actorID, recordID, notes)
	s.countTransition("recommend", err)
	return rec, err
}

func (s *WorkflowService) recommend(ctx context.Context, actorID, recordID string, notes *string) (*repository.ConversionRecord, error) {
	role, err := s.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !role.CanRecommend() {
		return nil, errors.Unauthorized("actor cannot recommend conversions")
	}

	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusPending {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"cannot recommend a conversion with status %q", rec.Status)
	}

	now := s.now()
	rec.Status = repository.StatusRecommended
	rec.RecommendedBy = &actorID
	rec.RecommendedAt = &now
	if notes != nil {
		rec.WorkflowNotes = notes
	}

	if err := s.store.UpdateIfStatus(ctx, rec, repository.StatusPending); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("conversion_id", rec.ID).
		Str("recommended_by", actorID).
		Msg("Conversion recommended")

	s.appendAudit(ctx, rec.ID, "recommended", actorID, statusPtr(repository.StatusPending), rec.Status, nil)
	s.publish(ctx, "conversion_recommended", rec, actorID)

	return rec, nil
}

// Approve moves a recommended record to the terminal approved status.
// Requires the approve capability (director or admin).
func (s *WorkflowService) Approve(ctx context.Context, actorID, recordID string, notes *string) (*repository.ConversionRecord, error) {
	rec, err := s.approve(ctx, actorID, recordID, notes)
	s.countTransition("approve", err)
	return rec, err
}

func (s *WorkflowService) approve(ctx context.Context, actorID, recordID string, notes *string) (*repository.ConversionRecord, error) {
	role, err := s.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !role.CanApprove() {
		return nil, errors.Unauthorized("actor cannot approve conversions")
	}

	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusRecommended {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"cannot approve a conversion with status %q", rec.Status)
	}

	now := s.now()
	rec.Status = repository.StatusApproved
	rec.ApprovedBy = &actorID
	rec.ApprovedAt = &now
	if notes != nil {
		rec.WorkflowNotes = notes
	}

	if err := s.store.UpdateIfStatus(ctx, rec, repository.StatusRecommended); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("conversion_id", rec.ID).
		Str("approved_by", actorID).
		Str("commission_amount", rec.CommissionAmount.String()).
		Msg("Conversion approved")

	s.appendAudit(ctx, rec.ID, "approved", actorID, statusPtr(repository.StatusRecommended), rec.Status, nil)
	s.publish(ctx, "conversion_approved", rec, actorID)

	return rec, nil
}

// Reject moves a recommended record — or, as a fast path, a pending one —
// to rejected. Requires the approve capability and a non-empty reason.
func (s *WorkflowService) Reject(ctx context.Context, actorID, recordID, reason string, notes *string) (*repository.ConversionRecord, error) {
	rec, err := s.reject(ctx, actorID, recordID, reason, notes)
	s.countTransition("reject", err)
	return rec, err
}

func (s *WorkflowService) reject(ctx context.Context, actorID, recordID, reason string, notes *string) (*repository.ConversionRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errors.InvalidInput("rejection_reason", "rejection reason is required")
	}

	role, err := s.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !role.CanApprove() {
		return nil, errors.Unauthorized("actor cannot reject conversions")
	}

	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusRecommended && rec.Status != repository.StatusPending {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"cannot reject a conversion with status %q", rec.Status)
	}

	expected := rec.Status
	now := s.now()
	rec.Status = repository.StatusRejected
	rec.RejectedBy = &actorID
	rec.RejectedAt = &now
	rec.RejectionReason = &reason
	if notes != nil {
		rec.WorkflowNotes = notes
	}

	if err := s.store.UpdateIfStatus(ctx, rec, expected); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("conversion_id", rec.ID).
		Str("rejected_by", actorID).
		Str("reason", reason).
		Msg("Conversion rejected")

	s.appendAudit(ctx, rec.ID, "rejected", actorID, statusPtr(expected), rec.Status, map[string]any{
		"reason": reason,
	})
	s.publish(ctx, "conversion_rejected", rec, actorID)

	return rec, nil
}

// Amend corrects a rejected record and restarts the workflow: it re-runs the
// calculator against a fresh schedule snapshot, clears the recommend,
// approve and reject audit fields, refreshes the submission fields and
// resets the status to pending. Allowed for the owning rep and for any
// recommender or approver.
func (s *WorkflowService) Amend(ctx context.Context, actorID, recordID string, newRevenue, newRate decimal.Decimal, notes *string) (*repository.ConversionRecord, error) {
	rec, err := s.amend(ctx, actorID, recordID, newRevenue, newRate, notes)
	s.countTransition("amend", err)
	return rec, err
}

func (s *WorkflowService) amend(ctx context.Context, actorID, recordID string, newRevenue, newRate decimal.Decimal, notes *string) (*repository.ConversionRecord, error) {
	role, err := s.actorRole(ctx, actorID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if actorID != rec.RepID && !role.CanRecommend() && !role.CanApprove() {
		return nil, errors.Unauthorized("only the owning rep or an approver can amend a conversion")
	}
	if rec.Status != repository.StatusRejected {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"cannot amend a conversion with status %q", rec.Status)
	}

	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	result, err := commission.Calculate(newRevenue, newRate, rules)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.RevenueAmount = newRevenue
	rec.CommissionRate = newRate
	rec.DeductionsApplied = result.Applied
	rec.CommissionableAmount = result.Commissionable
	rec.CommissionAmount = result.FinalCommission
	rec.Status = repository.StatusPending
	rec.SubmittedBy = actorID
	rec.SubmittedAt = now
	rec.RecommendedBy = nil
	rec.RecommendedAt = nil
	rec.ApprovedBy = nil
	rec.ApprovedAt = nil
	rec.RejectedBy = nil
	rec.RejectedAt = nil
	rec.RejectionReason = nil
	if notes != nil {
		rec.WorkflowNotes = notes
	}

	if err := s.store.UpdateIfStatus(ctx, rec, repository.StatusRejected); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("conversion_id", rec.ID).
		Str("amended_by", actorID).
		Str("revenue", newRevenue.String()).
		Msg("Conversion amended and resubmitted")

	s.appendAudit(ctx, rec.ID, "amended", actorID, statusPtr(repository.StatusRejected), rec.Status, map[string]any{
		"revenue": newRevenue.String(),
	})
	s.publish(ctx, "conversion_amended", rec, actorID)

	return rec, nil
}

// Get retrieves a single conversion record.
func (s *WorkflowService) Get(ctx context.Context, recordID string) (*repository.ConversionRecord, error) {
	return s.store.GetByID(ctx, recordID)
}

// List retrieves conversion records matching the filter.
func (s *WorkflowService) List(ctx context.Context, filter repository.ListFilter) ([]*repository.ConversionRecord, error) {
	return s.store.List(ctx, filter)
}

// AuditTrail returns the transition history for a conversion, oldest first.
// The record must exist; a missing audit backend yields an empty trail.
func (s *WorkflowService) AuditTrail(ctx context.Context, recordID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetByID(ctx, recordID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []*repository.AuditEntry{}, nil
	}
	return s.audit.GetByConversionID(ctx, recordID)
}

// actorRole resolves and parses the actor's role once per request.
func (s *WorkflowService) actorRole(ctx context.Context, actorID string) (Role, error) {
	if actorID == "" {
		return "", errors.InvalidInput("actor_id", "actor id is required")
	}
	raw, err := s.identity.GetUserRole(ctx, actorID)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeUnauthorized, "could not resolve actor role")
	}
	return ParseRole(raw)
}

// appendAudit writes an audit entry and logs a warning on failure.
func (s *WorkflowService) appendAudit(ctx context.Context, conversionID, action, actorID string, before *string, after repository.ConversionStatus, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	afterStr := string(after)
	entry := &repository.AuditEntry{
		ConversionID: conversionID,
		Action:       action,
		PerformedBy:  actorID,
		StatusBefore: before,
		StatusAfter:  &afterStr,
		Metadata:     metadata,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("conversion_id", conversionID).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func (s *WorkflowService) publish(ctx context.Context, eventType string, rec *repository.ConversionRecord, actorID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishConversionEvent(ctx, eventType, rec.ID, actorID, map[string]any{
		"lead_id":  rec.LeadID,
		"rep_id":   rec.RepID,
		"status":   string(rec.Status),
		"currency": rec.Currency,
	})
}

func (s *WorkflowService) countTransition(action string, err error) {
	outcome := "ok"
	if err != nil {
		switch errors.CodeOf(err) {
		case errors.ErrCodeValidation:
			outcome = "validation"
		case errors.ErrCodeUnauthorized:
			outcome = "unauthorized"
		case errors.ErrCodeConflict:
			outcome = "conflict"
		default:
			outcome = "error"
		}
	}
	metrics.WorkflowTransitions.WithLabelValues(action, outcome).Inc()
}

func statusPtr(s repository.ConversionStatus) *string {
	v := string(s)
	return &v
}
