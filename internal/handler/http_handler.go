package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/logger"
	"github.com/fieldline/be-sales-conversions/internal/repository"
	"github.com/fieldline/be-sales-conversions/internal/service"
)

// HTTPHandler handles HTTP requests for the sales conversion API.
type HTTPHandler struct {
	workflow    *service.WorkflowService
	aggregation *service.AggregationService
	rules       *service.RulesService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(workflow *service.WorkflowService, aggregation *service.AggregationService, rules *service.RulesService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		workflow:    workflow,
		aggregation: aggregation,
		rules:       rules,
		log:         log,
	}
}

// actorID reads the authenticated user from the gateway-injected header.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.log.Warn().Err(err).Msg("Failed to encode response body")
		}
	}
}

// writeError maps coded errors onto HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

// CreateConversion handles POST /api/v1/conversions.
func (h *HTTPHandler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	// The actor header is the only trusted identity source, same as every
	// other transition.
	actor := actorID(r)
	if actor == "" {
		h.writeError(w, errors.InvalidInput("actor_id", "X-User-ID header is required"))
		return
	}
	req.RepID = actor

	rec, err := h.workflow.Submit(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

// GetConversion handles GET /api/v1/conversions/get.
func (h *HTTPHandler) GetConversion(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "conversion id is required"))
		return
	}

	rec, err := h.workflow.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// ListConversions handles GET /api/v1/conversions.
func (h *HTTPHandler) ListConversions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	records, err := h.workflow.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if records == nil {
		records = []*repository.ConversionRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversions": records,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})
}

func parseListFilter(r *http.Request) (repository.ListFilter, error) {
	var filter repository.ListFilter

	if status := r.URL.Query().Get("status"); status != "" {
		s := repository.ConversionStatus(status)
		switch s {
		case repository.StatusPending, repository.StatusRecommended,
			repository.StatusApproved, repository.StatusRejected:
			filter.Status = &s
		default:
			return filter, errors.InvalidInput("status", "unknown status filter")
		}
	}
	if repID := r.URL.Query().Get("rep_id"); repID != "" {
		filter.RepID = &repID
	}
	if from := r.URL.Query().Get("from_date"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, errors.InvalidInput("from_date", "from_date must be RFC 3339")
		}
		filter.FromDate = &t
	}
	if to := r.URL.Query().Get("to_date"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, errors.InvalidInput("to_date", "to_date must be RFC 3339")
		}
		filter.ToDate = &t
	}

	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter, nil
}

type transitionRequest struct {
	ID     string  `json:"id"`
	Reason string  `json:"reason,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

func decodeTransition(r *http.Request) (*transitionRequest, error) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.InvalidInput("body", "invalid request body")
	}
	if req.ID == "" {
		return nil, errors.InvalidInput("id", "conversion id is required")
	}
	return &req, nil
}

// RecommendConversion handles POST /api/v1/conversions/recommend.
func (h *HTTPHandler) RecommendConversion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTransition(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.workflow.Recommend(r.Context(), actorID(r), req.ID, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// ApproveConversion handles POST /api/v1/conversions/approve.
func (h *HTTPHandler) ApproveConversion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTransition(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.workflow.Approve(r.Context(), actorID(r), req.ID, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// RejectConversion handles POST /api/v1/conversions/reject.
func (h *HTTPHandler) RejectConversion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTransition(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.workflow.Reject(r.Context(), actorID(r), req.ID, req.Reason, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

type amendRequest struct {
	ID             string          `json:"id"`
	Revenue        decimal.Decimal `json:"revenue"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Notes          *string         `json:"notes,omitempty"`
}

// AmendConversion handles POST /api/v1/conversions/amend.
func (h *HTTPHandler) AmendConversion(w http.ResponseWriter, r *http.Request) {
	var req amendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.ID == "" {
		h.writeError(w, errors.InvalidInput("id", "conversion id is required"))
		return
	}

	rec, err := h.workflow.Amend(r.Context(), actorID(r), req.ID, req.Revenue, req.CommissionRate, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// GetConversionAudit handles GET /api/v1/conversions/audit.
func (h *HTTPHandler) GetConversionAudit(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "conversion id is required"))
		return
	}

	entries, err := h.workflow.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*repository.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversion_id": id,
		"entries":       entries,
	})
}

// ListDeductionRules handles GET /api/v1/deduction-rules.
func (h *HTTPHandler) ListDeductionRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.rules.List(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetDeductionRule handles GET /api/v1/deduction-rules/get.
func (h *HTTPHandler) GetDeductionRule(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "rule id is required"))
		return
	}

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// GetTotals handles GET /api/v1/conversions/totals. The batch is selected by
// the same filters as the list endpoint; only approved records count.
func (h *HTTPHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("currency")
	if target == "" {
		target = "USD"
	}

	filter, err := parseListFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Totals cover the whole match, not a page.
	filter.Limit = 0
	filter.Offset = 0

	records, err := h.workflow.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	totals, err := h.aggregation.Totals(r.Context(), records, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, totals)
}
