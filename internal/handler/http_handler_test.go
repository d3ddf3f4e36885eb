package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/be-sales-conversions/internal/commission"
	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/logger"
	"github.com/fieldline/be-sales-conversions/internal/repository"
	"github.com/fieldline/be-sales-conversions/internal/service"
)

type fakeStore struct {
	records map[string]*repository.ConversionRecord
}

func (f *fakeStore) Create(ctx context.Context, rec *repository.ConversionRecord) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*repository.ConversionRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, errors.NotFound("conversion", id)
	}
	return rec, nil
}

func (f *fakeStore) List(ctx context.Context, filter repository.ListFilter) ([]*repository.ConversionRecord, error) {
	var out []*repository.ConversionRecord
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) UpdateIfStatus(ctx context.Context, rec *repository.ConversionRecord, expected repository.ConversionStatus) error {
	f.records[rec.ID] = rec
	return nil
}

type fakeRules struct{}

func (fakeRules) ListActiveRules(ctx context.Context) ([]commission.DeductionRule, error) {
	return nil, nil
}

type fakeIdentity struct{}

func (fakeIdentity) GetUserRole(ctx context.Context, userID string) (string, error) {
	return "rep", nil
}

type fakeAudit struct {
	entries []*repository.AuditEntry
}

func (f *fakeAudit) Append(ctx context.Context, entry *repository.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) GetByConversionID(ctx context.Context, conversionID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, entry := range f.entries {
		if entry.ConversionID == conversionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	rules []*repository.DeductionRule
}

func (f *fakeCatalog) List(ctx context.Context, activeOnly bool) ([]*repository.DeductionRule, error) {
	return f.rules, nil
}

func (f *fakeCatalog) GetByID(ctx context.Context, id string) (*repository.DeductionRule, error) {
	for _, rule := range f.rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return nil, errors.NotFound("deduction_rule", id)
}

func newTestHandler(catalog *fakeCatalog, audit *fakeAudit) (*HTTPHandler, *fakeStore) {
	store := &fakeStore{records: make(map[string]*repository.ConversionRecord)}
	var auditLog service.AuditLog
	if audit != nil {
		auditLog = audit
	}
	workflow := service.NewWorkflowService(store, fakeRules{}, fakeIdentity{}, auditLog, nil, logger.Nop())
	rules := service.NewRulesService(catalog)
	return NewHTTPHandler(workflow, nil, rules, logger.Nop()), store
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
}

func TestCreateConversion_RequiresActorHeader(t *testing.T) {
	h, store := newTestHandler(&fakeCatalog{}, nil)

	body := `{"rep_id":"rep-1","lead_id":"lead-1","revenue":1000,"commission_rate":10,"currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(body))
	rr := httptest.NewRecorder()

	h.CreateConversion(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code, "body rep_id must not substitute for the actor header")
	var resp map[string]string
	decodeBody(t, rr, &resp)
	assert.Equal(t, string(errors.ErrCodeValidation), resp["code"])
	assert.Empty(t, store.records, "no record may be created without an actor")
}

func TestCreateConversion_ActorHeaderOverridesBody(t *testing.T) {
	h, _ := newTestHandler(&fakeCatalog{}, nil)

	body := `{"rep_id":"spoofed","lead_id":"lead-1","revenue":1000,"commission_rate":10,"currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(body))
	req.Header.Set("X-User-ID", "rep-9")
	rr := httptest.NewRecorder()

	h.CreateConversion(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec repository.ConversionRecord
	decodeBody(t, rr, &rec)
	assert.Equal(t, "rep-9", rec.RepID)
	assert.Equal(t, "rep-9", rec.SubmittedBy)
}

func TestGetConversionAudit(t *testing.T) {
	audit := &fakeAudit{}
	h, store := newTestHandler(&fakeCatalog{}, audit)

	store.records["conv-1"] = &repository.ConversionRecord{ID: "conv-1", Status: repository.StatusPending}
	audit.entries = []*repository.AuditEntry{
		{ID: "a1", ConversionID: "conv-1", Action: "submitted", PerformedBy: "rep-1", PerformedAt: time.Now()},
		{ID: "a2", ConversionID: "conv-1", Action: "recommended", PerformedBy: "manager-1", PerformedAt: time.Now()},
		{ID: "a3", ConversionID: "conv-2", Action: "submitted", PerformedBy: "rep-2", PerformedAt: time.Now()},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversions/audit?id=conv-1", nil)
	rr := httptest.NewRecorder()
	h.GetConversionAudit(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		ConversionID string                   `json:"conversion_id"`
		Entries      []*repository.AuditEntry `json:"entries"`
	}
	decodeBody(t, rr, &resp)
	assert.Equal(t, "conv-1", resp.ConversionID)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "submitted", resp.Entries[0].Action)
	assert.Equal(t, "recommended", resp.Entries[1].Action)
}

func TestGetConversionAudit_UnknownRecord(t *testing.T) {
	h, _ := newTestHandler(&fakeCatalog{}, &fakeAudit{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversions/audit?id=no-such-id", nil)
	rr := httptest.NewRecorder()
	h.GetConversionAudit(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListDeductionRules(t *testing.T) {
	catalog := &fakeCatalog{rules: []*repository.DeductionRule{
		{ID: "r1", Label: "Tax", Position: 1, IsActive: true},
		{ID: "r2", Label: "Admin Fee", Position: 2, IsActive: true},
	}}
	h, _ := newTestHandler(catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deduction-rules", nil)
	rr := httptest.NewRecorder()
	h.ListDeductionRules(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Rules []*repository.DeductionRule `json:"rules"`
	}
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Rules, 2)
	assert.Equal(t, "Tax", resp.Rules[0].Label)
}

func TestGetDeductionRule_NotFound(t *testing.T) {
	h, _ := newTestHandler(&fakeCatalog{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deduction-rules/get?id=missing", nil)
	rr := httptest.NewRecorder()
	h.GetDeductionRule(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
