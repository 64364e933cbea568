package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-po-approvals/internal/client"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/middleware"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
	"github.com/pesio-ai/be-po-approvals/internal/repository/memstore"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

var jwtSecret = []byte("handler-test-secret")

const catalogYAML = `
departments:
  - {id: site, name: Site Operations, requires_approval: true, approval_order: 1}
  - {id: purchasing, name: Purchasing, requires_approval: true, approval_order: 2}
  - {id: finance, name: Finance, requires_approval: true, approval_order: 3}
users:
  - {id: eng-site, department: site}
  - {id: head-site, department: site, head: true}
  - {id: head-purchasing, department: purchasing, head: true}
  - {id: head-finance, department: finance, head: true}
  - {id: admin, admin: true}
`

const orderJSON = `{
  "justification": "Formwork plywood for tower B",
  "items": [
    {"name": "Plywood 18mm", "quantity": "40", "unit": "sheet", "unit_price": "512.25"},
    {"name": "Nails", "quantity": 5, "unit": "kg", "unit_price": "38"}
  ]
}`

type stubEvidence struct{}

func (stubEvidence) Upload(_ context.Context, orderID, filename string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("evidence://%s/%s", orderID, filename), nil
}

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()

	store := memstore.New()
	catalog, err := repository.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(context.Background(), store))

	log := logger.Nop()
	builder := service.NewChainBuilder(log)
	defaults := service.OrderDefaults{Currency: "MXN", TaxRate: decimal.RequireFromString("0.16")}
	orders := service.NewOrderService(store, builder, stubEvidence{}, nil, defaults, log)
	engine := service.NewApprovalEngine(store, client.NewDirectoryResolver(store), nil, log)
	resubmit := service.NewResubmissionCoordinator(store, builder, stubEvidence{}, nil, log)

	h := NewHTTPHandler(orders, engine, resubmit, log)
	return &server{t: t, handler: h.Router(RouterConfig{
		JWTSecret:      jwtSecret,
		CORSOrigins:    []string{"*"},
		RequestTimeout: 5 * time.Second,
	})}
}

func (s *server) do(method, path, user string, admin bool, body io.Reader, contentType string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		token, err := middleware.IssueToken(jwtSecret, user, admin, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) send(method, path, user string, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	return s.do(method, path, user, user == "admin", r, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *server) createOrder() *OrderResponse {
	s.t.Helper()
	rec := s.send(http.MethodPost, "/api/v1/orders", "eng-site", orderJSON)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[OrderResponse](s.t, rec)
	return &out
}

func TestCreateAndGetOrder(t *testing.T) {
	s := newServer(t)
	created := s.createOrder()

	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "MXN", created.Currency)
	assert.True(t, decimal.RequireFromString("20680").Equal(created.Subtotal), created.Subtotal.String())
	require.Len(t, created.Approvals, 3)
	require.NotNil(t, created.CurrentApprovalID)
	assert.Equal(t, created.Approvals[0].ID, *created.CurrentApprovalID)
	assert.Equal(t, "Site Operations", created.Approvals[0].DepartmentName)

	rec := s.send(http.MethodGet, "/api/v1/orders/"+created.ID, "head-finance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[OrderResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, 1, got.Items[0].LineNumber)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	s := newServer(t)
	created := s.createOrder()
	base := "/api/v1/orders/" + created.ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"no token", http.MethodGet, base, "", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown order", http.MethodGet, "/api/v1/orders/missing", "eng-site", "", http.StatusNotFound, "NOT_FOUND"},
		{"bad body", http.MethodPost, "/api/v1/orders", "eng-site", "{", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no items", http.MethodPost, "/api/v1/orders", "eng-site", `{"justification":"x","items":[]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no department", http.MethodPost, "/api/v1/orders", "admin", orderJSON, http.StatusUnprocessableEntity, "MISSING_DEPARTMENT"},
		{"not eligible", http.MethodPost, base + "/approve", "eng-site", "", http.StatusForbidden, "NOT_ELIGIBLE"},
		{"admin without step", http.MethodPost, base + "/approve", "admin", `{"comments":"ok"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"reject without reason", http.MethodPost, base + "/reject", "head-site", `{"comments":"  "}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"complete unapproved", http.MethodPatch, base + "/status", "admin", `{"action":"complete","confirm":true}`, http.StatusConflict, "INVALID_STATE"},
		{"complete unconfirmed", http.MethodPatch, base + "/status", "admin", `{"action":"complete"}`, http.StatusBadRequest, "CONFIRMATION_REQUIRED"},
		{"complete as non admin", http.MethodPatch, base + "/status", "head-site", `{"action":"complete","confirm":true}`, http.StatusForbidden, "FORBIDDEN"},
		{"unknown action", http.MethodPatch, base + "/status", "admin", `{"action":"archive"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"resubmit pending", http.MethodPut, base, "eng-site", orderJSON, http.StatusConflict, "INVALID_STATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.send(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestApprovalFlowToCompletion(t *testing.T) {
	s := newServer(t)
	created := s.createOrder()
	base := "/api/v1/orders/" + created.ID

	steps := []struct {
		user   string
		status string
	}{
		{"head-site", "in_progress"},
		{"head-purchasing", "in_progress"},
		{"head-finance", "approved"},
	}
	for _, step := range steps {
		rec := s.send(http.MethodPost, base+"/approve", step.user, `{"comments":"ok"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[ActionResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, step.status, resp.Status)
	}

	// Approving an already resolved step reports the lost race.
	body := fmt.Sprintf(`{"approval_id":%q}`, created.Approvals[0].ID)
	rec := s.send(http.MethodPost, base+"/approve", "admin", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "APPROVAL_NOT_PENDING", errResp.Code)
	assert.Equal(t, "already processed by someone else", errResp.Error)

	rec = s.send(http.MethodPatch, base+"/status", "admin", `{"action":"complete","confirm":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[ActionResponse](t, rec).Status)

	rec = s.send(http.MethodGet, base, "eng-site", "")
	got := decode[OrderResponse](t, rec)
	assert.Equal(t, "completed", got.Status)
	require.NotNil(t, got.CompletedBy)
	assert.Equal(t, "admin", *got.CompletedBy)
	assert.Nil(t, got.CurrentApprovalID)
}

func TestOutOfOrderApproval(t *testing.T) {
	s := newServer(t)
	created := s.createOrder()
	base := "/api/v1/orders/" + created.ID
	purchasing := fmt.Sprintf(`{"approval_id":%q}`, created.Approvals[1].ID)

	tests := []struct {
		name   string
		user   string
		body   string
		status int
		code   string
	}{
		{"admin on last step", "admin", fmt.Sprintf(`{"approval_id":%q}`, created.Approvals[2].ID), http.StatusConflict, "OUT_OF_ORDER"},
		{"head on own later step", "head-purchasing", purchasing, http.StatusConflict, "OUT_OF_ORDER"},
		{"head without approval id", "head-purchasing", `{"comments":"ok"}`, http.StatusConflict, "OUT_OF_ORDER"},
		{"head on another department's step", "head-finance", purchasing, http.StatusForbidden, "NOT_ELIGIBLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.send(http.MethodPost, base+"/approve", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	rec := s.send(http.MethodGet, base, "eng-site", "")
	for _, a := range decode[OrderResponse](t, rec).Approvals {
		assert.Equal(t, "pending", a.Status)
	}
}

func TestRepeatedApproveWithoutApprovalID(t *testing.T) {
	s := newServer(t)
	created := s.createOrder()
	base := "/api/v1/orders/" + created.ID

	rec := s.send(http.MethodPost, base+"/approve", "head-site", `{"comments":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", decode[ActionResponse](t, rec).Status)

	rec = s.send(http.MethodPost, base+"/approve", "head-site", `{"comments":"ok"}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVAL_NOT_PENDING", decode[ErrorResponse](t, rec).Code)

	rec = s.send(http.MethodGet, base, "eng-site", "")
	got := decode[OrderResponse](t, rec)
	require.Len(t, got.Approvals, 3)
	assert.Equal(t, "approved", got.Approvals[0].Status)
	assert.Equal(t, "pending", got.Approvals[1].Status)
	assert.Equal(t, "pending", got.Approvals[2].Status)
	require.NotNil(t, got.CurrentApprovalID)
	assert.Equal(t, got.Approvals[1].ID, *got.CurrentApprovalID)
}

func TestRejectAndResubmitWithEvidence(t *testing.T) {
	s := newServer(t)
	created := s.createOrder()
	base := "/api/v1/orders/" + created.ID

	rec := s.send(http.MethodPost, base+"/approve", "head-site", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.send(http.MethodPost, base+"/reject", "head-purchasing", `{"comments":"quote is outdated"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rejected", decode[ActionResponse](t, rec).Status)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("order", orderJSON))
	part, err := mw.CreateFormFile("evidence", "quote-2026.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 updated quote"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec = s.do(http.MethodPut, base, "eng-site", false, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ActionResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "pending", resp.Status)
	assert.Empty(t, resp.Warnings)

	rec = s.send(http.MethodGet, base, "eng-site", "")
	got := decode[OrderResponse](t, rec)
	assert.Equal(t, 2, got.ChainVersion)
	assert.Equal(t, []string{"evidence://" + created.ID + "/quote-2026.pdf"}, got.EvidenceURLs)
	require.Len(t, got.Approvals, 3)
	for _, a := range got.Approvals {
		assert.Equal(t, "pending", a.Status)
		assert.Equal(t, 2, a.ChainVersion)
	}

	rec = s.send(http.MethodGet, base+"/audit", "eng-site", "")
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[struct {
		Entries []AuditEntryResponse `json:"entries"`
	}](t, rec)
	actions := make([]string, 0, len(audit.Entries))
	for _, e := range audit.Entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"created", "approved", "rejected", "resubmitted"}, actions)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/health", "", false, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	s.createOrder()
	rec = s.do(http.MethodGet, "/metrics", "", false, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "po_approvals_http_requests_total")
}

func TestHealthReportsBackendFailure(t *testing.T) {
	h := NewHTTPHandler(nil, nil, nil, logger.Nop()).Router(RouterConfig{
		JWTSecret: jwtSecret,
		Health:    func(context.Context) error { return fmt.Errorf("pool closed") },
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
