package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/metrics"
	"github.com/pesio-ai/be-po-approvals/internal/middleware"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = 32 << 20
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	orders   *service.OrderService
	engine   *service.ApprovalEngine
	resubmit *service.ResubmissionCoordinator
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	orders *service.OrderService,
	engine *service.ApprovalEngine,
	resubmit *service.ResubmissionCoordinator,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orders:   orders,
		engine:   engine,
		resubmit: resubmit,
		log:      log,
	}
}

// RouterConfig configures the middleware around the API routes.
type RouterConfig struct {
	JWTSecret      []byte
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Health reports backend readiness. Nil means always healthy.
	Health func(ctx context.Context) error
}

// Router builds the full HTTP surface with its middleware chain.
func (h *HTTPHandler) Router(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)

	r.HandleFunc("/health", h.health(cfg.Health)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))
	api.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", h.ResubmitOrder).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}/audit", h.GetAuditTrail).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/approve", h.ApproveOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/reject", h.RejectOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)

	var handler http.Handler = r
	if cfg.RequestTimeout > 0 {
		handler = middleware.Timeout(cfg.RequestTimeout)(handler)
	}
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	handler = middleware.Recovery(&h.log.Logger)(handler)
	handler = middleware.Logger(&h.log.Logger)(handler)
	handler = middleware.RequestID(handler)
	return handler
}

func (h *HTTPHandler) health(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				h.log.Warn().Err(err).Msg("Health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// CreateOrder handles POST /orders. The body is either the order JSON or a
// multipart form with an "order" JSON part and "evidence" files.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	payload, files, cleanup, err := readOrderPayload(w, r)
	defer cleanup()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	detail, err := h.orders.CreateOrder(r.Context(), actor, &service.CreateOrderRequest{
		Payload:  payload.toService(),
		Evidence: files,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, orderToResponse(detail.Order, detail.Approvals, detail.Warnings))
}

// GetOrder handles GET /orders/{id}
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(detail.Order, detail.Approvals, nil))
}

// GetAuditTrail handles GET /orders/{id}/audit
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.orders.GetAuditTrail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": auditToResponse(entries)})
}

// ApproveOrder handles POST /orders/{id}/approve
func (h *HTTPHandler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID := mux.Vars(r)["id"]

	var req DecisionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	approvalID, err := h.targetApproval(r.Context(), orderID, actor, req.ApprovalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status, err := h.engine.Approve(r.Context(), orderID, approvalID, actor, req.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &ActionResponse{Success: true, Message: "approval recorded", Status: string(status)})
}

// RejectOrder handles POST /orders/{id}/reject
func (h *HTTPHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID := mux.Vars(r)["id"]

	var req DecisionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Comments == nil || strings.TrimSpace(*req.Comments) == "" {
		h.writeError(w, r, errors.InvalidInput("comments", "rejection reason is required"))
		return
	}
	approvalID, err := h.targetApproval(r.Context(), orderID, actor, req.ApprovalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status, err := h.engine.Reject(r.Context(), orderID, approvalID, actor, *req.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &ActionResponse{Success: true, Message: "order rejected", Status: string(status)})
}

// UpdateStatus handles PATCH /orders/{id}/status. Only the "complete" action
// exists.
func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Action != "complete" {
		h.writeError(w, r, errors.InvalidInput("action", fmt.Sprintf("unsupported action %q", req.Action)))
		return
	}

	status, err := h.engine.Complete(r.Context(), mux.Vars(r)["id"], actor, req.Confirm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &ActionResponse{Success: true, Message: "order completed", Status: string(status)})
}

// ResubmitOrder handles PUT /orders/{id}: an edited rejected order goes back
// through a fresh approval chain.
func (h *HTTPHandler) ResubmitOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	payload, files, cleanup, err := readOrderPayload(w, r)
	defer cleanup()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.resubmit.Resubmit(r.Context(), actor, &service.ResubmitRequest{
		OrderID:  mux.Vars(r)["id"],
		Payload:  payload.toService(),
		Evidence: files,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &ActionResponse{
		Success:  true,
		Message:  "order resubmitted",
		Status:   string(result.Status),
		Warnings: result.Warnings,
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok || actor.UserID == "" {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "authentication required"))
		return service.Actor{}, false
	}
	return actor, true
}

// targetApproval resolves the step a decision applies to. Without an explicit
// approval_id the caller's own department step is used.
func (h *HTTPHandler) targetApproval(ctx context.Context, orderID string, actor service.Actor, approvalID string) (string, error) {
	if approvalID != "" {
		return approvalID, nil
	}
	step, err := h.engine.ApprovalFor(ctx, orderID, actor)
	if err != nil {
		return "", err
	}
	return step.ID, nil
}

// readOrderPayload decodes a JSON body or a multipart form. cleanup is always
// safe to call and closes any opened evidence files.
func readOrderPayload(w http.ResponseWriter, r *http.Request) (*OrderPayloadRequest, []service.EvidenceFile, func(), error) {
	var (
		payload OrderPayloadRequest
		files   []service.EvidenceFile
		opened  []multipart.File
	)
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := decodeJSON(w, r, &payload); err != nil {
			return nil, nil, cleanup, err
		}
		return &payload, nil, cleanup, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		return nil, nil, cleanup, errors.InvalidInput("body", "invalid multipart form")
	}
	raw := r.FormValue("order")
	if raw == "" {
		return nil, nil, cleanup, errors.InvalidInput("order", "order part is required")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil, cleanup, errors.InvalidInput("order", "order part is not valid JSON")
	}
	for _, fh := range r.MultipartForm.File["evidence"] {
		f, err := fh.Open()
		if err != nil {
			return nil, nil, cleanup, errors.InvalidInput("evidence", fmt.Sprintf("cannot read %s", fh.Filename))
		}
		opened = append(opened, f)
		files = append(files, service.EvidenceFile{Filename: fh.Filename, Content: f})
	}
	return &payload, files, cleanup, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.InvalidInput("body", "invalid request body")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || stderrors.Is(err, io.EOF) {
		return nil
	}
	return errors.InvalidInput("body", "invalid request body")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := httpStatus(code)

	resp := &ErrorResponse{Code: string(code), Error: "internal server error"}
	var e *errors.Error
	if errors.As(err, &e) && status < http.StatusInternalServerError {
		resp.Error = e.Message
		resp.Field = e.Field
	}
	switch code {
	case errors.ErrCodeApprovalNotPending:
		resp.Error = "already processed by someone else"
	case errors.ErrCodeStorageFailure:
		resp.Error = "evidence store unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, resp)
}

// httpStatus maps error codes to HTTP statuses.
func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeValidation, errors.ErrCodeConfirmationRequired:
		return http.StatusBadRequest
	case errors.ErrCodeMissingDepartment:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeNotEligible, errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeApprovalNotPending, errors.ErrCodeOutOfOrder, errors.ErrCodeInvalidState:
		return http.StatusConflict
	case errors.ErrCodeStorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
