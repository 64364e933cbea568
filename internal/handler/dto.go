package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-po-approvals/internal/repository"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

// ── Requests ──────────────────────────────────────────────────────────────────

// OrderPayloadRequest is the JSON produced by the data extraction front end.
// Decimals are accepted as strings or numbers.
type OrderPayloadRequest struct {
	Currency      string           `json:"currency"`
	TaxRate       *decimal.Decimal `json:"tax_rate"`
	RetentionRate *decimal.Decimal `json:"retention_rate"`
	Justification string           `json:"justification"`
	EvidenceURLs  []string         `json:"evidence_urls"`
	Items         []ItemRequest    `json:"items"`
}

type ItemRequest struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (p *OrderPayloadRequest) toService() service.OrderPayload {
	out := service.OrderPayload{
		Currency:      p.Currency,
		TaxRate:       p.TaxRate,
		RetentionRate: p.RetentionRate,
		Justification: p.Justification,
		EvidenceURLs:  p.EvidenceURLs,
		Items:         make([]service.ItemPayload, len(p.Items)),
	}
	for i, it := range p.Items {
		out.Items[i] = service.ItemPayload{
			Name:      it.Name,
			Quantity:  it.Quantity,
			Unit:      it.Unit,
			UnitPrice: it.UnitPrice,
		}
	}
	return out
}

// DecisionRequest is the body of approve and reject. Without ApprovalID the
// step currently awaiting action is targeted.
type DecisionRequest struct {
	ApprovalID string  `json:"approval_id"`
	Comments   *string `json:"comments"`
}

// StatusRequest is the body of PATCH /orders/{id}/status.
type StatusRequest struct {
	Action  string `json:"action"`
	Confirm bool   `json:"confirm"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

type OrderResponse struct {
	ID                string             `json:"id"`
	ApplicantID       string             `json:"applicant_id"`
	DepartmentID      string             `json:"department_id"`
	Currency          string             `json:"currency"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	TaxRate           decimal.Decimal    `json:"tax_rate"`
	TaxAmount         decimal.Decimal    `json:"tax_amount"`
	RetentionRate     decimal.Decimal    `json:"retention_rate"`
	Retention         decimal.Decimal    `json:"retention"`
	Total             decimal.Decimal    `json:"total"`
	Justification     string             `json:"justification"`
	EvidenceURLs      []string           `json:"evidence_urls"`
	Status            string             `json:"status"`
	ChainVersion      int                `json:"chain_version"`
	CompletedBy       *string            `json:"completed_by,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Items             []ItemResponse     `json:"items"`
	Approvals         []ApprovalResponse `json:"approvals"`
	CurrentApprovalID *string            `json:"current_approval_id,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
}

type ItemResponse struct {
	LineNumber int             `json:"line_number"`
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Amount     decimal.Decimal `json:"amount"`
}

type ApprovalResponse struct {
	ID             string     `json:"id"`
	DepartmentID   string     `json:"department_id"`
	DepartmentName string     `json:"department_name"`
	ApprovalOrder  int        `json:"approval_order"`
	ChainVersion   int        `json:"chain_version"`
	Status         string     `json:"status"`
	ApproverID     *string    `json:"approver_id,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	Comments       *string    `json:"comments,omitempty"`
}

type AuditEntryResponse struct {
	ID           string                 `json:"id"`
	ApprovalID   *string                `json:"approval_id,omitempty"`
	Action       string                 `json:"action"`
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ActionResponse answers approve, reject, complete and resubmit.
type ActionResponse struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message,omitempty"`
	Status   string   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func orderToResponse(o *repository.Order, approvals []*repository.Approval, warnings []string) *OrderResponse {
	resp := &OrderResponse{
		ID:            o.ID,
		ApplicantID:   o.ApplicantID,
		DepartmentID:  o.DepartmentID,
		Currency:      o.Currency,
		Subtotal:      o.Subtotal,
		TaxRate:       o.TaxRate,
		TaxAmount:     o.TaxAmount,
		RetentionRate: o.RetentionRate,
		Retention:     o.Retention,
		Total:         o.Total,
		Justification: o.Justification,
		EvidenceURLs:  o.EvidenceURLs,
		Status:        string(o.Status),
		ChainVersion:  o.ChainVersion,
		CompletedBy:   o.CompletedBy,
		CompletedAt:   o.CompletedAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Items:         make([]ItemResponse, len(o.Items)),
		Approvals:     make([]ApprovalResponse, len(approvals)),
		Warnings:      warnings,
	}
	if resp.EvidenceURLs == nil {
		resp.EvidenceURLs = []string{}
	}
	for i, it := range o.Items {
		resp.Items[i] = ItemResponse{
			LineNumber: it.LineNumber,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Unit:       it.Unit,
			UnitPrice:  it.UnitPrice,
			Amount:     it.Amount(),
		}
	}
	for i, a := range approvals {
		resp.Approvals[i] = ApprovalResponse{
			ID:             a.ID,
			DepartmentID:   a.DepartmentID,
			DepartmentName: a.DepartmentName,
			ApprovalOrder:  a.ApprovalOrder,
			ChainVersion:   a.ChainVersion,
			Status:         string(a.Status),
			ApproverID:     a.ApproverID,
			ApprovedAt:     a.ApprovedAt,
			Comments:       a.Comments,
		}
	}
	if idx, ok := service.CurrentStep(approvals); ok {
		id := approvals[idx].ID
		resp.CurrentApprovalID = &id
	}
	return resp
}

func auditToResponse(entries []*repository.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			ID:           e.ID,
			ApprovalID:   e.ApprovalID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			PerformedAt:  e.PerformedAt,
			StatusBefore: statusString(e.StatusBefore),
			StatusAfter:  statusString(e.StatusAfter),
			Metadata:     e.Metadata,
		}
	}
	return out
}

func statusString(s *repository.OrderStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
