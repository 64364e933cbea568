package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/metrics"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// OrderDefaults are applied to payloads that leave a field unset.
type OrderDefaults struct {
	Currency string
	TaxRate  decimal.Decimal
}

// OrderService creates purchase orders and serves the order read model.
type OrderService struct {
	store    repository.Store
	builder  *ChainBuilder
	evidence EvidenceStore
	events   EventPublisher
	defaults OrderDefaults
	log      *logger.Logger
}

// NewOrderService creates a new order service. evidence and events may be nil.
func NewOrderService(
	store repository.Store,
	builder *ChainBuilder,
	evidence EvidenceStore,
	events EventPublisher,
	defaults OrderDefaults,
	log *logger.Logger,
) *OrderService {
	if events == nil {
		events = nopPublisher{}
	}
	return &OrderService{
		store:    store,
		builder:  builder,
		evidence: evidence,
		events:   events,
		defaults: defaults,
		log:      log,
	}
}

// OrderPayload is the editable content of an order, as produced by the data
// extraction front end. Nil rates and an empty currency fall back to the
// defaults on creation and to the stored values on resubmission.
type OrderPayload struct {
	Currency      string
	TaxRate       *decimal.Decimal
	RetentionRate *decimal.Decimal
	Justification string
	// EvidenceURLs replaces the stored list when non-nil; omitting an URL
	// removes it. Newly uploaded files are appended after it.
	EvidenceURLs []string
	Items        []ItemPayload
}

// ItemPayload is one requested line
type ItemPayload struct {
	Name      string
	Quantity  decimal.Decimal
	Unit      string
	UnitPrice decimal.Decimal
}

// CreateOrderRequest represents a create order request
type CreateOrderRequest struct {
	Payload  OrderPayload
	Evidence []EvidenceFile
}

// OrderDetail is an order together with its live approval chain.
type OrderDetail struct {
	Order     *repository.Order
	Approvals []*repository.Approval
	// Warnings lists evidence files that could not be stored.
	Warnings []string
}

// CreateOrder validates the payload, builds the approval chain and persists
// the order and its chain in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, req *CreateOrderRequest) (detail *OrderDetail, err error) {
	defer observe("create", time.Now(), &err)

	if err := validatePayload(&req.Payload); err != nil {
		return nil, err
	}

	order := &repository.Order{
		ID:            uuid.New().String(),
		ApplicantID:   actor.UserID,
		Currency:      s.defaults.Currency,
		TaxRate:       s.defaults.TaxRate,
		RetentionRate: decimal.Zero,
		ChainVersion:  1,
	}
	applyPayload(order, &req.Payload)

	uris, warnings := uploadEvidence(ctx, s.evidence, s.log, order.ID, req.Evidence)
	order.EvidenceURLs = append(order.EvidenceURLs, uris...)

	var chain *Chain
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		chain, err = s.builder.Build(ctx, tx, order)
		if err != nil {
			return err
		}
		order.DepartmentID = chain.Department.ID
		order.Status = DeriveStatus(chain.Approvals)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertApprovals(ctx, chain.Approvals); err != nil {
			return err
		}

		status := order.Status
		if err := appendAudit(ctx, tx, &repository.AuditEntry{
			OrderID:     order.ID,
			Action:      repository.AuditActionCreated,
			PerformedBy: actor.UserID,
			StatusAfter: &status,
			Metadata: map[string]interface{}{
				"chain_version": order.ChainVersion,
				"steps":         len(chain.Approvals),
				"total":         order.Total.String(),
			},
		}); err != nil {
			return err
		}
		return auditAutoApproval(ctx, tx, order, chain)
	})
	if err != nil {
		logOrphanedEvidence(s.log, order.ID, uris, err)
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("applicant_id", order.ApplicantID).
		Str("department_id", order.DepartmentID).
		Str("status", string(order.Status)).
		Str("total", order.Total.String()).
		Int("item_count", len(order.Items)).
		Int("steps", len(chain.Approvals)).
		Msg("Order created")

	publishChainStart(ctx, s.events, EventOrderCreated, actor, order, chain)

	return &OrderDetail{Order: order, Approvals: chain.Approvals, Warnings: warnings}, nil
}

// GetOrder returns an order with its live approval chain.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*OrderDetail, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, id)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Approvals: approvals}, nil
}

// GetAuditTrail returns the audit log of an order oldest first.
func (s *OrderService) GetAuditTrail(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, id)
}

// ── Payload handling ──────────────────────────────────────────────────────────

var one = decimal.NewFromInt(1)

// validatePayload rejects a payload before anything is written.
func validatePayload(p *OrderPayload) error {
	if len(p.Items) == 0 {
		return errors.InvalidInput("items", "at least one item is required")
	}
	for i, item := range p.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			return errors.InvalidInput(field+".name", "item name is required")
		}
		if !item.Quantity.IsPositive() {
			return errors.InvalidInput(field+".quantity", "quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return errors.InvalidInput(field+".unit_price", "unit price cannot be negative")
		}
	}
	if strings.TrimSpace(p.Justification) == "" {
		return errors.InvalidInput("justification", "justification is required")
	}
	if p.Currency != "" && !isCurrencyCode(p.Currency) {
		return errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	if p.TaxRate != nil && (p.TaxRate.IsNegative() || p.TaxRate.GreaterThan(one)) {
		return errors.InvalidInput("tax_rate", "tax rate must be between 0 and 1")
	}
	if p.RetentionRate != nil && (p.RetentionRate.IsNegative() || p.RetentionRate.GreaterThan(one)) {
		return errors.InvalidInput("retention_rate", "retention rate must be between 0 and 1")
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// applyPayload copies a validated payload onto order and recomputes totals.
func applyPayload(order *repository.Order, p *OrderPayload) {
	if p.Currency != "" {
		order.Currency = strings.ToUpper(p.Currency)
	}
	if p.TaxRate != nil {
		order.TaxRate = *p.TaxRate
	}
	if p.RetentionRate != nil {
		order.RetentionRate = *p.RetentionRate
	}
	order.Justification = strings.TrimSpace(p.Justification)
	if p.EvidenceURLs != nil {
		order.EvidenceURLs = append([]string{}, p.EvidenceURLs...)
	}

	order.Items = make([]*repository.OrderItem, 0, len(p.Items))
	for i, item := range p.Items {
		order.Items = append(order.Items, &repository.OrderItem{
			LineNumber: i + 1,
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			Unit:       strings.TrimSpace(item.Unit),
			UnitPrice:  item.UnitPrice,
		})
	}
	computeTotals(order)
}

// computeTotals derives every monetary field from the item lines:
// total = subtotal + tax - retention, each amount rounded to cents.
func computeTotals(order *repository.Order) {
	subtotal := decimal.Zero
	for _, item := range order.Items {
		subtotal = subtotal.Add(item.Amount())
	}
	order.Subtotal = subtotal.Round(2)
	order.TaxAmount = subtotal.Mul(order.TaxRate).Round(2)
	order.Retention = subtotal.Mul(order.RetentionRate).Round(2)
	order.Total = order.Subtotal.Add(order.TaxAmount).Sub(order.Retention)
}

// uploadEvidence stores each file and returns the URIs that succeeded. Storage
// failures never abort the caller; they come back as warnings.
func uploadEvidence(
	ctx context.Context,
	store EvidenceStore,
	log *logger.Logger,
	orderID string,
	files []EvidenceFile,
) (uris, warnings []string) {
	for _, f := range files {
		if store == nil {
			warnings = append(warnings, fmt.Sprintf("%s: evidence store is not configured", f.Filename))
			metrics.RecordEvidenceUpload("skipped")
			continue
		}
		uri, err := store.Upload(ctx, orderID, f.Filename, f.Content)
		if err != nil {
			err = errors.Wrap(err, errors.ErrCodeStorageFailure, "failed to store evidence file")
			log.Warn().Err(err).
				Str("order_id", orderID).
				Str("filename", f.Filename).
				Msg("Evidence upload failed; continuing without it")
			warnings = append(warnings, fmt.Sprintf("%s: %v", f.Filename, err))
			metrics.RecordEvidenceUpload("failed")
			continue
		}
		uris = append(uris, uri)
		metrics.RecordEvidenceUpload("stored")
	}
	return uris, warnings
}

// logOrphanedEvidence records uploads that no committed order references.
func logOrphanedEvidence(log *logger.Logger, orderID string, uris []string, cause error) {
	if len(uris) == 0 {
		return
	}
	log.Warn().Err(cause).
		Str("order_id", orderID).
		Strs("orphaned_evidence", uris).
		Msg("Evidence stored but order update failed")
	metrics.RecordEvidenceUpload("orphaned")
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// auditAutoApproval records the applicant's own sign-off when the chain
// starts pre-approved.
func auditAutoApproval(ctx context.Context, tx repository.Tx, order *repository.Order, chain *Chain) error {
	if !chain.AutoApproved || len(chain.Approvals) == 0 {
		return nil
	}
	first := chain.Approvals[0]
	status := order.Status
	return appendAudit(ctx, tx, &repository.AuditEntry{
		OrderID:     order.ID,
		ApprovalID:  &first.ID,
		Action:      repository.AuditActionAutoApproved,
		PerformedBy: order.ApplicantID,
		StatusAfter: &status,
		Metadata: map[string]interface{}{
			"approval_order": first.ApprovalOrder,
			"department_id":  first.DepartmentID,
			"chain_version":  first.ChainVersion,
			"comments":       derefString(first.Comments),
		},
	})
}

func publishChainStart(
	ctx context.Context,
	events EventPublisher,
	eventType string,
	actor Actor,
	order *repository.Order,
	chain *Chain,
) {
	event := Event{
		Type:         eventType,
		OrderID:      order.ID,
		ActorID:      actor.UserID,
		Status:       order.Status,
		ChainVersion: order.ChainVersion,
		Payload: map[string]interface{}{
			"total":    order.Total.String(),
			"currency": order.Currency,
		},
	}
	if i, ok := CurrentStep(chain.Approvals); ok {
		event.DepartmentID = chain.Approvals[i].DepartmentID
	}
	events.Publish(ctx, event)
}

func observe(action string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = string(errors.CodeOf(*err))
	}
	metrics.RecordTransition(action, outcome, time.Since(start))
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
