package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ── Status enumerations ───────────────────────────────────────────────────────

// OrderStatus is the aggregate state of a purchase order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusApproved   OrderStatus = "approved"
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusCompleted  OrderStatus = "completed"
)

// Valid reports whether s is one of the canonical order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusApproved,
		OrderStatusRejected, OrderStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further approval activity can change s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusRejected || s == OrderStatusCompleted
}

// ParseOrderStatus accepts canonical values only.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// ApprovalStatus is the state of one step in an approval chain.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ParseApprovalStatus accepts canonical values only.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch st := ApprovalStatus(s); st {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown approval status %q", s)
}

// legacyOrderStatuses maps spellings found in rows written by the previous
// back office. Only the normalize-statuses ingestion command consults it.
var legacyOrderStatuses = map[string]OrderStatus{
	"pendiente":   OrderStatusPending,
	"pending":     OrderStatusPending,
	"en_proceso":  OrderStatusInProgress,
	"en proceso":  OrderStatusInProgress,
	"en_progreso": OrderStatusInProgress,
	"in_progress": OrderStatusInProgress,
	"in progress": OrderStatusInProgress,
	"aprobado":    OrderStatusApproved,
	"aprobada":    OrderStatusApproved,
	"approved":    OrderStatusApproved,
	"rechazado":   OrderStatusRejected,
	"rechazada":   OrderStatusRejected,
	"rejected":    OrderStatusRejected,
	"completado":  OrderStatusCompleted,
	"completada":  OrderStatusCompleted,
	"completed":   OrderStatusCompleted,
}

// NormalizeLegacyOrderStatus maps a legacy status spelling to its canonical
// value. ok is false when the spelling is unknown.
func NormalizeLegacyOrderStatus(s string) (OrderStatus, bool) {
	st, ok := legacyOrderStatuses[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// ── Directory ─────────────────────────────────────────────────────────────────

// Department is a node of the approval chain catalog.
type Department struct {
	ID               string
	Name             string
	RequiresApproval bool
	ApprovalOrder    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User is a directory entry for applicants and approvers.
type User struct {
	ID               string
	Name             string
	DepartmentID     *string
	IsDepartmentHead bool
	IsAdmin          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ── Orders ────────────────────────────────────────────────────────────────────

// Order is a purchase request together with its item lines.
type Order struct {
	ID            string
	ApplicantID   string
	DepartmentID  string
	Currency      string
	Subtotal      decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
	RetentionRate decimal.Decimal
	Retention     decimal.Decimal
	Total         decimal.Decimal
	Justification string
	EvidenceURLs  []string
	Status        OrderStatus
	ChainVersion  int
	CompletedBy   *string
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []*OrderItem
}

// OrderItem is one purchased line.
type OrderItem struct {
	LineNumber int
	Name       string
	Quantity   decimal.Decimal
	Unit       string
	UnitPrice  decimal.Decimal
}

// Amount is quantity × unit price.
func (i *OrderItem) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// Clone returns a deep copy. Items and evidence slices are not shared.
func (o *Order) Clone() *Order {
	c := *o
	c.EvidenceURLs = append([]string(nil), o.EvidenceURLs...)
	c.Items = make([]*OrderItem, len(o.Items))
	for i, it := range o.Items {
		cp := *it
		c.Items[i] = &cp
	}
	if o.CompletedBy != nil {
		v := *o.CompletedBy
		c.CompletedBy = &v
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// ── Approval chain ────────────────────────────────────────────────────────────

// Approval is one department sign-off step of an order's chain.
type Approval struct {
	ID             string
	OrderID        string
	DepartmentID   string
	DepartmentName string
	ApprovalOrder  int
	ChainVersion   int
	Status         ApprovalStatus
	ApproverID     *string
	ApprovedAt     *time.Time
	Comments       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a copy that shares no pointers with a.
func (a *Approval) Clone() *Approval {
	c := *a
	if a.ApproverID != nil {
		v := *a.ApproverID
		c.ApproverID = &v
	}
	if a.ApprovedAt != nil {
		v := *a.ApprovedAt
		c.ApprovedAt = &v
	}
	if a.Comments != nil {
		v := *a.Comments
		c.Comments = &v
	}
	return &c
}

// ApprovalResolution is the single write an approve or reject action makes on
// a pending approval.
type ApprovalResolution struct {
	ApprovalID   string
	ChainVersion int
	Status       ApprovalStatus
	ApproverID   string
	Comments     *string
	ResolvedAt   time.Time
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// Audit actions.
const (
	AuditActionCreated      = "created"
	AuditActionAutoApproved = "auto_approved"
	AuditActionApproved     = "approved"
	AuditActionRejected     = "rejected"
	AuditActionCompleted    = "completed"
	AuditActionResubmitted  = "resubmitted"
)

// AuditEntry is one immutable record in the order audit log.
type AuditEntry struct {
	ID           string
	OrderID      string
	ApprovalID   *string
	Action       string
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *OrderStatus
	StatusAfter  *OrderStatus
	Metadata     map[string]interface{}
}
