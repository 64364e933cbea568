package service

import (
	"context"
	"io"

	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// Actor is the authenticated caller of a workflow action. Handlers build it
// from the request token and pass it in explicitly.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// EligibilityResolver decides whether a user may act on an order's approval
// chain. The engine still checks step ownership, order and status itself.
type EligibilityResolver interface {
	CanApprove(ctx context.Context, userID, orderID string) (bool, error)
}

// EvidenceStore persists an uploaded file and returns a stable URI.
type EvidenceStore interface {
	Upload(ctx context.Context, orderID, filename string, r io.Reader) (string, error)
}

// EvidenceFile is one uploaded attachment waiting to be stored.
type EvidenceFile struct {
	Filename string
	Content  io.Reader
}

// Event types published after a transition commits.
const (
	EventOrderCreated     = "order_created"
	EventApprovalRequired = "approval_required"
	EventOrderApproved    = "order_approved"
	EventOrderRejected    = "order_rejected"
	EventOrderCompleted   = "order_completed"
	EventOrderResubmitted = "order_resubmitted"
)

// Event describes a committed workflow transition.
type Event struct {
	Type         string
	OrderID      string
	ActorID      string
	Status       repository.OrderStatus
	ChainVersion int
	// DepartmentID is the department whose step is now current, if any.
	DepartmentID string
	Payload      map[string]interface{}
}

// EventPublisher fans committed transitions out to other services. Publishing
// is best effort and never affects the outcome of an action.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
