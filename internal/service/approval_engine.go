package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// ApprovalEngine drives an order through its approval chain. Every action is
// one transaction: the compare-and-set on the approval row, the recomputed
// order status and the audit entry commit together or not at all.
type ApprovalEngine struct {
	store       repository.Store
	eligibility EligibilityResolver
	events      EventPublisher
	log         *logger.Logger
	now         func() time.Time
}

// NewApprovalEngine creates a new ApprovalEngine. events may be nil.
func NewApprovalEngine(
	store repository.Store,
	eligibility EligibilityResolver,
	events EventPublisher,
	log *logger.Logger,
) *ApprovalEngine {
	if events == nil {
		events = nopPublisher{}
	}
	return &ApprovalEngine{
		store:       store,
		eligibility: eligibility,
		events:      events,
		log:         log,
		now:         time.Now,
	}
}

// resolution is one approve or reject request.
type resolution struct {
	orderID    string
	approvalID string
	actor      Actor
	status     repository.ApprovalStatus
	comments   *string
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve signs the given step. It fails with ApprovalNotPending when the step
// was already resolved, NotEligible when the actor may not act on the order or
// does not head the step's department, and OutOfOrder when an earlier step is
// still pending.
func (e *ApprovalEngine) Approve(
	ctx context.Context,
	orderID, approvalID string,
	actor Actor,
	comments *string,
) (status repository.OrderStatus, err error) {
	defer observe("approve", time.Now(), &err)

	if comments != nil && strings.TrimSpace(*comments) == "" {
		comments = nil
	}

	return e.resolve(ctx, resolution{
		orderID:    orderID,
		approvalID: approvalID,
		actor:      actor,
		status:     repository.ApprovalStatusApproved,
		comments:   comments,
	})
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject rejects the given step, which immediately rejects the whole order.
// Later pending steps are left untouched. A reason is required.
func (e *ApprovalEngine) Reject(
	ctx context.Context,
	orderID, approvalID string,
	actor Actor,
	comments string,
) (status repository.OrderStatus, err error) {
	defer observe("reject", time.Now(), &err)

	reason := strings.TrimSpace(comments)
	if reason == "" {
		return "", errors.InvalidInput("comments", "rejection reason is required")
	}

	return e.resolve(ctx, resolution{
		orderID:    orderID,
		approvalID: approvalID,
		actor:      actor,
		status:     repository.ApprovalStatusRejected,
		comments:   &reason,
	})
}

func (e *ApprovalEngine) resolve(ctx context.Context, req resolution) (repository.OrderStatus, error) {
	approval, err := e.liveApproval(ctx, e.store, req.orderID, req.approvalID)
	if err != nil {
		return "", err
	}

	eligible, err := e.eligibility.CanApprove(ctx, req.actor.UserID, req.orderID)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to check approval eligibility")
	}
	if !eligible {
		return "", errors.New(errors.ErrCodeNotEligible,
			fmt.Sprintf("user %s is not authorized to act on this approval step", req.actor.UserID))
	}
	if err := e.checkStepOwner(ctx, req.actor, approval); err != nil {
		return "", err
	}

	var (
		before, after repository.OrderStatus
		resolved      *repository.Approval
		next          *repository.Approval
	)
	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		current, err := e.liveApproval(ctx, tx, req.orderID, req.approvalID)
		if err != nil {
			return err
		}
		if current.ChainVersion != approval.ChainVersion {
			return errors.NotFound("approval", req.approvalID)
		}
		if current.Status != repository.ApprovalStatusPending {
			return errors.New(errors.ErrCodeApprovalNotPending, "approval was already processed by someone else")
		}

		order, err := tx.GetOrder(ctx, req.orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return errors.New(errors.ErrCodeInvalidState,
				fmt.Sprintf("order is %s and accepts no further approvals", order.Status))
		}

		chain, err := tx.ListApprovals(ctx, req.orderID)
		if err != nil {
			return err
		}
		idx, ok := CurrentStep(chain)
		if !ok || chain[idx].ID != current.ID {
			return errors.New(errors.ErrCodeOutOfOrder,
				fmt.Sprintf("step %d cannot be acted on before the previous steps are resolved", current.ApprovalOrder))
		}

		resolved, err = tx.ResolveApproval(ctx, repository.ApprovalResolution{
			ApprovalID:   current.ID,
			ChainVersion: current.ChainVersion,
			Status:       req.status,
			ApproverID:   req.actor.UserID,
			Comments:     req.comments,
			ResolvedAt:   e.now(),
		})
		if err != nil {
			return err
		}
		chain[idx] = resolved

		before = order.Status
		after = DeriveStatus(chain)
		if err := tx.UpdateOrderStatus(ctx, order.ID, order.ChainVersion, after); err != nil {
			return err
		}
		if i, ok := CurrentStep(chain); ok {
			next = chain[i]
		}

		action := repository.AuditActionApproved
		if req.status == repository.ApprovalStatusRejected {
			action = repository.AuditActionRejected
		}
		metadata := map[string]interface{}{
			"approval_order": resolved.ApprovalOrder,
			"department_id":  resolved.DepartmentID,
			"chain_version":  resolved.ChainVersion,
		}
		if req.comments != nil {
			metadata["comments"] = *req.comments
		}
		return appendAudit(ctx, tx, &repository.AuditEntry{
			OrderID:      order.ID,
			ApprovalID:   &resolved.ID,
			Action:       action,
			PerformedBy:  req.actor.UserID,
			StatusBefore: &before,
			StatusAfter:  &after,
			Metadata:     metadata,
		})
	})
	if err != nil {
		return "", err
	}

	e.log.Info().
		Str("order_id", req.orderID).
		Str("approval_id", resolved.ID).
		Int("approval_order", resolved.ApprovalOrder).
		Str("approval_status", string(resolved.Status)).
		Str("acted_by", req.actor.UserID).
		Str("status_before", string(before)).
		Str("status_after", string(after)).
		Msg("Approval step resolved")

	e.publishResolution(ctx, req, resolved, next, after)
	return after, nil
}

// liveApproval loads an approval and confirms it belongs to the order's
// current chain. Steps of a discarded chain are reported as not found.
func (e *ApprovalEngine) liveApproval(ctx context.Context, r repository.Reader, orderID, approvalID string) (*repository.Approval, error) {
	approval, err := r.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.OrderID != orderID {
		return nil, errors.NotFound("approval", approvalID)
	}
	order, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if approval.ChainVersion != order.ChainVersion {
		return nil, errors.NotFound("approval", approvalID)
	}
	return approval, nil
}

// checkStepOwner confirms a non-admin actor heads the step's department.
func (e *ApprovalEngine) checkStepOwner(ctx context.Context, actor Actor, approval *repository.Approval) error {
	if actor.IsAdmin {
		return nil
	}
	user, err := e.approver(ctx, actor)
	if err != nil {
		return err
	}
	if *user.DepartmentID != approval.DepartmentID {
		return errors.New(errors.ErrCodeNotEligible,
			fmt.Sprintf("user %s does not head the department of step %d", actor.UserID, approval.ApprovalOrder))
	}
	return nil
}

// approver loads a department head from the directory. Anyone else is not
// eligible.
func (e *ApprovalEngine) approver(ctx context.Context, actor Actor) (*repository.User, error) {
	user, err := e.store.GetUser(ctx, actor.UserID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.New(errors.ErrCodeNotEligible,
			fmt.Sprintf("user %s is not a department head", actor.UserID))
	}
	if err != nil {
		return nil, err
	}
	if !user.IsDepartmentHead || user.DepartmentID == nil {
		return nil, errors.New(errors.ErrCodeNotEligible,
			fmt.Sprintf("user %s is not a department head", actor.UserID))
	}
	return user, nil
}

// ── Current step ──────────────────────────────────────────────────────────────

// ApprovalFor returns the step of the order's live chain that belongs to the
// actor's department, whatever its status. A repeated decision therefore hits
// the same step and fails with ApprovalNotPending. Administrators head no
// department and must name the step explicitly.
func (e *ApprovalEngine) ApprovalFor(ctx context.Context, orderID string, actor Actor) (*repository.Approval, error) {
	if _, err := e.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if actor.IsAdmin {
		return nil, errors.InvalidInput("approval_id", "administrators must name the approval step")
	}
	user, err := e.approver(ctx, actor)
	if err != nil {
		return nil, err
	}
	chain, err := e.store.ListApprovals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, a := range chain {
		if a.DepartmentID == *user.DepartmentID {
			return a, nil
		}
	}
	return nil, errors.New(errors.ErrCodeNotEligible,
		fmt.Sprintf("order has no approval step for department %s", *user.DepartmentID))
}

// CurrentApproval returns the step currently awaiting action on an order.
func (e *ApprovalEngine) CurrentApproval(ctx context.Context, orderID string) (*repository.Approval, error) {
	if _, err := e.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	chain, err := e.store.ListApprovals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	idx, ok := CurrentStep(chain)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidState, "order has no approval step awaiting action")
	}
	return chain[idx], nil
}

// ── Complete ──────────────────────────────────────────────────────────────────

// Complete marks a fully approved order as executed. Only administrators may
// complete orders, and only with an explicit confirmation.
func (e *ApprovalEngine) Complete(
	ctx context.Context,
	orderID string,
	actor Actor,
	confirm bool,
) (status repository.OrderStatus, err error) {
	defer observe("complete", time.Now(), &err)

	if !actor.IsAdmin {
		return "", errors.New(errors.ErrCodeForbidden, "only administrators can complete orders")
	}
	if !confirm {
		return "", errors.New(errors.ErrCodeConfirmationRequired, "completing an order requires explicit confirmation")
	}

	var completed *repository.Order
	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != repository.OrderStatusApproved {
			return errors.New(errors.ErrCodeInvalidState,
				fmt.Sprintf("cannot complete order with status '%s', must be approved", order.Status))
		}

		completed, err = tx.CompleteOrder(ctx, orderID, actor.UserID)
		if err != nil {
			return err
		}

		before := order.Status
		after := completed.Status
		return appendAudit(ctx, tx, &repository.AuditEntry{
			OrderID:      orderID,
			Action:       repository.AuditActionCompleted,
			PerformedBy:  actor.UserID,
			StatusBefore: &before,
			StatusAfter:  &after,
			Metadata:     map[string]interface{}{"chain_version": order.ChainVersion},
		})
	})
	if err != nil {
		return "", err
	}

	e.log.Info().
		Str("order_id", orderID).
		Str("completed_by", actor.UserID).
		Msg("Order completed")

	e.events.Publish(ctx, Event{
		Type:         EventOrderCompleted,
		OrderID:      orderID,
		ActorID:      actor.UserID,
		Status:       completed.Status,
		ChainVersion: completed.ChainVersion,
	})
	return completed.Status, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (e *ApprovalEngine) publishResolution(
	ctx context.Context,
	req resolution,
	resolved, next *repository.Approval,
	status repository.OrderStatus,
) {
	event := Event{
		OrderID:      req.orderID,
		ActorID:      req.actor.UserID,
		Status:       status,
		ChainVersion: resolved.ChainVersion,
		Payload: map[string]interface{}{
			"approval_id":    resolved.ID,
			"approval_order": resolved.ApprovalOrder,
		},
	}
	switch {
	case status == repository.OrderStatusRejected:
		event.Type = EventOrderRejected
		if req.comments != nil {
			event.Payload["reason"] = *req.comments
		}
	case status == repository.OrderStatusApproved:
		event.Type = EventOrderApproved
	case next != nil:
		event.Type = EventApprovalRequired
		event.DepartmentID = next.DepartmentID
	default:
		return
	}
	e.events.Publish(ctx, event)
}

// appendAudit writes an audit entry inside the caller's transaction.
func appendAudit(ctx context.Context, tx repository.Tx, entry *repository.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return tx.AppendAudit(ctx, entry)
}
