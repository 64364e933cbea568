package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// ResubmissionCoordinator turns an edited rejected order back into a pending
// one with a freshly built chain.
type ResubmissionCoordinator struct {
	store    repository.Store
	builder  *ChainBuilder
	evidence EvidenceStore
	events   EventPublisher
	log      *logger.Logger
}

// NewResubmissionCoordinator creates a new ResubmissionCoordinator. evidence
// and events may be nil.
func NewResubmissionCoordinator(
	store repository.Store,
	builder *ChainBuilder,
	evidence EvidenceStore,
	events EventPublisher,
	log *logger.Logger,
) *ResubmissionCoordinator {
	if events == nil {
		events = nopPublisher{}
	}
	return &ResubmissionCoordinator{
		store:    store,
		builder:  builder,
		evidence: evidence,
		events:   events,
		log:      log,
	}
}

// ResubmitRequest represents an edit of a rejected order
type ResubmitRequest struct {
	OrderID  string
	Payload  OrderPayload
	Evidence []EvidenceFile
}

// ResubmitResult is the outcome of a resubmission.
type ResubmitResult struct {
	Status repository.OrderStatus
	Order  *repository.Order
	// Warnings lists evidence files that could not be stored.
	Warnings []string
}

// Resubmit applies an edited payload to a rejected order and rebuilds its
// chain. The payload is validated before anything is discarded, and the chain
// replacement is a single transaction, so readers see either the rejected
// chain or the new one. Evidence upload failures are reported as warnings.
func (c *ResubmissionCoordinator) Resubmit(ctx context.Context, actor Actor, req *ResubmitRequest) (result *ResubmitResult, err error) {
	defer observe("resubmit", time.Now(), &err)

	order, err := c.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := checkResubmittable(order, actor); err != nil {
		return nil, err
	}
	if err := validatePayload(&req.Payload); err != nil {
		return nil, err
	}

	uris, warnings := uploadEvidence(ctx, c.evidence, c.log, order.ID, req.Evidence)

	var (
		updated   *repository.Order
		chain     *Chain
		discarded int64
	)
	err = c.store.InTx(ctx, func(tx repository.Tx) error {
		current, err := tx.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		// Re-checked in the transaction: a concurrent resubmission may have won.
		if err := checkResubmittable(current, actor); err != nil {
			return err
		}

		updated = current.Clone()
		applyPayload(updated, &req.Payload)
		updated.EvidenceURLs = append(updated.EvidenceURLs, uris...)
		updated.ChainVersion = current.ChainVersion + 1

		chain, err = c.builder.Build(ctx, tx, updated)
		if err != nil {
			return err
		}
		updated.DepartmentID = chain.Department.ID
		if err := tx.UpdateOrderPayload(ctx, updated); err != nil {
			return err
		}

		discarded, err = tx.DeleteApprovals(ctx, current.ID)
		if err != nil {
			return err
		}
		if err := tx.InsertApprovals(ctx, chain.Approvals); err != nil {
			return err
		}

		updated.Status = DeriveStatus(chain.Approvals)
		if err := tx.UpdateOrderStatus(ctx, updated.ID, updated.ChainVersion, updated.Status); err != nil {
			return err
		}

		before := current.Status
		after := updated.Status
		if err := appendAudit(ctx, tx, &repository.AuditEntry{
			OrderID:      updated.ID,
			Action:       repository.AuditActionResubmitted,
			PerformedBy:  actor.UserID,
			StatusBefore: &before,
			StatusAfter:  &after,
			Metadata: map[string]interface{}{
				"chain_version":       updated.ChainVersion,
				"discarded_approvals": discarded,
				"steps":               len(chain.Approvals),
				"total":               updated.Total.String(),
				"evidence_warnings":   len(warnings),
			},
		}); err != nil {
			return err
		}
		return auditAutoApproval(ctx, tx, updated, chain)
	})
	if err != nil {
		logOrphanedEvidence(c.log, req.OrderID, uris, err)
		return nil, err
	}

	c.log.Info().
		Str("order_id", updated.ID).
		Str("resubmitted_by", actor.UserID).
		Int("chain_version", updated.ChainVersion).
		Int64("discarded_approvals", discarded).
		Int("steps", len(chain.Approvals)).
		Str("status", string(updated.Status)).
		Int("evidence_warnings", len(warnings)).
		Msg("Order resubmitted")

	publishChainStart(ctx, c.events, EventOrderResubmitted, actor, updated, chain)

	return &ResubmitResult{Status: updated.Status, Order: updated, Warnings: warnings}, nil
}

func checkResubmittable(order *repository.Order, actor Actor) error {
	if order.Status != repository.OrderStatusRejected {
		return errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("cannot resubmit order with status '%s', must be rejected", order.Status))
	}
	if order.ApplicantID != actor.UserID && !actor.IsAdmin {
		return errors.New(errors.ErrCodeForbidden, "only the applicant or an administrator can resubmit an order")
	}
	return nil
}
