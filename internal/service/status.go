package service

import (
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// DeriveStatus computes the order status implied by an approval set. Any
// rejection wins; an approval set with nothing pending is approved; otherwise
// the order is in progress once at least one step has been approved.
// completed is never derived, it is set only by an explicit admin action.
func DeriveStatus(approvals []*repository.Approval) repository.OrderStatus {
	var approved, pending int
	for _, a := range approvals {
		switch a.Status {
		case repository.ApprovalStatusRejected:
			return repository.OrderStatusRejected
		case repository.ApprovalStatusApproved:
			approved++
		case repository.ApprovalStatusPending:
			pending++
		}
	}
	switch {
	case pending == 0:
		return repository.OrderStatusApproved
	case approved > 0:
		return repository.OrderStatusInProgress
	default:
		return repository.OrderStatusPending
	}
}

// CurrentStep returns the index of the lowest-ranked pending approval. ok is
// false when every step is resolved or the chain holds a rejection.
func CurrentStep(approvals []*repository.Approval) (index int, ok bool) {
	index = -1
	for i, a := range approvals {
		switch a.Status {
		case repository.ApprovalStatusRejected:
			return -1, false
		case repository.ApprovalStatusPending:
			if index < 0 || a.ApprovalOrder < approvals[index].ApprovalOrder {
				index = i
			}
		}
	}
	return index, index >= 0
}
