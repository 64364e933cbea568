package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

// Chain is the result of building an order's approval sequence.
type Chain struct {
	Approvals []*repository.Approval
	// AutoApproved is set when the first step was signed by the applicant as
	// head of their own department.
	AutoApproved bool
	// Department is the applicant's department.
	Department *repository.Department
}

// ChainBuilder constructs the ordered approval steps for an order.
type ChainBuilder struct {
	log *logger.Logger
	now func() time.Time
}

// NewChainBuilder creates a new ChainBuilder.
func NewChainBuilder(log *logger.Logger) *ChainBuilder {
	return &ChainBuilder{log: log, now: time.Now}
}

// Build returns the chain for order. It reads through r so it can run inside
// the transaction that persists the result; it writes nothing itself.
//
// The applicant's department comes first when it requires approval, and is
// pre-approved when the applicant heads it. Every required department ranked
// after it follows as a pending step.
func (b *ChainBuilder) Build(ctx context.Context, r repository.Reader, order *repository.Order) (*Chain, error) {
	applicant, err := r.GetUser(ctx, order.ApplicantID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.New(errors.ErrCodeMissingDepartment,
			fmt.Sprintf("applicant %s is not in the directory", order.ApplicantID))
	}
	if err != nil {
		return nil, err
	}
	if applicant.DepartmentID == nil || *applicant.DepartmentID == "" {
		return nil, errors.New(errors.ErrCodeMissingDepartment,
			fmt.Sprintf("applicant %s has no department", applicant.ID))
	}

	own, err := r.GetDepartment(ctx, *applicant.DepartmentID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.New(errors.ErrCodeMissingDepartment,
			fmt.Sprintf("applicant department %s does not exist", *applicant.DepartmentID))
	}
	if err != nil {
		return nil, err
	}

	required, err := r.ListApprovalDepartments(ctx)
	if err != nil {
		return nil, err
	}

	chain := &Chain{Department: own}
	for _, dep := range required {
		switch {
		case dep.ID == own.ID:
			chain.Approvals = append(chain.Approvals, b.ownStep(order, dep, applicant))
			chain.AutoApproved = applicant.IsDepartmentHead
		case dep.ApprovalOrder > own.ApprovalOrder:
			chain.Approvals = append(chain.Approvals, b.step(order, dep))
		}
	}

	b.log.Debug().
		Str("order_id", order.ID).
		Str("department_id", own.ID).
		Int("steps", len(chain.Approvals)).
		Bool("auto_approved", chain.AutoApproved).
		Msg("Approval chain built")

	return chain, nil
}

func (b *ChainBuilder) step(order *repository.Order, dep *repository.Department) *repository.Approval {
	return &repository.Approval{
		ID:             uuid.New().String(),
		OrderID:        order.ID,
		DepartmentID:   dep.ID,
		DepartmentName: dep.Name,
		ApprovalOrder:  dep.ApprovalOrder,
		ChainVersion:   order.ChainVersion,
		Status:         repository.ApprovalStatusPending,
	}
}

func (b *ChainBuilder) ownStep(order *repository.Order, dep *repository.Department, applicant *repository.User) *repository.Approval {
	a := b.step(order, dep)
	if !applicant.IsDepartmentHead {
		return a
	}
	now := b.now()
	approver := applicant.ID
	comment := fmt.Sprintf("Approved automatically: requested by the head of %s", dep.Name)
	a.Status = repository.ApprovalStatusApproved
	a.ApproverID = &approver
	a.ApprovedAt = &now
	a.Comments = &comment
	return a
}
