package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

func build(t *testing.T, f *fixture, applicant string) (*Chain, error) {
	t.Helper()
	order := &repository.Order{ID: "order-1", ApplicantID: applicant, ChainVersion: 1}
	return NewChainBuilder(logger.Nop()).Build(context.Background(), f.store, order)
}

func TestChainBuilder_HeadOfFirstDepartmentAutoApproves(t *testing.T) {
	f := newFixture(t)

	chain, err := build(t, f, "head-site")
	require.NoError(t, err)

	require.True(t, chain.AutoApproved)
	assert.Equal(t, "site", chain.Department.ID)
	assert.Equal(t, []string{"site", "purchasing", "finance"}, departments(chain.Approvals))

	first := chain.Approvals[0]
	assert.Equal(t, repository.ApprovalStatusApproved, first.Status)
	require.NotNil(t, first.ApproverID)
	assert.Equal(t, "head-site", *first.ApproverID)
	assert.NotNil(t, first.ApprovedAt)
	require.NotNil(t, first.Comments)
	assert.Contains(t, *first.Comments, "Site Operations")

	for _, step := range chain.Approvals[1:] {
		assert.Equal(t, repository.ApprovalStatusPending, step.Status)
		assert.Nil(t, step.ApproverID)
	}
}

func TestChainBuilder_NonHeadStartsPending(t *testing.T) {
	f := newFixture(t)

	chain, err := build(t, f, "eng-site")
	require.NoError(t, err)

	assert.False(t, chain.AutoApproved)
	assert.Equal(t, []int{1, 3, 4}, ranks(chain.Approvals))
	for _, step := range chain.Approvals {
		assert.Equal(t, repository.ApprovalStatusPending, step.Status)
		assert.Equal(t, "order-1", step.OrderID)
		assert.Equal(t, 1, step.ChainVersion)
	}
}

func TestChainBuilder_ApplicantDepartmentNotRequiringApproval(t *testing.T) {
	f := newFixture(t)

	chain, err := build(t, f, "clerk-warehouse")
	require.NoError(t, err)

	assert.False(t, chain.AutoApproved)
	assert.Equal(t, "warehouse", chain.Department.ID)
	assert.Equal(t, []string{"purchasing", "finance"}, departments(chain.Approvals))
	assert.Equal(t, []int{3, 4}, ranks(chain.Approvals))
}

func TestChainBuilder_SkipsDepartmentsRankedBeforeApplicant(t *testing.T) {
	f := newFixture(t)

	chain, err := build(t, f, "buyer")
	require.NoError(t, err)

	assert.Equal(t, []string{"purchasing", "finance"}, departments(chain.Approvals))
}

func TestChainBuilder_HeadOfLastDepartment(t *testing.T) {
	f := newFixture(t)

	chain, err := build(t, f, "head-finance")
	require.NoError(t, err)

	require.Len(t, chain.Approvals, 1)
	assert.True(t, chain.AutoApproved)
	assert.Equal(t, repository.OrderStatusApproved, DeriveStatus(chain.Approvals))
}

func TestChainBuilder_MissingDepartment(t *testing.T) {
	f := newFixture(t)

	for _, applicant := range []string{"drifter", "admin", "ghost"} {
		t.Run(applicant, func(t *testing.T) {
			_, err := build(t, f, applicant)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMissingDepartment), "got %v", err)
		})
	}
}

func TestChainBuilder_RanksStrictlyIncreasing(t *testing.T) {
	f := newFixture(t)

	for _, applicant := range []string{"head-site", "eng-site", "head-purchasing", "buyer", "head-finance", "clerk-warehouse"} {
		t.Run(applicant, func(t *testing.T) {
			chain, err := build(t, f, applicant)
			require.NoError(t, err)

			for i := 1; i < len(chain.Approvals); i++ {
				assert.Less(t, chain.Approvals[i-1].ApprovalOrder, chain.Approvals[i].ApprovalOrder)
			}
			for _, step := range chain.Approvals {
				dep, err := f.store.GetDepartment(context.Background(), step.DepartmentID)
				require.NoError(t, err)
				assert.Equal(t, dep.ApprovalOrder, step.ApprovalOrder)
				assert.True(t, dep.RequiresApproval)
			}
		})
	}
}
