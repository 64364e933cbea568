package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-po-approvals/internal/repository"
	"github.com/pesio-ai/be-po-approvals/internal/repository/memstore"
)

func seedDirectory(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	for _, d := range []*repository.Department{
		{ID: "site", Name: "Site", RequiresApproval: true, ApprovalOrder: 1},
		{ID: "finance", Name: "Finance", RequiresApproval: true, ApprovalOrder: 2},
		{ID: "legal", Name: "Legal", ApprovalOrder: 3},
	} {
		require.NoError(t, s.UpsertDepartment(ctx, d))
	}
	site, finance, legal := "site", "finance", "legal"
	for _, u := range []*repository.User{
		{ID: "head-site", DepartmentID: &site, IsDepartmentHead: true},
		{ID: "eng-site", DepartmentID: &site},
		{ID: "head-finance", DepartmentID: &finance, IsDepartmentHead: true},
		{ID: "head-legal", DepartmentID: &legal, IsDepartmentHead: true},
		{ID: "admin", IsAdmin: true},
	} {
		require.NoError(t, s.UpsertUser(ctx, u))
	}

	err := s.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertOrder(ctx, &repository.Order{ID: "o1", ApplicantID: "eng-site", DepartmentID: "site", Status: repository.OrderStatusPending, ChainVersion: 1}); err != nil {
			return err
		}
		return tx.InsertApprovals(ctx, []*repository.Approval{
			{ID: "a1", OrderID: "o1", DepartmentID: "site", ApprovalOrder: 1, ChainVersion: 1, Status: repository.ApprovalStatusPending},
			{ID: "a2", OrderID: "o1", DepartmentID: "finance", ApprovalOrder: 2, ChainVersion: 1, Status: repository.ApprovalStatusPending},
		})
	})
	require.NoError(t, err)
	return s
}

func TestDirectoryResolver(t *testing.T) {
	s := seedDirectory(t)
	r := NewDirectoryResolver(s)
	ctx := context.Background()

	tests := []struct {
		user string
		want bool
	}{
		{"head-site", true},
		{"eng-site", false},
		{"head-finance", true},
		{"head-legal", false},
		{"admin", true},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			ok, err := r.CanApprove(ctx, tt.user, "o1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestDirectoryResolver_ResolvedStepStaysEligible(t *testing.T) {
	s := seedDirectory(t)
	r := NewDirectoryResolver(s)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.ResolveApproval(ctx, repository.ApprovalResolution{
			ApprovalID: "a1", ChainVersion: 1, Status: repository.ApprovalStatusApproved, ApproverID: "head-site",
		})
		return err
	})
	require.NoError(t, err)

	// A repeated decision must reach the engine's pending check.
	ok, err := r.CanApprove(ctx, "head-site", "o1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.CanApprove(ctx, "head-finance", "o1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDirectoryResolver_OnlyLiveChain(t *testing.T) {
	s := seedDirectory(t)
	r := NewDirectoryResolver(s)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.DeleteApprovals(ctx, "o1"); err != nil {
			return err
		}
		return tx.InsertApprovals(ctx, []*repository.Approval{
			{ID: "b2", OrderID: "o1", DepartmentID: "finance", ApprovalOrder: 2, ChainVersion: 2, Status: repository.ApprovalStatusPending},
		})
	})
	require.NoError(t, err)

	ok, err := r.CanApprove(ctx, "head-site", "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}
