package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

func steps(statuses ...repository.ApprovalStatus) []*repository.Approval {
	out := make([]*repository.Approval, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, &repository.Approval{ID: string(rune('a' + i)), ApprovalOrder: i + 1, Status: s})
	}
	return out
}

const (
	pend = repository.ApprovalStatusPending
	appr = repository.ApprovalStatusApproved
	rej  = repository.ApprovalStatusRejected
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		chain []*repository.Approval
		want  repository.OrderStatus
	}{
		{"all pending", steps(pend, pend, pend), repository.OrderStatusPending},
		{"first approved", steps(appr, pend, pend), repository.OrderStatusInProgress},
		{"intermediate approved", steps(appr, appr, pend), repository.OrderStatusInProgress},
		{"all approved", steps(appr, appr, appr), repository.OrderStatusApproved},
		{"rejection with pending tail", steps(appr, rej, pend), repository.OrderStatusRejected},
		{"first rejected", steps(rej, pend), repository.OrderStatusRejected},
		{"single auto approved step", steps(appr), repository.OrderStatusApproved},
		{"empty chain", nil, repository.OrderStatusApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.chain))
		})
	}
}

func TestCurrentStep(t *testing.T) {
	tests := []struct {
		name   string
		chain  []*repository.Approval
		want   int
		wantOK bool
	}{
		{"first pending", steps(pend, pend, pend), 0, true},
		{"after approvals", steps(appr, appr, pend), 2, true},
		{"fully approved", steps(appr, appr), -1, false},
		{"rejected chain", steps(appr, rej, pend), -1, false},
		{"empty", nil, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := CurrentStep(tt.chain)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, idx)
		})
	}
}

func TestCurrentStepUsesRankNotPosition(t *testing.T) {
	chain := steps(pend, pend)
	chain[0].ApprovalOrder, chain[1].ApprovalOrder = 7, 3

	idx, ok := CurrentStep(chain)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}
