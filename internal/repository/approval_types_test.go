package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	for _, s := range []string{"pending", "in_progress", "approved", "rejected", "completed"} {
		st, err := ParseOrderStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(st))
	}

	for _, s := range []string{"pendiente", "Approved", "", "cancelled"} {
		_, err := ParseOrderStatus(s)
		assert.Error(t, err, s)
	}
}

func TestNormalizeLegacyOrderStatus(t *testing.T) {
	tests := map[string]OrderStatus{
		"pendiente":   OrderStatusPending,
		" Pendiente ": OrderStatusPending,
		"en_proceso":  OrderStatusInProgress,
		"EN PROCESO":  OrderStatusInProgress,
		"aprobada":    OrderStatusApproved,
		"rechazado":   OrderStatusRejected,
		"completada":  OrderStatusCompleted,
		"in_progress": OrderStatusInProgress,
		"completed":   OrderStatusCompleted,
	}
	for in, want := range tests {
		got, ok := NormalizeLegacyOrderStatus(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := NormalizeLegacyOrderStatus("archivado")
	assert.False(t, ok)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusRejected.Terminal())
	assert.True(t, OrderStatusCompleted.Terminal())
	assert.False(t, OrderStatusApproved.Terminal())
	assert.False(t, OrderStatusInProgress.Terminal())
}

func TestOrderClone(t *testing.T) {
	by := "admin"
	o := &Order{ID: "o1", EvidenceURLs: []string{"a"}, Items: []*OrderItem{{LineNumber: 1, Name: "Cement"}}, CompletedBy: &by}

	c := o.Clone()
	c.EvidenceURLs[0] = "b"
	c.Items[0].Name = "Sand"
	*c.CompletedBy = "someone"

	assert.Equal(t, "a", o.EvidenceURLs[0])
	assert.Equal(t, "Cement", o.Items[0].Name)
	assert.Equal(t, "admin", *o.CompletedBy)
}
