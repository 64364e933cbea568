package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-po-approvals/internal/database"
	"github.com/pesio-ai/be-po-approvals/internal/errors"
)

// openTestStore connects to DATABASE_URL and applies the migrations. Tests
// using it are skipped when no database is configured.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping Postgres tests (DATABASE_URL not set)")
	}
	if testing.Short() {
		t.Skip("Skipping Postgres tests in short mode")
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

// seedPendingOrder writes a fresh department, applicant and a one-step chain.
// Ids and ranks are unique per call so runs never collide with other data.
func seedPendingOrder(t *testing.T, s *PostgresStore) (*Order, *Approval) {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.New().String()[:8]

	dept := &Department{
		ID:               "dept-" + suffix,
		Name:             "Concurrency " + suffix,
		RequiresApproval: true,
		ApprovalOrder:    1000 + int(time.Now().UnixNano()%1_000_000_000),
	}
	require.NoError(t, s.UpsertDepartment(ctx, dept))
	applicant := &User{ID: "user-" + suffix, Name: "Applicant", DepartmentID: &dept.ID}
	require.NoError(t, s.UpsertUser(ctx, applicant))

	order := &Order{
		ID:            uuid.New().String(),
		ApplicantID:   applicant.ID,
		DepartmentID:  dept.ID,
		Currency:      "MXN",
		Subtotal:      decimal.NewFromInt(100),
		TaxRate:       decimal.RequireFromString("0.16"),
		TaxAmount:     decimal.NewFromInt(16),
		RetentionRate: decimal.Zero,
		Retention:     decimal.Zero,
		Total:         decimal.NewFromInt(116),
		Justification: "Anchor bolts",
		Status:        OrderStatusPending,
		ChainVersion:  1,
		Items: []*OrderItem{
			{LineNumber: 1, Name: "Anchor bolt", Quantity: decimal.NewFromInt(10), Unit: "pz", UnitPrice: decimal.NewFromInt(10)},
		},
	}
	step := &Approval{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		DepartmentID:  dept.ID,
		ApprovalOrder: dept.ApprovalOrder,
		ChainVersion:  1,
		Status:        ApprovalStatusPending,
	}
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertApprovals(ctx, []*Approval{step})
	})
	require.NoError(t, err)
	return order, step
}

func TestPostgresResolveApproval_ConcurrentCallers(t *testing.T) {
	s := openTestStore(t)
	_, step := seedPendingOrder(t, s)

	const callers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = s.InTx(context.Background(), func(tx Tx) error {
				_, err := tx.ResolveApproval(context.Background(), ApprovalResolution{
					ApprovalID:   step.ID,
					ChainVersion: 1,
					Status:       ApprovalStatusApproved,
					ApproverID:   "head",
					ResolvedAt:   time.Now(),
				})
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errors.ErrApprovalNotPending):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, lost)

	got, err := s.GetApproval(context.Background(), step.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusApproved, got.Status)
}

func TestPostgresResolveApproval_StaleChainVersion(t *testing.T) {
	s := openTestStore(t)
	_, step := seedPendingOrder(t, s)

	err := s.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.ResolveApproval(context.Background(), ApprovalResolution{
			ApprovalID:   step.ID,
			ChainVersion: 2,
			Status:       ApprovalStatusApproved,
			ApproverID:   "head",
			ResolvedAt:   time.Now(),
		})
		return err
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	got, err := s.GetApproval(context.Background(), step.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusPending, got.Status)
}
