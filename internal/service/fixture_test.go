package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
	"github.com/pesio-ai/be-po-approvals/internal/repository/memstore"
)

const testCatalog = `
departments:
  - id: site
    name: Site Operations
    requires_approval: true
    approval_order: 1
  - id: warehouse
    name: Warehouse
    requires_approval: false
    approval_order: 2
  - id: purchasing
    name: Purchasing
    requires_approval: true
    approval_order: 3
  - id: finance
    name: Finance
    requires_approval: true
    approval_order: 4
users:
  - id: head-site
    department: site
    head: true
  - id: eng-site
    department: site
  - id: head-purchasing
    department: purchasing
    head: true
  - id: buyer
    department: purchasing
  - id: head-finance
    department: finance
    head: true
  - id: clerk-warehouse
    department: warehouse
  - id: drifter
  - id: admin
    admin: true
`

// eligibilityFunc adapts a function to EligibilityResolver.
type eligibilityFunc func(ctx context.Context, userID, orderID string) (bool, error)

func (f eligibilityFunc) CanApprove(ctx context.Context, userID, orderID string) (bool, error) {
	return f(ctx, userID, orderID)
}

var allowAll = eligibilityFunc(func(context.Context, string, string) (bool, error) { return true, nil })

type fakeEvidence struct {
	mu      sync.Mutex
	fail    map[string]error
	uploads []string
}

func (f *fakeEvidence) Upload(_ context.Context, orderID, filename string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[filename]; err != nil {
		return "", err
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	uri := fmt.Sprintf("evidence://%s/%s", orderID, filename)
	f.uploads = append(f.uploads, uri)
	return uri, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store    *memstore.Store
	orders   *OrderService
	engine   *ApprovalEngine
	resubmit *ResubmissionCoordinator
	evidence *fakeEvidence
	events   *recordedEvents
	eligible EligibilityResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	catalog, err := repository.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(context.Background(), store))

	f := &fixture{
		store:    store,
		evidence: &fakeEvidence{fail: map[string]error{}},
		events:   &recordedEvents{},
		eligible: allowAll,
	}
	log := logger.Nop()
	builder := NewChainBuilder(log)
	defaults := OrderDefaults{Currency: "MXN", TaxRate: decimal.RequireFromString("0.16")}
	f.orders = NewOrderService(store, builder, f.evidence, f.events, defaults, log)
	f.engine = NewApprovalEngine(store, eligibilityFunc(func(ctx context.Context, userID, orderID string) (bool, error) {
		return f.eligible.CanApprove(ctx, userID, orderID)
	}), f.events, log)
	f.resubmit = NewResubmissionCoordinator(store, builder, f.evidence, f.events, log)
	return f
}

func validPayload() OrderPayload {
	return OrderPayload{
		Justification: "Rebar for slab pour on level 3",
		Items: []ItemPayload{
			{Name: "Rebar #4", Quantity: decimal.NewFromInt(120), Unit: "pz", UnitPrice: decimal.RequireFromString("85.50")},
			{Name: "Tie wire", Quantity: decimal.NewFromInt(10), Unit: "kg", UnitPrice: decimal.RequireFromString("42")},
		},
	}
}

func (f *fixture) create(t *testing.T, applicant string) *OrderDetail {
	t.Helper()
	detail, err := f.orders.CreateOrder(context.Background(), Actor{UserID: applicant}, &CreateOrderRequest{Payload: validPayload()})
	require.NoError(t, err)
	return detail
}

func (f *fixture) chain(t *testing.T, orderID string) []*repository.Approval {
	t.Helper()
	approvals, err := f.store.ListApprovals(context.Background(), orderID)
	require.NoError(t, err)
	return approvals
}

func (f *fixture) order(t *testing.T, orderID string) *repository.Order {
	t.Helper()
	order, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func ranks(approvals []*repository.Approval) []int {
	out := make([]int, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, a.ApprovalOrder)
	}
	return out
}

func departments(approvals []*repository.Approval) []string {
	out := make([]string, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, a.DepartmentID)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
