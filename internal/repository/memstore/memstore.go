// Package memstore is an in-process repository.Store used by tests and by the
// server's STORE_BACKEND=memory development mode. Transactions work on a
// private copy of the data that is published atomically on success, so
// readers never observe a partially applied transition and are never blocked
// by writers.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

type state struct {
	departments map[string]*repository.Department
	users       map[string]*repository.User
	orders      map[string]*repository.Order
	approvals   map[string]*repository.Approval
	audit       []*repository.AuditEntry
}

func newState() *state {
	return &state{
		departments: map[string]*repository.Department{},
		users:       map[string]*repository.User{},
		orders:      map[string]*repository.Order{},
		approvals:   map[string]*repository.Approval{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.departments {
		d := *v
		c.departments[k] = &d
	}
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.approvals {
		c.approvals[k] = v.Clone()
	}
	c.audit = append([]*repository.AuditEntry(nil), s.audit...)
	return c
}

// Store is the in-memory repository.Store.
type Store struct {
	current atomic.Pointer[state]
	writeMu sync.Mutex

	failMu sync.Mutex
	fail   map[string]error

	now func() time.Time
}

var (
	_ repository.Store           = (*Store)(nil)
	_ repository.DirectoryWriter = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	s := &Store{fail: map[string]error{}, now: time.Now}
	s.current.Store(newState())
	return s
}

// FailOn makes the next call of the named Tx method return err, after which
// the injection is cleared. Used to prove transactional rollback.
func (s *Store) FailOn(method string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.fail[method] = err
}

func (s *Store) injected(method string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err, ok := s.fail[method]; ok {
		delete(s.fail, method)
		return err
	}
	return nil
}

// InTx runs fn against a private copy and publishes it only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := s.current.Load().clone()
	if err := fn(&tx{view: view{st: draft}, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.current.Store(draft)
	return nil
}

func (s *Store) snapshot() view { return view{st: s.current.Load()} }

func (s *Store) ListApprovalDepartments(ctx context.Context) ([]*repository.Department, error) {
	return s.snapshot().ListApprovalDepartments(ctx)
}

func (s *Store) GetDepartment(ctx context.Context, id string) (*repository.Department, error) {
	return s.snapshot().GetDepartment(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id string) (*repository.User, error) {
	return s.snapshot().GetUser(ctx, id)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*repository.Order, error) {
	return s.snapshot().GetOrder(ctx, id)
}

func (s *Store) ListApprovals(ctx context.Context, orderID string) ([]*repository.Approval, error) {
	return s.snapshot().ListApprovals(ctx, orderID)
}

func (s *Store) GetApproval(ctx context.Context, id string) (*repository.Approval, error) {
	return s.snapshot().GetApproval(ctx, id)
}

func (s *Store) ListAudit(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	return s.snapshot().ListAudit(ctx, orderID)
}

// UpsertDepartment writes a catalog row.
func (s *Store) UpsertDepartment(ctx context.Context, d *repository.Department) error {
	return s.InTx(ctx, func(t repository.Tx) error {
		st := t.(*tx).st
		for _, other := range st.departments {
			if other.ID != d.ID && other.ApprovalOrder == d.ApprovalOrder {
				return errors.InvalidInput("approval_order", "approval_order is already used by another department")
			}
		}
		now := s.now()
		cp := *d
		if existing, ok := st.departments[d.ID]; ok {
			cp.CreatedAt = existing.CreatedAt
		} else {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		st.departments[d.ID] = &cp
		d.CreatedAt, d.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
		return nil
	})
}

// UpsertUser writes a directory user.
func (s *Store) UpsertUser(ctx context.Context, u *repository.User) error {
	return s.InTx(ctx, func(t repository.Tx) error {
		st := t.(*tx).st
		now := s.now()
		cp := *u
		if existing, ok := st.users[u.ID]; ok {
			cp.CreatedAt = existing.CreatedAt
		} else {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		st.users[u.ID] = &cp
		u.CreatedAt, u.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
		return nil
	})
}

// ── read view ─────────────────────────────────────────────────────────────────

type view struct {
	st *state
}

func (v view) ListApprovalDepartments(_ context.Context) ([]*repository.Department, error) {
	var out []*repository.Department
	for _, d := range v.st.departments {
		if d.RequiresApproval {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalOrder < out[j].ApprovalOrder })
	return out, nil
}

func (v view) GetDepartment(_ context.Context, id string) (*repository.Department, error) {
	d, ok := v.st.departments[id]
	if !ok {
		return nil, errors.NotFound("department", id)
	}
	cp := *d
	return &cp, nil
}

func (v view) GetUser(_ context.Context, id string) (*repository.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (v view) GetOrder(_ context.Context, id string) (*repository.Order, error) {
	o, ok := v.st.orders[id]
	if !ok {
		return nil, errors.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (v view) ListApprovals(_ context.Context, orderID string) ([]*repository.Approval, error) {
	var out []*repository.Approval
	for _, a := range v.st.approvals {
		if a.OrderID == orderID {
			out = append(out, v.withDepartment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalOrder < out[j].ApprovalOrder })
	return out, nil
}

func (v view) GetApproval(_ context.Context, id string) (*repository.Approval, error) {
	a, ok := v.st.approvals[id]
	if !ok {
		return nil, errors.NotFound("approval", id)
	}
	return v.withDepartment(a), nil
}

func (v view) ListAudit(_ context.Context, orderID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range v.st.audit {
		if e.OrderID == orderID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (v view) withDepartment(a *repository.Approval) *repository.Approval {
	cp := a.Clone()
	if d, ok := v.st.departments[a.DepartmentID]; ok {
		cp.DepartmentName = d.Name
	}
	return cp
}

// ── write transaction ─────────────────────────────────────────────────────────

type tx struct {
	view
	store *Store
}

func (t *tx) InsertOrder(_ context.Context, order *repository.Order) error {
	if err := t.store.injected("InsertOrder"); err != nil {
		return err
	}
	if _, exists := t.st.orders[order.ID]; exists {
		return errors.New(errors.ErrCodeInvalidState, "order already exists")
	}
	now := t.store.now()
	order.CreatedAt, order.UpdatedAt = now, now
	t.st.orders[order.ID] = order.Clone()
	return nil
}

func (t *tx) UpdateOrderPayload(_ context.Context, order *repository.Order) error {
	if err := t.store.injected("UpdateOrderPayload"); err != nil {
		return err
	}
	existing, ok := t.st.orders[order.ID]
	if !ok || existing.Status != repository.OrderStatusRejected || existing.ChainVersion != order.ChainVersion-1 {
		return errors.New(errors.ErrCodeInvalidState, "order changed while it was being resubmitted")
	}
	order.UpdatedAt = t.store.now()
	updated := order.Clone()
	updated.Status = existing.Status
	updated.CreatedAt = existing.CreatedAt
	updated.CompletedBy, updated.CompletedAt = existing.CompletedBy, existing.CompletedAt
	t.st.orders[order.ID] = updated
	return nil
}

func (t *tx) UpdateOrderStatus(_ context.Context, orderID string, chainVersion int, status repository.OrderStatus) error {
	if err := t.store.injected("UpdateOrderStatus"); err != nil {
		return err
	}
	o, ok := t.st.orders[orderID]
	if !ok || o.ChainVersion != chainVersion || o.Status == repository.OrderStatusCompleted {
		return errors.New(errors.ErrCodeInvalidState, "order changed while the transition was applied")
	}
	o.Status = status
	o.UpdatedAt = t.store.now()
	return nil
}

func (t *tx) CompleteOrder(ctx context.Context, orderID, completedBy string) (*repository.Order, error) {
	if err := t.store.injected("CompleteOrder"); err != nil {
		return nil, err
	}
	o, ok := t.st.orders[orderID]
	if !ok || o.Status != repository.OrderStatusApproved {
		return nil, errors.New(errors.ErrCodeInvalidState, "only approved orders can be completed")
	}
	now := t.store.now()
	by := completedBy
	o.Status = repository.OrderStatusCompleted
	o.CompletedBy = &by
	o.CompletedAt = &now
	o.UpdatedAt = now
	return t.GetOrder(ctx, orderID)
}

func (t *tx) InsertApprovals(_ context.Context, approvals []*repository.Approval) error {
	if err := t.store.injected("InsertApprovals"); err != nil {
		return err
	}
	now := t.store.now()
	for _, a := range approvals {
		for _, other := range t.st.approvals {
			if other.OrderID == a.OrderID && other.ApprovalOrder == a.ApprovalOrder {
				return errors.New(errors.ErrCodeInternal, "duplicate approval rank within chain")
			}
		}
		a.CreatedAt, a.UpdatedAt = now, now
		t.st.approvals[a.ID] = a.Clone()
	}
	return nil
}

func (t *tx) DeleteApprovals(_ context.Context, orderID string) (int64, error) {
	if err := t.store.injected("DeleteApprovals"); err != nil {
		return 0, err
	}
	var n int64
	for id, a := range t.st.approvals {
		if a.OrderID == orderID {
			delete(t.st.approvals, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) ResolveApproval(ctx context.Context, res repository.ApprovalResolution) (*repository.Approval, error) {
	if err := t.store.injected("ResolveApproval"); err != nil {
		return nil, err
	}
	a, ok := t.st.approvals[res.ApprovalID]
	if !ok || a.ChainVersion != res.ChainVersion {
		return nil, errors.NotFound("approval", res.ApprovalID)
	}
	if a.Status != repository.ApprovalStatusPending {
		return nil, errors.New(errors.ErrCodeApprovalNotPending, "approval was already processed by someone else")
	}
	approver := res.ApproverID
	at := res.ResolvedAt
	a.Status = res.Status
	a.ApproverID = &approver
	a.ApprovedAt = &at
	if res.Comments != nil {
		c := *res.Comments
		a.Comments = &c
	} else {
		a.Comments = nil
	}
	a.UpdatedAt = t.store.now()
	return t.GetApproval(ctx, res.ApprovalID)
}

func (t *tx) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	if err := t.store.injected("AppendAudit"); err != nil {
		return err
	}
	entry.PerformedAt = t.store.now()
	cp := *entry
	t.st.audit = append(t.st.audit, &cp)
	return nil
}
