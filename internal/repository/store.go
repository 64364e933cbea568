package repository

import (
	"context"
)

// Reader exposes the lookups shared by the pool and open transactions.
type Reader interface {
	ListApprovalDepartments(ctx context.Context) ([]*Department, error)
	GetDepartment(ctx context.Context, id string) (*Department, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListApprovals(ctx context.Context, orderID string) ([]*Approval, error)
	GetApproval(ctx context.Context, id string) (*Approval, error)
	ListAudit(ctx context.Context, orderID string) ([]*AuditEntry, error)
}

// Tx is the write surface available inside Store.InTx. Every method runs in
// the same transaction; nothing is visible to other readers until fn returns.
type Tx interface {
	Reader

	// InsertOrder persists the order header and its items.
	InsertOrder(ctx context.Context, order *Order) error
	// UpdateOrderPayload rewrites the mutable fields, items, department and
	// chain_version of a rejected order whose stored chain_version is exactly
	// one below the new one. Returns ErrInvalidState otherwise.
	UpdateOrderPayload(ctx context.Context, order *Order) error
	// UpdateOrderStatus moves the order to status only while it still has
	// chainVersion and is not completed. Returns ErrInvalidState otherwise.
	UpdateOrderStatus(ctx context.Context, orderID string, chainVersion int, status OrderStatus) error
	// CompleteOrder sets completed only while the order is approved.
	CompleteOrder(ctx context.Context, orderID, completedBy string) (*Order, error)

	InsertApprovals(ctx context.Context, approvals []*Approval) error
	DeleteApprovals(ctx context.Context, orderID string) (int64, error)
	// ResolveApproval is the compare-and-set write: it succeeds only while the
	// approval is still pending on the given chain version, and returns
	// ErrApprovalNotPending after somebody else acted.
	ResolveApproval(ctx context.Context, res ApprovalResolution) (*Approval, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// Store is the storage backend used by the service layer.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// DirectoryWriter maintains the department/user directory. Only the seed
// command writes here; the approval workflow never mutates the directory.
type DirectoryWriter interface {
	UpsertDepartment(ctx context.Context, d *Department) error
	UpsertUser(ctx context.Context, u *User) error
}
