package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-po-approvals/internal/database"
)

// queries bundles every repository bound to one Querier, either the pool or
// an open transaction.
type queries struct {
	*DirectoryRepository
	*OrderRepository
	*ApprovalRepository
	*ApprovalAuditRepository
}

func newQueries(q database.Querier) *queries {
	return &queries{
		DirectoryRepository:     NewDirectoryRepository(q),
		OrderRepository:         NewOrderRepository(q),
		ApprovalRepository:      NewApprovalRepository(q),
		ApprovalAuditRepository: NewApprovalAuditRepository(q),
	}
}

// PostgresStore implements Store on top of a pgx pool. Order, chain and audit
// writes of one transition always share a single transaction.
type PostgresStore struct {
	*queries
	db *database.DB
}

var (
	_ Store           = (*PostgresStore)(nil)
	_ DirectoryWriter = (*PostgresStore)(nil)
	_ Tx              = (*queries)(nil)
)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		queries: newQueries(db),
		db:      db,
	}
}

// InTx runs fn in one database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newQueries(tx))
	})
}
