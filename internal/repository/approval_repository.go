package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-po-approvals/internal/database"
	"github.com/pesio-ai/be-po-approvals/internal/errors"
)

// ApprovalRepository handles reads and the single resolving write on
// individual approval steps. Chain creation and replacement go through
// InsertApprovals / DeleteApprovals inside a transaction.
type ApprovalRepository struct {
	db database.Querier
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db database.Querier) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	a.id, a.order_id, a.department_id, d.name,
	a.approval_order, a.chain_version, a.status,
	a.approver_id, a.approved_at, a.comments,
	a.created_at, a.updated_at
`

// ListApprovals returns the live chain of an order ordered by approval_order.
func (r *ApprovalRepository) ListApprovals(ctx context.Context, orderID string) ([]*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM order_approvals a
		JOIN departments d ON d.id = a.department_id
		WHERE a.order_id = $1
		ORDER BY a.approval_order ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetApproval returns one approval step.
func (r *ApprovalRepository) GetApproval(ctx context.Context, id string) (*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM order_approvals a
		JOIN departments d ON d.id = a.department_id
		WHERE a.id = $1
	`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval")
	}
	return a, nil
}

// InsertApprovals writes a freshly built chain. Run inside a transaction so
// the batch is all-or-nothing.
func (r *ApprovalRepository) InsertApprovals(ctx context.Context, approvals []*Approval) error {
	query := `
		INSERT INTO order_approvals
		    (id, order_id, department_id, approval_order, chain_version,
		     status, approver_id, approved_at, comments)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	for _, a := range approvals {
		err := r.db.QueryRow(ctx, query,
			a.ID,
			a.OrderID,
			a.DepartmentID,
			a.ApprovalOrder,
			a.ChainVersion,
			string(a.Status),
			a.ApproverID,
			a.ApprovedAt,
			a.Comments,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
		}
	}
	return nil
}

// DeleteApprovals removes the whole chain of an order.
func (r *ApprovalRepository) DeleteApprovals(ctx context.Context, orderID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM order_approvals WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approvals")
	}
	return tag.RowsAffected(), nil
}

// ResolveApproval records the outcome of an approve or reject action. The
// update only matches while the row is still pending on the expected chain
// version, so of two concurrent callers exactly one wins.
func (r *ApprovalRepository) ResolveApproval(ctx context.Context, res ApprovalResolution) (*Approval, error) {
	query := `
		UPDATE order_approvals
		SET status      = $2,
		    approver_id = $3,
		    approved_at = $4,
		    comments    = $5,
		    updated_at  = NOW()
		WHERE id = $1
		  AND chain_version = $6
		  AND status = 'pending'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query,
		res.ApprovalID,
		string(res.Status),
		res.ApproverID,
		res.ResolvedAt,
		res.Comments,
		res.ChainVersion,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		// Distinguish a lost race from a chain that was replaced underneath us.
		current, getErr := r.GetApproval(ctx, res.ApprovalID)
		if getErr != nil {
			return nil, getErr
		}
		if current.ChainVersion != res.ChainVersion {
			return nil, errors.NotFound("approval", res.ApprovalID)
		}
		return nil, errors.New(errors.ErrCodeApprovalNotPending, "approval was already processed by someone else")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve approval")
	}

	return r.GetApproval(ctx, res.ApprovalID)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	var status string
	err := row.Scan(
		&a.ID,
		&a.OrderID,
		&a.DepartmentID,
		&a.DepartmentName,
		&a.ApprovalOrder,
		&a.ChainVersion,
		&status,
		&a.ApproverID,
		&a.ApprovedAt,
		&a.Comments,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status, err = ParseApprovalStatus(status)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *ApprovalRepository) scanRows(rows pgx.Rows) ([]*Approval, error) {
	var approvals []*Approval
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approvals")
	}
	return approvals, nil
}
