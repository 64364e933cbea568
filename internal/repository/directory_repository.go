package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-po-approvals/internal/database"
	"github.com/pesio-ai/be-po-approvals/internal/errors"
)

// DirectoryRepository reads the department catalog and the user directory.
// Departments are shared across every order and are never mutated by the
// approval workflow.
type DirectoryRepository struct {
	db database.Querier
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db database.Querier) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListApprovalDepartments returns the departments that take part in approval
// chains, ordered by approval_order ascending.
func (r *DirectoryRepository) ListApprovalDepartments(ctx context.Context) ([]*Department, error) {
	query := `
		SELECT id, name, requires_approval, approval_order, created_at, updated_at
		FROM departments
		WHERE requires_approval = TRUE
		ORDER BY approval_order ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval departments")
	}
	defer rows.Close()

	var departments []*Department
	for rows.Next() {
		d, err := r.scanDepartment(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan department")
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval departments")
	}
	return departments, nil
}

// GetDepartment retrieves a department by primary key.
func (r *DirectoryRepository) GetDepartment(ctx context.Context, id string) (*Department, error) {
	query := `
		SELECT id, name, requires_approval, approval_order, created_at, updated_at
		FROM departments
		WHERE id = $1
	`

	d, err := r.scanDepartment(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("department", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get department")
	}
	return d, nil
}

// GetUser retrieves a directory user.
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, name, department_id, is_department_head, is_admin, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Name,
		&u.DepartmentID,
		&u.IsDepartmentHead,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// UpsertDepartment inserts or updates a catalog row.
func (r *DirectoryRepository) UpsertDepartment(ctx context.Context, d *Department) error {
	query := `
		INSERT INTO departments (id, name, requires_approval, approval_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name              = EXCLUDED.name,
		    requires_approval = EXCLUDED.requires_approval,
		    approval_order    = EXCLUDED.approval_order,
		    updated_at        = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, d.ID, d.Name, d.RequiresApproval, d.ApprovalOrder).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return errors.InvalidInput("approval_order", "approval_order is already used by another department")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert department")
	}
	return nil
}

// UpsertUser inserts or updates a directory user.
func (r *DirectoryRepository) UpsertUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, name, department_id, is_department_head, is_admin)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name               = EXCLUDED.name,
		    department_id      = EXCLUDED.department_id,
		    is_department_head = EXCLUDED.is_department_head,
		    is_admin           = EXCLUDED.is_admin,
		    updated_at         = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, u.ID, u.Name, u.DepartmentID, u.IsDepartmentHead, u.IsAdmin).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert user")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type departmentScanner interface {
	Scan(dest ...any) error
}

func (r *DirectoryRepository) scanDepartment(row departmentScanner) (*Department, error) {
	d := &Department{}
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.RequiresApproval,
		&d.ApprovalOrder,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
