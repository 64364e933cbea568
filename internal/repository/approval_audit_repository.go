package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-po-approvals/internal/database"
	"github.com/pesio-ai/be-po-approvals/internal/errors"
)

// ApprovalAuditRepository appends and reads immutable order audit log entries.
type ApprovalAuditRepository struct {
	db database.Querier
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db database.Querier) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// AppendAudit inserts one audit entry. This is the only mutation the log
// supports.
func (r *ApprovalAuditRepository) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO order_approval_audit_log
		    (id, order_id, approval_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8)
		RETURNING performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.OrderID,
		entry.ApprovalID,
		entry.Action,
		entry.PerformedBy,
		statusPtrString(entry.StatusBefore),
		statusPtrString(entry.StatusAfter),
		metadataJSON,
	).Scan(&entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListAudit returns the full audit trail for an order ordered oldest-first.
func (r *ApprovalAuditRepository) ListAudit(ctx context.Context, orderID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, order_id, approval_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM order_approval_audit_log
		WHERE order_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanEntries(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalAuditRepository) scanEntries(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalAuditRepository) scanEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var before, after *string
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.OrderID,
		&entry.ApprovalID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&before,
		&after,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	entry.StatusBefore = stringPtrStatus(before)
	entry.StatusAfter = stringPtrStatus(after)

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}

func statusPtrString(s *OrderStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func stringPtrStatus(s *string) *OrderStatus {
	if s == nil {
		return nil
	}
	v := OrderStatus(*s)
	return &v
}
