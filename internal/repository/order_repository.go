package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-po-approvals/internal/database"
	"github.com/pesio-ai/be-po-approvals/internal/errors"
)

// OrderRepository handles purchase order data operations
type OrderRepository struct {
	db database.Querier
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db database.Querier) *OrderRepository {
	return &OrderRepository{db: db}
}

// InsertOrder creates the order header and its item lines. Callers run it
// inside a transaction together with the chain insert.
func (r *OrderRepository) InsertOrder(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO purchase_orders (id, applicant_id, department_id, currency,
		                             subtotal, tax_rate, tax_amount, retention_rate, retention, total,
		                             justification, evidence_urls, status, chain_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.ID,
		order.ApplicantID,
		order.DepartmentID,
		order.Currency,
		order.Subtotal,
		order.TaxRate,
		order.TaxAmount,
		order.RetentionRate,
		order.Retention,
		order.Total,
		order.Justification,
		nonNilStrings(order.EvidenceURLs),
		string(order.Status),
		order.ChainVersion,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return errors.New(errors.ErrCodeInvalidState, "order already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order")
	}

	return r.insertItems(ctx, order)
}

// UpdateOrderPayload rewrites the mutable fields of a rejected order, replaces
// its items and stores the new chain version and applicant department. The
// row only matches while it still carries the previous chain version, so of
// two concurrent resubmissions exactly one applies.
func (r *OrderRepository) UpdateOrderPayload(ctx context.Context, order *Order) error {
	query := `
		UPDATE purchase_orders
		SET currency       = $2,
		    subtotal       = $3,
		    tax_rate       = $4,
		    tax_amount     = $5,
		    retention_rate = $6,
		    retention      = $7,
		    total          = $8,
		    justification  = $9,
		    evidence_urls  = $10,
		    chain_version  = $11,
		    department_id  = $12,
		    updated_at     = NOW()
		WHERE id = $1
		  AND chain_version = $11 - 1
		  AND status = 'rejected'
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.ID,
		order.Currency,
		order.Subtotal,
		order.TaxRate,
		order.TaxAmount,
		order.RetentionRate,
		order.Retention,
		order.Total,
		order.Justification,
		nonNilStrings(order.EvidenceURLs),
		order.ChainVersion,
		order.DepartmentID,
	).Scan(&order.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeInvalidState, "order changed while it was being resubmitted")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order")
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, order.ID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete order items")
	}
	return r.insertItems(ctx, order)
}

// UpdateOrderStatus writes a derived status, guarded by the chain version so
// a transition computed against a discarded chain never lands.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID string, chainVersion int, status OrderStatus) error {
	query := `
		UPDATE purchase_orders
		SET status     = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND chain_version = $2
		  AND status <> 'completed'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, orderID, chainVersion, string(status)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeInvalidState, "order changed while the transition was applied")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order status")
	}
	return nil
}

// CompleteOrder marks an approved order completed.
func (r *OrderRepository) CompleteOrder(ctx context.Context, orderID, completedBy string) (*Order, error) {
	query := `
		UPDATE purchase_orders
		SET status       = 'completed',
		    completed_by = $2,
		    completed_at = NOW(),
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = 'approved'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, orderID, completedBy).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeInvalidState, "only approved orders can be completed")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to complete order")
	}
	return r.GetOrder(ctx, orderID)
}

// GetOrder retrieves an order by ID with all items
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `
		SELECT id, applicant_id, department_id, currency,
		       subtotal, tax_rate, tax_amount, retention_rate, retention, total,
		       justification, evidence_urls, status, chain_version,
		       completed_by, completed_at, created_at, updated_at
		FROM purchase_orders
		WHERE id = $1
	`

	order := &Order{}
	var status string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.ApplicantID,
		&order.DepartmentID,
		&order.Currency,
		&order.Subtotal,
		&order.TaxRate,
		&order.TaxAmount,
		&order.RetentionRate,
		&order.Retention,
		&order.Total,
		&order.Justification,
		&order.EvidenceURLs,
		&status,
		&order.ChainVersion,
		&order.CompletedBy,
		&order.CompletedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order")
	}

	order.Status, err = ParseOrderStatus(status)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "order has a non-canonical status; run normalize-statuses")
	}

	itemsQuery := `
		SELECT line_number, name, quantity, unit, unit_price
		FROM purchase_order_items
		WHERE order_id = $1
		ORDER BY line_number
	`

	rows, err := r.db.Query(ctx, itemsQuery, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order items")
	}
	defer rows.Close()

	for rows.Next() {
		item := &OrderItem{}
		if err := rows.Scan(&item.LineNumber, &item.Name, &item.Quantity, &item.Unit, &item.UnitPrice); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order item")
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order items")
	}

	return order, nil
}

// NormalizeLegacyStatuses rewrites every known legacy status spelling to its
// canonical value and returns the number of rows changed.
func (r *OrderRepository) NormalizeLegacyStatuses(ctx context.Context) (int64, error) {
	var total int64
	for legacy, canonical := range legacyOrderStatuses {
		tag, err := r.db.Exec(ctx,
			`UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE lower(trim(status)) = $1 AND status <> $2`,
			legacy, string(canonical))
		if err != nil {
			return total, errors.Wrap(err, errors.ErrCodeInternal, "failed to normalize order statuses")
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (r *OrderRepository) insertItems(ctx context.Context, order *Order) error {
	itemQuery := `
		INSERT INTO purchase_order_items (order_id, line_number, name, quantity, unit, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, item := range order.Items {
		_, err := r.db.Exec(ctx, itemQuery,
			order.ID,
			item.LineNumber,
			item.Name,
			item.Quantity,
			item.Unit,
			item.UnitPrice,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order item")
		}
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
