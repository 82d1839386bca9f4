package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rahulmenon/orderdesk/internal/domain"
)

// Repository persists orders. Every status mutation is a single
// conditional UPDATE keyed on the current state, so concurrent actors
// (customer cancel, admin ship, webhook capture) cannot overwrite each
// other; the loser of a race simply affects zero rows.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// nextOrderNumber draws the order-number sequence inside the caller's
// transaction. The number is human-readable and unique; a failed draw
// aborts the whole order insert and is safe to retry.
func nextOrderNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("draw order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%06d", now.UTC().Format("20060102"), n), nil
}

// Create inserts the order header and its items and runs clearCart in
// the same transaction. Either everything becomes visible or nothing
// does, and the cart survives any failure.
func (r *Repository) Create(ctx context.Context, order *domain.Order, clearCart func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	order.OrderNumber, err = nextOrderNumber(ctx, tx, order.CreatedAt)
	if err != nil {
		return err
	}

	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}
	billingJSON, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status, payment_status, payment_method,
			subtotal, shipping_amount, tax_amount, discount_amount, total_amount,
			shipping_address, billing_address, coupon_code, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`,
		order.ID, order.OrderNumber, order.UserID, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.Subtotal, order.ShippingAmount, order.TaxAmount, order.DiscountAmount, order.TotalAmount,
		shippingJSON, billingJSON, nullable(order.CouponCode), nullable(order.Notes),
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, variant_id, product_name, product_image,
				quantity, unit_price, total_price
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			item.ID, order.ID, item.ProductID, nullable(item.VariantID),
			item.ProductName, nullable(item.ProductImage),
			item.Quantity, item.UnitPrice, item.TotalPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if clearCart != nil {
		if err := clearCart(ctx, tx); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
	}

	return tx.Commit()
}

const orderColumns = `
	id, order_number, user_id, status, payment_status, payment_method,
	subtotal, shipping_amount, tax_amount, discount_amount, total_amount,
	shipping_address, billing_address,
	COALESCE(razorpay_order_id, ''), COALESCE(razorpay_payment_id, ''),
	COALESCE(tracking_number, ''), COALESCE(tracking_url, ''),
	COALESCE(coupon_code, ''), COALESCE(notes, ''), COALESCE(cancellation_reason, ''),
	created_at, updated_at, confirmed_at, shipped_at, delivered_at, cancelled_at, paid_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o                         domain.Order
		shippingJSON, billingJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Subtotal, &o.ShippingAmount, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&shippingJSON, &billingJSON,
		&o.RazorpayOrderID, &o.RazorpayPaymentID,
		&o.TrackingNumber, &o.TrackingURL,
		&o.CouponCode, &o.Notes, &o.CancellationReason,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	return &o, nil
}

// GetByID returns (nil, nil) when the order does not exist.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, COALESCE(variant_id, ''), product_name, COALESCE(product_image, ''),
			quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.ProductName, &it.ProductImage,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	UserID        string
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
}

// List returns a page of orders (without items) plus the total count for
// pagination metadata.
func (r *Repository) List(ctx context.Context, f ListFilter, page, perPage int) ([]domain.Order, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.PaymentStatus != "" {
		args = append(args, f.PaymentStatus)
		where += fmt.Sprintf(" AND payment_status = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders `+where+`
		ORDER BY created_at DESC
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// Cancel flips a pending or confirmed order to cancelled. Reports false
// when the order had already moved on.
func (r *Repository) Cancel(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'cancelled',
			cancellation_reason = $2,
			cancelled_at = COALESCE(cancelled_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
	`, id, reason)
	return applied(res, err)
}

// MarkReturned records a return request on a delivered order.
func (r *Repository) MarkReturned(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'returned',
			cancellation_reason = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'delivered'
	`, id, reason)
	return applied(res, err)
}

// ApproveReturn moves a returned order to refunded and flips the payment
// state with it.
func (r *Repository) ApproveReturn(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'refunded',
			payment_status = 'refunded',
			updated_at = NOW()
		WHERE id = $1 AND status = 'returned'
	`, id)
	return applied(res, err)
}

// RejectReturn reverts a returned order to delivered. delivered_at is
// untouched so the original return window still applies.
func (r *Repository) RejectReturn(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'delivered',
			cancellation_reason = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'returned'
	`, id, reason)
	return applied(res, err)
}

// MarkShipped sets tracking details and advances to shipped. shipped_at
// is stamped once; repeated tracking updates keep the first timestamp.
func (r *Repository) MarkShipped(ctx context.Context, id, trackingNumber, trackingURL string, from domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'shipped',
			tracking_number = COALESCE(NULLIF($2, ''), tracking_number),
			tracking_url = COALESCE(NULLIF($3, ''), tracking_url),
			shipped_at = COALESCE(shipped_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, trackingNumber, trackingURL, from)
	return applied(res, err)
}

// MarkDelivered advances to delivered, stamping delivered_at exactly once.
func (r *Repository) MarkDelivered(ctx context.Context, id string, from domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'delivered',
			delivered_at = COALESCE(delivered_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from)
	return applied(res, err)
}

// UpdateStatus performs an admin status move with an optimistic
// precondition on the current status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN COALESCE(confirmed_at, NOW()) ELSE confirmed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	return applied(res, err)
}

// SetGatewayOrder records the payment-gateway order id. The linkage is
// written once; a retry after a timeout reuses the stored id instead of
// creating a second gateway order.
func (r *Repository) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET razorpay_order_id = $2,
			payment_method = 'razorpay',
			updated_at = NOW()
		WHERE id = $1 AND razorpay_order_id IS NULL
	`, id, gatewayOrderID)
	return applied(res, err)
}

// MarkPaid applies a payment capture. The update is idempotent and only
// moves forward: paid_at is stamped once, and status advances to
// confirmed only from pending so a shipped order is never regressed.
func (r *Repository) MarkPaid(ctx context.Context, id, gatewayPaymentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'paid',
			razorpay_payment_id = COALESCE(razorpay_payment_id, NULLIF($2, '')),
			paid_at = COALESCE(paid_at, NOW()),
			confirmed_at = CASE WHEN status = 'pending' THEN COALESCE(confirmed_at, NOW()) ELSE confirmed_at END,
			status = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')
	`, id, gatewayPaymentID)
	return applied(res, err)
}

// MarkPaymentFailed records a failed payment. Only a pending payment can
// fail; a captured payment is never downgraded by a late failure event.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'failed',
			updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`, id)
	return applied(res, err)
}

func applied(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
