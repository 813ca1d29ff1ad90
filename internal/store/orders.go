package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/khalidw/consultly/internal/auth"
	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/models"
	"github.com/khalidw/consultly/internal/pricing"
)

const orderColumns = `id, user_id, order_number, status, total_amount, currency,
	shipping_address, phone, customer_notes, admin_notes, tracking_number,
	estimated_delivery_date, payment_status, payment_method, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }, o *models.Order) error {
	return row.Scan(
		&o.ID,
		&o.UserID,
		&o.OrderNumber,
		&o.Status,
		&o.TotalAmount,
		&o.Currency,
		&o.ShippingAddress,
		&o.Phone,
		&o.CustomerNotes,
		&o.AdminNotes,
		&o.TrackingNumber,
		&o.EstimatedDelivery,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

type CheckoutRequest struct {
	UserID          int64
	ShippingAddress string
	Phone           string
	Notes           string
	PaymentMethod   string
	Currency        string
	// IdempotencyKey makes retried checkouts safe: a replay returns the
	// order created by the first attempt instead of inserting another.
	IdempotencyKey string
}

// Checkout converts the user's cart into an order with per-line snapshot
// prices, decrements stock, and clears the cart — all inside one
// serializable transaction. No partial outcome is observable: either the
// order with all of its items exists and the cart is empty, or nothing
// changed.
func Checkout(ctx context.Context, db *sql.DB, req CheckoutRequest) (*models.Order, error) {
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return nil, fmt.Errorf("%w: shipping address is required", database.ErrValidation)
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("%w: phone is required", database.ErrValidation)
	}

	if req.IdempotencyKey != "" {
		existing, err := getOrderByIdempotencyKey(ctx, db, req.IdempotencyKey)
		if err != nil && err != database.ErrOrderNotFound {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "cash_on_delivery"
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT ci.product_id, ci.quantity, p.price
			 FROM cart_items ci
			 JOIN products p ON p.id = ci.product_id
			 WHERE ci.user_id = $1
			 ORDER BY ci.product_id
			 FOR UPDATE OF p`,
			req.UserID)
		if err != nil {
			return fmt.Errorf("lock cart lines: %w", err)
		}

		var lines []pricing.Line
		for rows.Next() {
			var line pricing.Line
			if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart line: %w", err)
			}
			lines = append(lines, line)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		totalAmount := pricing.Total(lines)

		order = &models.Order{}
		err = scanOrder(tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, total_amount, currency,
			     shipping_address, phone, customer_notes, payment_status, payment_method,
			     idempotency_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'unpaid', $9, NULLIF($10, ''), NOW(), NOW())
			 RETURNING `+orderColumns,
			req.UserID, generateOrderNumber(), models.OrderStatusPending, totalAmount, currency,
			req.ShippingAddress, req.Phone, req.Notes, paymentMethod, req.IdempotencyKey), order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, line := range lines {
			var item models.OrderItem
			err = tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())
				 RETURNING id, order_id, product_id, quantity, unit_price, subtotal, created_at`,
				order.ID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal()).Scan(
				&item.ID,
				&item.OrderID,
				&item.ProductID,
				&item.Quantity,
				&item.UnitPrice,
				&item.Subtotal,
				&item.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
			order.Items = append(order.Items, item)

			if err := DecrementStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, req.UserID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return insertOutboxEvent(ctx, tx, "order", order.ID, "order.created", map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"user_id":      order.UserID,
			"total_amount": order.TotalAmount,
			"currency":     order.Currency,
		})
	})
	if err != nil {
		// A concurrent retry with the same idempotency key may have won
		// the race after our pre-check; return its order.
		if req.IdempotencyKey != "" && database.IsUniqueViolation(err, "orders_idempotency_key_key") {
			return getOrderByIdempotencyKey(ctx, db, req.IdempotencyKey)
		}
		return nil, err
	}

	return order, nil
}

func getOrderByIdempotencyKey(ctx context.Context, db *sql.DB, key string) (*models.Order, error) {
	order := &models.Order{}

	err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}

	if err := attachOrderItems(ctx, db, order); err != nil {
		return nil, err
	}

	return order, nil
}

func attachOrderItems(ctx context.Context, db *sql.DB, order *models.Order) error {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	order.Items = items
	return nil
}

// GetOrder loads an order with its items. Customers can only see their own
// orders; an order owned by someone else reads as not found.
func GetOrder(ctx context.Context, db *sql.DB, principal auth.Principal, id int64) (*models.Order, error) {
	order := &models.Order{}

	err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if !principal.IsAdmin() && order.UserID != principal.UserID {
		return nil, database.ErrOrderNotFound
	}

	if err := attachOrderItems(ctx, db, order); err != nil {
		return nil, err
	}

	return order, nil
}

// ListOrders pages orders newest-first with a keyset cursor. Admins see all
// orders; customers only their own.
func ListOrders(ctx context.Context, db *sql.DB, principal auth.Principal, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (created_at, id) < ($1, $2)`
	args := []any{cursorData.CreatedAt, cursorData.ID}

	if !principal.IsAdmin() {
		query += ` AND user_id = $3`
		args = append(args, principal.UserID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

type TransitionOrderRequest struct {
	NewStatus         models.OrderStatus
	AdminNotes        *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	PaymentStatus     *string
}

// TransitionOrder moves an order along its lifecycle. Only admins may call
// it. The status change, operational metadata, and any stock restoration on
// cancellation commit together or not at all.
func TransitionOrder(ctx context.Context, db *sql.DB, principal auth.Principal, orderID int64, req TransitionOrderRequest) (*models.Order, error) {
	if !principal.IsAdmin() {
		return nil, database.ErrForbidden
	}
	if !req.NewStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", database.ErrValidation, req.NewStatus)
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var current models.OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !current.CanTransitionTo(req.NewStatus) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, current, req.NewStatus)
		}

		order = &models.Order{}
		err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1,
			     admin_notes = COALESCE($2, admin_notes),
			     tracking_number = COALESCE($3, tracking_number),
			     estimated_delivery_date = COALESCE($4, estimated_delivery_date),
			     payment_status = COALESCE($5, payment_status),
			     updated_at = NOW()
			 WHERE id = $6
			 RETURNING `+orderColumns,
			req.NewStatus, req.AdminNotes, req.TrackingNumber, req.EstimatedDelivery,
			req.PaymentStatus, orderID), order)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		// Checkout reserved the stock; cancellation gives it back.
		if req.NewStatus == models.OrderStatusCancelled {
			if err := restoreOrderStock(ctx, tx, orderID); err != nil {
				return err
			}
		}

		return insertOutboxEvent(ctx, tx, "order", orderID, "order.status_changed", map[string]any{
			"order_id": orderID,
			"from":     current,
			"to":       req.NewStatus,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := attachOrderItems(ctx, db, order); err != nil {
		return nil, err
	}

	return order, nil
}

func restoreOrderStock(ctx context.Context, tx *sql.Tx, orderID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("get order items for restore: %w", err)
	}

	type restore struct {
		productID int64
		quantity  int
	}
	var restores []restore
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		restores = append(restores, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for _, r := range restores {
		if err := RestoreStock(ctx, tx, r.productID, r.quantity); err != nil {
			return err
		}
	}

	return nil
}
