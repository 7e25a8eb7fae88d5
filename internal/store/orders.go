package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, product_id, status, total_amount, payment_method)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.UserID, order.ProductID, order.Status, order.TotalAmount, order.PaymentMethod)
	return classify(row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt))
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// TransitionOrderStatus moves an order from one status to another only if it is
// still in the expected status. A nil transactionID keeps the stored value.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID int64, from, to string, transactionID *string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING *`,
		to, transactionID, orderID, from)
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := s.GetOrderByID(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("order %d is %s, not %s: %w", orderID, current.Status, from, models.ErrInvalidTransition)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

// CompleteOrder records the allocation and moves the order from pending to
// completed in one transaction. ErrConflict means the order or the item already
// has an allocation; ErrInvalidTransition means the order left pending.
func (s *Store) CompleteOrder(ctx context.Context, orderID int64, ref models.ItemRef, transactionID *string) (*models.OrderItemDetails, *models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	details := models.OrderItemDetails{OrderID: orderID, ItemKind: ref.Kind, ItemID: ref.ID}
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO order_item_details (order_id, item_kind, item_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		orderID, ref.Kind, ref.ID).Scan(&details.ID, &details.CreatedAt)
	if err != nil {
		return nil, nil, classify(err)
	}

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING *`,
		models.OrderStatusCompleted, transactionID, orderID, models.OrderStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("order %d is no longer pending: %w", orderID, models.ErrInvalidTransition)
	}
	if err != nil {
		return nil, nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, classify(err)
	}
	return &details, &order, nil
}

// GetAllocationByOrderID retrieves the allocation record for an order
func (s *Store) GetAllocationByOrderID(ctx context.Context, orderID int64) (*models.OrderItemDetails, error) {
	var details models.OrderItemDetails
	err := s.db.GetContext(ctx, &details, "SELECT * FROM order_item_details WHERE order_id = $1", orderID)
	if err != nil {
		return nil, notFound(err, "allocation for order", orderID)
	}
	return &details, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
