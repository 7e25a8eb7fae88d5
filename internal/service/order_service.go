package service

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	users       UserRepository
	orders      OrderRepository
	catalog     *CatalogService
	fulfillment *FulfillmentEngine
	events      EventPublisher
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	users UserRepository,
	orders OrderRepository,
	catalog *CatalogService,
	fulfillment *FulfillmentEngine,
	events EventPublisher,
) *OrderService {
	return &OrderService{
		users:       users,
		orders:      orders,
		catalog:     catalog,
		fulfillment: fulfillment,
		events:      events,
		logger:      util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID        int64   `json:"user_id" binding:"required"`
	ProductID     int64   `json:"product_id" binding:"required"`
	PaymentMethod *string `json:"payment_method"`
}

// UpdateOrderStatusRequest represents a status change on an existing order
type UpdateOrderStatusRequest struct {
	Status        string  `json:"status" binding:"required,oneof=pending completed failed refunded"`
	TransactionID *string `json:"transaction_id"`
	Reason        string  `json:"reason"`
}

// CreateOrder records a pending order priced from the catalog. No inventory is
// touched until the order is fulfilled.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("product_id", req.ProductID))
	defer span.End()

	if _, err := s.users.GetUserByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	available, err := s.catalog.IsAvailable(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !available {
		util.OrdersFailedTotal.WithLabelValues("product_unavailable").Inc()
		return nil, fmt.Errorf("product %d: %w", req.ProductID, models.ErrProductUnavailable)
	}

	// the total is a snapshot; later price changes do not touch the order
	price, err := s.catalog.GetPrice(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:        req.UserID,
		ProductID:     req.ProductID,
		Status:        models.OrderStatusPending,
		TotalAmount:   price,
		PaymentMethod: req.PaymentMethod,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("product_id", order.ProductID),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		UserID:      order.UserID,
		ProductID:   order.ProductID,
		TotalAmount: order.TotalAmount,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return order, nil
}

// UpdateOrderStatus applies a state machine transition. Moving to completed
// runs fulfillment; the other transitions are a compare-and-set on the status.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, req *UpdateOrderStatusRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", req.Status))
	defer span.End()

	if !models.ValidOrderStatus(req.Status) {
		return nil, fmt.Errorf("unknown status %q: %w", req.Status, models.ErrInvalidInput)
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, req.Status) {
		return nil, fmt.Errorf("order %d cannot move from %s to %s: %w",
			orderID, order.Status, req.Status, models.ErrInvalidTransition)
	}

	switch req.Status {
	case models.OrderStatusCompleted:
		result, err := s.fulfillment.Fulfill(ctx, orderID, req.TransactionID)
		if err != nil {
			return nil, err
		}
		return result.Order, nil

	case models.OrderStatusFailed:
		reason := req.Reason
		if reason == "" {
			reason = models.FailureReasonManual
		}
		updated, err := s.orders.TransitionOrderStatus(ctx, orderID, order.Status, models.OrderStatusFailed, req.TransactionID)
		if err != nil {
			return nil, err
		}
		util.OrdersFailedTotal.WithLabelValues(reason).Inc()

		event := &models.OrderFailedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderFailed),
			OrderID:   orderID,
			Reason:    reason,
		}
		if err := s.events.PublishOrderFailed(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
		}
		s.logger.Info("Order failed", zap.Int64("order_id", orderID), zap.String("reason", reason))
		return updated, nil

	case models.OrderStatusRefunded:
		updated, err := s.orders.TransitionOrderStatus(ctx, orderID, order.Status, models.OrderStatusRefunded, req.TransactionID)
		if err != nil {
			return nil, err
		}
		util.OrdersRefundedTotal.Inc()

		event := &models.OrderRefundedEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeOrderRefunded),
			OrderID:     orderID,
			TotalAmount: updated.TotalAmount,
		}
		if err := s.events.PublishOrderRefunded(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderRefunded event", zap.Error(err))
		}
		s.logger.Info("Order refunded", zap.Int64("order_id", orderID))
		return updated, nil
	}

	// unreachable: CanTransition only admits the cases above
	return nil, fmt.Errorf("order %d cannot move to %s: %w", orderID, req.Status, models.ErrInvalidTransition)
}

// FulfillOrder runs fulfillment directly, returning an existing allocation if
// there is one
func (s *OrderService) FulfillOrder(ctx context.Context, orderID int64, transactionID *string) (*FulfillmentResult, error) {
	return s.fulfillment.Fulfill(ctx, orderID, transactionID)
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.orders.GetOrderByID(ctx, orderID)
}

// GetUserOrders lists a user's orders, newest first
func (s *OrderService) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.orders.GetOrdersByUserID(ctx, userID)
}
