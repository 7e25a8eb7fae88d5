package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// EventLog records consumed event ids; satisfied by *store.Store
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentSaga drives orders from payment gateway events. Each event is applied
// at most once; outcomes the order state machine rejects are recorded as
// handled so the event is not redelivered forever.
type PaymentSaga struct {
	events EventLog
	orders *OrderService
	logger *zap.Logger
}

// NewPaymentSaga creates a new payment saga
func NewPaymentSaga(events EventLog, orders *OrderService) *PaymentSaga {
	return &PaymentSaga{
		events: events,
		orders: orders,
		logger: util.GetLogger(),
	}
}

// HandlePaymentConfirmed completes the order, which fulfills it
func (ps *PaymentSaga) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentSaga.HandlePaymentConfirmed")
	defer span.End()

	ps.logger.Info("Handling payment confirmation",
		zap.Int64("order_id", event.OrderID),
		zap.String("tx_id", event.TransactionID))

	txID := event.TransactionID
	return ps.apply(ctx, event.BaseEvent, func(ctx context.Context) error {
		_, err := ps.orders.UpdateOrderStatus(ctx, event.OrderID, &UpdateOrderStatusRequest{
			Status:        models.OrderStatusCompleted,
			TransactionID: &txID,
		})
		return err
	})
}

// HandlePaymentFailed fails a pending order
func (ps *PaymentSaga) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentSaga.HandlePaymentFailed")
	defer span.End()

	ps.logger.Warn("Handling payment failure",
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	return ps.apply(ctx, event.BaseEvent, func(ctx context.Context) error {
		_, err := ps.orders.UpdateOrderStatus(ctx, event.OrderID, &UpdateOrderStatusRequest{
			Status: models.OrderStatusFailed,
			Reason: models.FailureReasonPayment,
		})
		return err
	})
}

// HandlePaymentRefunded refunds a completed order
func (ps *PaymentSaga) HandlePaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentSaga.HandlePaymentRefunded")
	defer span.End()

	ps.logger.Info("Handling payment refund",
		zap.Int64("order_id", event.OrderID),
		zap.String("tx_id", event.TransactionID))

	txID := event.TransactionID
	return ps.apply(ctx, event.BaseEvent, func(ctx context.Context) error {
		_, err := ps.orders.UpdateOrderStatus(ctx, event.OrderID, &UpdateOrderStatusRequest{
			Status:        models.OrderStatusRefunded,
			TransactionID: &txID,
		})
		return err
	})
}

func (ps *PaymentSaga) apply(ctx context.Context, event models.BaseEvent, fn func(context.Context) error) error {
	processed, err := ps.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		util.PaymentEventsProcessed.WithLabelValues(event.EventType, "duplicate").Inc()
		return nil
	}

	result := "applied"
	if err := fn(ctx); err != nil {
		if !isFinal(err) {
			util.PaymentEventsProcessed.WithLabelValues(event.EventType, "retry").Inc()
			return err
		}
		result = "rejected"
		ps.logger.Warn("Payment event rejected",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}

	if err := ps.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	util.PaymentEventsProcessed.WithLabelValues(event.EventType, result).Inc()
	return nil
}

// isFinal reports whether redelivering the event could not change the outcome
func isFinal(err error) bool {
	for _, target := range []error{
		models.ErrNotFound,
		models.ErrInvalidTransition,
		models.ErrInvalidInput,
		models.ErrOutOfStock,
		models.ErrProviderAllocationFailed,
		models.ErrProductUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
