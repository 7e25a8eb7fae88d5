package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/provider"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const compensationTimeout = 5 * time.Second

// FulfillmentEngine turns a pending order into a completed one by reserving an
// item, activating it with its provider when needed and recording the
// allocation. Each order is allocated at most one item and each item goes to at
// most one order.
type FulfillmentEngine struct {
	orders    OrderRepository
	catalog   *CatalogService
	inventory *InventoryService
	allocator provider.Allocator
	locker    Locker
	events    EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewFulfillmentEngine creates a new fulfillment engine
func NewFulfillmentEngine(
	orders OrderRepository,
	catalog *CatalogService,
	inventory *InventoryService,
	allocator provider.Allocator,
	locker Locker,
	events EventPublisher,
	lockTTL time.Duration,
) *FulfillmentEngine {
	return &FulfillmentEngine{
		orders:    orders,
		catalog:   catalog,
		inventory: inventory,
		allocator: allocator,
		locker:    locker,
		events:    events,
		lockTTL:   lockTTL,
		logger:    util.GetLogger(),
	}
}

// FulfillmentResult is the outcome of a successful fulfillment
type FulfillmentResult struct {
	Order      *models.Order            `json:"order"`
	Allocation *models.OrderItemDetails `json:"allocation"`
	// Existing is true when the order had already been fulfilled
	Existing bool `json:"existing"`
}

// Fulfill allocates one item to a pending order. Calling it again for an order
// that already has an allocation returns that allocation unchanged.
func (e *FulfillmentEngine) Fulfill(ctx context.Context, orderID int64, transactionID *string) (*FulfillmentResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentEngine.Fulfill", attribute.Int64("order_id", orderID))
	defer span.End()

	if result, err := e.existing(ctx, orderID); result != nil || err != nil {
		return result, err
	}

	order, err := e.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return e.resolved(ctx, order)
	}

	lockName := fmt.Sprintf("fulfill:%d", orderID)
	if e.locker != nil {
		token, ok, err := e.locker.AcquireLock(ctx, lockName, e.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire fulfillment lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("order %d is already being fulfilled: %w", orderID, models.ErrConflict)
		}
		defer func() {
			releaseCtx, cancel := compensationContext(ctx)
			defer cancel()
			if err := e.locker.ReleaseLock(releaseCtx, lockName, token); err != nil {
				e.logger.Warn("Failed to release fulfillment lock", zap.Int64("order_id", orderID), zap.Error(err))
			}
		}()

		// another caller may have finished between the first check and the lock
		if result, err := e.existing(ctx, orderID); result != nil || err != nil {
			return result, err
		}
		if order, err = e.orders.GetOrderByID(ctx, orderID); err != nil {
			return nil, err
		}
		if order.Status != models.OrderStatusPending {
			return e.resolved(ctx, order)
		}
	}

	product, err := e.catalog.GetProduct(ctx, order.ProductID)
	if err != nil {
		return nil, err
	}

	item, err := e.inventory.ReserveOne(ctx, product.ID, product.Category)
	if err != nil {
		if errors.Is(err, models.ErrOutOfStock) {
			e.failOrder(ctx, order, models.FailureReasonOutOfStock)
		}
		util.RecordError(span, err)
		return nil, err
	}

	if item.Kind.NeedsProvider() {
		activated, err := e.inventory.ActivateProviderResource(ctx, item, e.allocator)
		if err != nil {
			e.release(ctx, item)
			if errors.Is(err, models.ErrProviderAllocationFailed) {
				e.failOrder(ctx, order, models.FailureReasonProvider)
			}
			util.RecordError(span, err)
			return nil, err
		}
		item = activated
	}

	allocation, completed, err := e.orders.CompleteOrder(ctx, order.ID, item.Ref(), transactionID)
	if err != nil {
		e.release(ctx, item)
		if errors.Is(err, models.ErrConflict) {
			if result, gerr := e.existing(ctx, orderID); result != nil {
				return result, nil
			} else if gerr != nil {
				err = gerr
			}
		}
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCompletedTotal.WithLabelValues(string(item.Kind)).Inc()

	event := &models.OrderFulfilledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderFulfilled),
		OrderID:   completed.ID,
		UserID:    completed.UserID,
		ItemKind:  allocation.ItemKind,
		ItemID:    allocation.ItemID,
	}
	if err := e.events.PublishOrderFulfilled(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderFulfilled event", zap.Error(err))
	}

	e.logger.Info("Order fulfilled",
		zap.Int64("order_id", completed.ID),
		zap.String("kind", string(allocation.ItemKind)),
		zap.Int64("item_id", allocation.ItemID))

	return &FulfillmentResult{Order: completed, Allocation: allocation}, nil
}

// existing returns the recorded allocation of an order, or nil when there is none
func (e *FulfillmentEngine) existing(ctx context.Context, orderID int64) (*FulfillmentResult, error) {
	allocation, err := e.orders.GetAllocationByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	order, err := e.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &FulfillmentResult{Order: order, Allocation: allocation, Existing: true}, nil
}

// resolved handles an order that is no longer pending: one completed by a
// concurrent caller yields its allocation, anything else is a bad transition.
func (e *FulfillmentEngine) resolved(ctx context.Context, order *models.Order) (*FulfillmentResult, error) {
	if result, err := e.existing(ctx, order.ID); result != nil || err != nil {
		return result, err
	}
	return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, models.ErrInvalidTransition)
}

func (e *FulfillmentEngine) release(ctx context.Context, item *models.InventoryItem) {
	ctx, cancel := compensationContext(ctx)
	defer cancel()

	if err := e.inventory.Release(ctx, item); err != nil {
		e.logger.Error("Failed to release reserved item",
			zap.String("kind", string(item.Kind)),
			zap.Int64("item_id", item.ID()),
			zap.Error(err))
	}
}

func (e *FulfillmentEngine) failOrder(ctx context.Context, order *models.Order, reason string) {
	ctx, cancel := compensationContext(ctx)
	defer cancel()

	if _, err := e.orders.TransitionOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusFailed, nil); err != nil {
		e.logger.Error("Failed to mark order failed",
			zap.Int64("order_id", order.ID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}

	util.OrdersFailedTotal.WithLabelValues(reason).Inc()

	event := &models.OrderFailedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderFailed),
		OrderID:   order.ID,
		Reason:    reason,
	}
	if err := e.events.PublishOrderFailed(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
	}

	e.logger.Warn("Order failed", zap.Int64("order_id", order.ID), zap.String("reason", reason))
}

// compensationContext outlives the caller's cancellation so rollbacks still run
// after a deadline has fired.
func compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}
