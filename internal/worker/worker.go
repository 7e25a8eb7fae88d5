package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker consumes payment gateway events and drives orders through the
// payment saga
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, saga *service.PaymentSaga) *PaymentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentConfirmed(saga.HandlePaymentConfirmed)
	eventHandler.OnPaymentFailed(saga.HandlePaymentFailed)
	eventHandler.OnPaymentRefunded(saga.HandlePaymentRefunded)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}
