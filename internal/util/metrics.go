package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders fulfilled and completed",
	}, []string{"kind"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	OrdersRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_refunded_total",
		Help: "Total number of refunded orders",
	})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	InventoryReservationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservation_retries_total",
		Help: "Total number of reservation attempts retried after a transient error",
	})

	InventoryReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_releases_total",
		Help: "Total number of reserved items returned to stock",
	}, []string{"kind"})

	ProviderAllocationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_allocation_latency_seconds",
		Help:    "Latency of external provider allocation calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	ProviderAllocationFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_allocation_failed_total",
		Help: "Total number of failed provider allocations",
	}, []string{"kind"})

	PaymentEventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_processed_total",
		Help: "Total number of payment events consumed",
	}, []string{"type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
