package service

import (
	"context"
	"time"

	"marketplace-service/internal/models"
)

// The repository interfaces are satisfied by *store.Store.

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, category string) ([]models.Product, error)
	SetProductAvailability(ctx context.Context, id int64, available bool) error
}

type InventoryRepository interface {
	CreateSocialMediaLogin(ctx context.Context, l *models.SocialMediaLogin) error
	CreateNumberService(ctx context.Context, n *models.NumberService) error
	CreateProxyService(ctx context.Context, p *models.ProxyService) error
	ReserveItem(ctx context.Context, productID int64, kind models.ItemKind) (*models.InventoryItem, error)
	ReleaseItem(ctx context.Context, ref models.ItemRef) (bool, error)
	AssignNumber(ctx context.Context, id int64, alloc models.NumberAllocation) (*models.NumberService, error)
	AssignProxy(ctx context.Context, id int64, creds models.ProxyCredentials) (*models.ProxyService, error)
	GetItem(ctx context.Context, ref models.ItemRef) (*models.InventoryItem, error)
	ListAvailableItems(ctx context.Context, productID int64, kind models.ItemKind) ([]models.InventoryItem, error)
	CountAvailableItems(ctx context.Context, productID int64, kind models.ItemKind) (int, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from, to string, transactionID *string) (*models.Order, error)
	CompleteOrder(ctx context.Context, orderID int64, ref models.ItemRef, transactionID *string) (*models.OrderItemDetails, *models.Order, error)
	GetAllocationByOrderID(ctx context.Context, orderID int64) (*models.OrderItemDetails, error)
}

// The cache interfaces are satisfied by *redisclient.Client.

type StockCounter interface {
	InitStock(ctx context.Context, productID int64, available int) error
	DecrStock(ctx context.Context, productID int64) (int64, error)
	IncrStock(ctx context.Context, productID int64) (int64, error)
	GetStock(ctx context.Context, productID int64) (int64, bool, error)
}

type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

type ProductCache interface {
	CacheProduct(ctx context.Context, product *models.Product, ttl time.Duration) error
	GetCachedProduct(ctx context.Context, productID int64) (*models.Product, error)
	InvalidateProduct(ctx context.Context, productID int64) error
}

// EventPublisher is satisfied by *broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
	PublishOrderRefunded(ctx context.Context, event *models.OrderRefundedEvent) error
}
