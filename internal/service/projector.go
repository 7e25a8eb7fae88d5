package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
)

// OrderDetailProjector assembles the buyer's view of an order: the order, its
// product summary and the credentials of the allocated item.
type OrderDetailProjector struct {
	orders    OrderRepository
	catalog   *CatalogService
	inventory *InventoryService
}

// NewOrderDetailProjector creates a new projector
func NewOrderDetailProjector(orders OrderRepository, catalog *CatalogService, inventory *InventoryService) *OrderDetailProjector {
	return &OrderDetailProjector{
		orders:    orders,
		catalog:   catalog,
		inventory: inventory,
	}
}

// Get returns the details of an order owned by userID. Orders of other users
// yield ErrForbidden.
func (p *OrderDetailProjector) Get(ctx context.Context, orderID, userID int64) (*models.OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderDetailProjector.Get",
		attribute.Int64("order_id", orderID),
		attribute.Int64("user_id", userID))
	defer span.End()

	order, err := p.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("order %d belongs to another user: %w", orderID, models.ErrForbidden)
	}

	product, err := p.catalog.GetProduct(ctx, order.ProductID)
	if err != nil {
		return nil, err
	}

	details := &models.OrderDetails{
		Order: order,
		Product: &models.ProductSummary{
			ID:          product.ID,
			Name:        product.Name,
			Description: product.Description,
			Category:    product.Category,
			Price:       product.Price,
		},
	}

	allocation, err := p.orders.GetAllocationByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return details, nil
	}
	if err != nil {
		return nil, err
	}

	item, err := p.inventory.GetItem(ctx, allocation.ItemKind, allocation.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocated %s %d: %w", allocation.ItemKind, allocation.ItemID, err)
	}
	details.PurchasedItems = purchasedItems(item)
	return details, nil
}

func purchasedItems(item *models.InventoryItem) models.PurchasedItems {
	var out models.PurchasedItems
	switch item.Kind {
	case models.KindSocialMediaLogin:
		l := item.SocialMedia
		out.SocialMediaLogin = &models.PurchasedLogin{
			Platform:      l.Platform,
			Username:      l.Username,
			Password:      l.Password,
			Email:         l.Email,
			EmailPassword: l.EmailPassword,
			RecoveryCodes: l.RecoveryCodes,
			AuthTokens:    l.AuthTokens,
		}
	case models.KindNumberService:
		n := item.NumberService
		out.NumberService = &models.PurchasedNumber{
			CountryCode: n.CountryCode,
			CountryName: n.CountryName,
			PhoneNumber: n.PhoneNumber,
			ExpiresAt:   n.ExpiresAt,
		}
	case models.KindProxyService:
		px := item.ProxyService
		out.ProxyService = &models.PurchasedProxy{
			ProxyType:      px.ProxyType,
			Location:       px.Location,
			IPAddress:      px.IPAddress,
			Port:           px.Port,
			Username:       px.Username,
			Password:       px.Password,
			BandwidthLimit: px.BandwidthLimit,
			ExpiresAt:      px.ExpiresAt,
		}
	}
	return out
}
