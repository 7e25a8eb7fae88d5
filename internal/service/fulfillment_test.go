package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillSocialMediaLogin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategorySocialMedia, "12.50")
	f.logins(product.ID, 2)
	order := f.order(buyer.ID, product.ID)

	result, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.False(t, result.Existing)
	assert.Equal(t, models.OrderStatusCompleted, result.Order.Status)
	assert.Equal(t, models.KindSocialMediaLogin, result.Allocation.ItemKind)

	details, err := f.projector.Get(ctx, order.ID, buyer.ID)
	require.NoError(t, err)
	require.NotNil(t, details.PurchasedItems.SocialMediaLogin)
	assert.Nil(t, details.PurchasedItems.NumberService)
	assert.Nil(t, details.PurchasedItems.ProxyService)
	assert.Equal(t, "acct0", details.PurchasedItems.SocialMediaLogin.Username)
	assert.True(t, details.Product.Price.Equal(product.Price))

	left, err := f.inventory.AvailableCount(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderFulfilled))
}

func TestFulfillIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategorySocialMedia, "5.00")
	f.logins(product.ID, 3)
	order := f.order(buyer.ID, product.ID)

	first, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.NoError(t, err)

	second, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Allocation.ItemID, second.Allocation.ItemID)

	left, err := f.inventory.AvailableCount(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, left)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderFulfilled))
}

func TestFulfillNumberServiceForOwnerOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	other := f.user("other@example.com")
	product := f.product(models.CategoryNumberService, "1.99")
	f.numbers(product.ID, "us", 1)
	order := f.order(buyer.ID, product.ID)

	result, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindNumberService, result.Allocation.ItemKind)

	details, err := f.projector.Get(ctx, order.ID, buyer.ID)
	require.NoError(t, err)
	require.NotNil(t, details.PurchasedItems.NumberService)
	assert.Equal(t, "US", details.PurchasedItems.NumberService.CountryCode)
	require.NotNil(t, details.PurchasedItems.NumberService.PhoneNumber)
	assert.Equal(t, "+15551230000", *details.PurchasedItems.NumberService.PhoneNumber)

	_, err = f.projector.Get(ctx, order.ID, other.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	// the only slot is gone, so the product is hidden
	available, err := f.catalog.IsAvailable(ctx, product.ID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestFulfillProxyService(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategoryProxyService, "9.00")
	f.proxies(product.ID, 1)
	order := f.order(buyer.ID, product.ID)

	_, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.NoError(t, err)

	details, err := f.projector.Get(ctx, order.ID, buyer.ID)
	require.NoError(t, err)
	proxy := details.PurchasedItems.ProxyService
	require.NotNil(t, proxy)
	require.NotNil(t, proxy.IPAddress)
	require.NotNil(t, proxy.Port)
	assert.Equal(t, "203.0.113.7", *proxy.IPAddress)
	assert.Equal(t, 8080, *proxy.Port)
}

func TestConcurrentFulfillmentSellsEachItemOnce(t *testing.T) {
	const stock = 5

	tests := []struct {
		name         string
		category     string
		kind         models.ItemKind
		stock        func(f *fixture, productID int64)
		providerCall bool
	}{
		{
			name:     "social media logins",
			category: models.CategorySocialMedia,
			kind:     models.KindSocialMediaLogin,
			stock:    func(f *fixture, productID int64) { f.logins(productID, stock) },
		},
		{
			name:         "number slots",
			category:     models.CategoryNumberService,
			kind:         models.KindNumberService,
			stock:        func(f *fixture, productID int64) { f.numbers(productID, "US", stock) },
			providerCall: true,
		},
		{
			name:         "proxy slots",
			category:     models.CategoryProxyService,
			kind:         models.KindProxyService,
			stock:        func(f *fixture, productID int64) { f.proxies(productID, stock) },
			providerCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()

			product := f.product(tt.category, "3.00")
			tt.stock(f, product.ID)

			orders := make([]*models.Order, stock+1)
			for i := range orders {
				buyer := f.user(fmt.Sprintf("buyer%d@example.com", i))
				orders[i] = f.order(buyer.ID, product.ID)
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				items     = map[int64]int64{}
				stockouts []int64
			)
			for _, o := range orders {
				wg.Add(1)
				go func(orderID int64) {
					defer wg.Done()
					result, err := f.fulfillment.Fulfill(ctx, orderID, nil)
					mu.Lock()
					defer mu.Unlock()
					if errors.Is(err, models.ErrOutOfStock) {
						stockouts = append(stockouts, orderID)
						return
					}
					if assert.NoError(t, err) {
						assert.Equal(t, tt.kind, result.Allocation.ItemKind)
						_, dup := items[result.Allocation.ItemID]
						assert.False(t, dup, "item %d allocated twice", result.Allocation.ItemID)
						items[result.Allocation.ItemID] = orderID
					}
				}(o.ID)
			}
			wg.Wait()

			assert.Len(t, items, stock, "every item must go to a distinct order")
			require.Len(t, stockouts, 1)

			if tt.providerCall {
				assert.Equal(t, stock, f.allocator.calls)
			} else {
				assert.Zero(t, f.allocator.calls)
			}

			failed, err := f.orders.GetOrder(ctx, stockouts[0])
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusFailed, failed.Status)
			_, err = f.repo.GetAllocationByOrderID(ctx, failed.ID)
			assert.ErrorIs(t, err, models.ErrNotFound)
			require.Len(t, f.events.failed, 1)
			assert.Equal(t, models.FailureReasonOutOfStock, f.events.failed[0].Reason)

			_, err = f.orders.CreateOrder(ctx, &CreateOrderRequest{UserID: failed.UserID, ProductID: product.ID})
			assert.ErrorIs(t, err, models.ErrProductUnavailable)
		})
	}
}

func TestRollbackRestoresProductBehindStaleCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	product := f.product(models.CategoryNumberService, "1.99")
	f.numbers(product.ID, "US", 1)
	first := f.order(f.user("first@example.com").ID, product.ID)

	stale, err := f.catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.True(t, stale.IsAvailable)

	// a reader that loaded the product before the sell-out writes it back
	// after soldOut dropped the cache entry
	f.allocator.err = errors.New("upstream 503")
	f.allocator.before = func() {
		_ = f.redis.CacheProduct(ctx, stale, time.Minute)
	}

	_, err = f.fulfillment.Fulfill(ctx, first.ID, nil)
	require.ErrorIs(t, err, models.ErrProviderAllocationFailed)

	stored, err := f.repo.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsAvailable, "released slot must re-enable the product in the store")

	// cache entry expires
	require.NoError(t, f.redis.InvalidateProduct(ctx, product.ID))

	f.allocator.err = nil
	f.allocator.before = nil

	second := f.order(f.user("second@example.com").ID, product.ID)
	result, err := f.fulfillment.Fulfill(ctx, second.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, result.Order.Status)
	assert.Equal(t, models.KindNumberService, result.Allocation.ItemKind)
}

func TestConcurrentFulfillOfOneOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategorySocialMedia, "3.00")
	f.logins(product.ID, 10)
	order := f.order(buyer.ID, product.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		itemIDs = map[int64]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
			if err != nil {
				assert.ErrorIs(t, err, models.ErrConflict)
				return
			}
			mu.Lock()
			itemIDs[result.Allocation.ItemID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	result, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.True(t, result.Existing)
	itemIDs[result.Allocation.ItemID] = true
	assert.Len(t, itemIDs, 1)

	left, err := f.inventory.AvailableCount(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, left)
}

func TestProviderFailureReleasesItem(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.allocator.err = errors.New("provider rejected request")

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategoryNumberService, "1.99")
	f.numbers(product.ID, "US", 1)
	order := f.order(buyer.ID, product.ID)

	_, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.ErrorIs(t, err, models.ErrProviderAllocationFailed)

	assertRolledBack(t, f, order.ID, product.ID)
}

func TestProviderTimeoutReleasesItem(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.allocator.block = true

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategoryProxyService, "4.00")
	f.proxies(product.ID, 1)
	order := f.order(buyer.ID, product.ID)

	_, err := f.fulfillment.Fulfill(ctx, order.ID, nil)
	require.ErrorIs(t, err, models.ErrProviderAllocationFailed)
	assert.ErrorContains(t, err, "deadline exceeded")

	assertRolledBack(t, f, order.ID, product.ID)
}

func assertRolledBack(t *testing.T, f *fixture, orderID, productID int64) {
	t.Helper()
	ctx := context.Background()

	order, err := f.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)

	_, err = f.repo.GetAllocationByOrderID(ctx, orderID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	items, err := f.inventory.ListAvailable(ctx, productID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	switch items[0].Kind {
	case models.KindNumberService:
		assert.Nil(t, items[0].NumberService.PhoneNumber)
		assert.Nil(t, items[0].NumberService.ProviderServiceID)
	case models.KindProxyService:
		assert.Nil(t, items[0].ProxyService.IPAddress)
		assert.Nil(t, items[0].ProxyService.Port)
	}

	left, err := f.inventory.AvailableCount(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	available, err := f.catalog.IsAvailable(ctx, productID)
	require.NoError(t, err)
	assert.True(t, available)

	require.Len(t, f.events.failed, 1)
	assert.Equal(t, models.FailureReasonProvider, f.events.failed[0].Reason)
}

func TestFulfillRejectsResolvedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategorySocialMedia, "2.00")
	f.logins(product.ID, 1)
	order := f.order(buyer.ID, product.ID)

	_, err := f.orders.UpdateOrderStatus(ctx, order.ID, &UpdateOrderStatusRequest{Status: models.OrderStatusFailed})
	require.NoError(t, err)

	_, err = f.fulfillment.Fulfill(ctx, order.ID, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.fulfillment.Fulfill(ctx, 9999, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFulfillWhileLockHeld(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	buyer := f.user("buyer@example.com")
	product := f.product(models.CategorySocialMedia, "2.00")
	f.logins(product.ID, 1)
	order := f.order(buyer.ID, product.ID)

	_, ok, err := f.redis.AcquireLock(ctx, fmt.Sprintf("fulfill:%d", order.ID), 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.fulfillment.Fulfill(ctx, order.ID, nil)
	assert.ErrorIs(t, err, models.ErrConflict)

	current, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, current.Status)
}
