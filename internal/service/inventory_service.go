package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/provider"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// InventoryService manages the three inventory tables. Postgres decides who gets
// an item; the Redis counters only mirror how many are left.
type InventoryService struct {
	inventory       InventoryRepository
	catalog         *CatalogService
	stock           StockCounter
	maxRetries      int
	providerTimeout time.Duration
	logger          *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	inventory InventoryRepository,
	catalog *CatalogService,
	stock StockCounter,
	maxRetries int,
	providerTimeout time.Duration,
) *InventoryService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &InventoryService{
		inventory:       inventory,
		catalog:         catalog,
		stock:           stock,
		maxRetries:      maxRetries,
		providerTimeout: providerTimeout,
		logger:          util.GetLogger(),
	}
}

// CreateSocialMediaLoginRequest represents a request to stock a social media login
type CreateSocialMediaLoginRequest struct {
	Platform      string  `json:"platform" binding:"required,oneof=facebook instagram twitter tiktok snapchat youtube linkedin other"`
	Username      string  `json:"username" binding:"required"`
	Password      string  `json:"password" binding:"required"`
	Email         string  `json:"email" binding:"required,email"`
	EmailPassword string  `json:"email_password" binding:"required"`
	RecoveryCodes *string `json:"recovery_codes"`
	AuthTokens    *string `json:"auth_tokens"`
}

// CreateNumberServiceRequest represents a request to stock a number slot
type CreateNumberServiceRequest struct {
	CountryCode string    `json:"country_code" binding:"required,len=2"`
	CountryName string    `json:"country_name" binding:"required"`
	APIProvider string    `json:"api_provider" binding:"required"`
	ExpiresAt   time.Time `json:"expires_at" binding:"required"`
}

// CreateProxyServiceRequest represents a request to stock a proxy slot
type CreateProxyServiceRequest struct {
	ProxyType      string     `json:"proxy_type" binding:"required,oneof=residential datacenter socks5"`
	Location       string     `json:"location" binding:"required"`
	BandwidthLimit *string    `json:"bandwidth_limit"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// CreateSocialMediaLogin stocks a login under a social_media product
func (s *InventoryService) CreateSocialMediaLogin(ctx context.Context, productID int64, req *CreateSocialMediaLoginRequest) (*models.SocialMediaLogin, error) {
	if _, err := s.productOfKind(ctx, productID, models.KindSocialMediaLogin); err != nil {
		return nil, err
	}
	if req.Username == "" || req.Password == "" || req.Email == "" || req.EmailPassword == "" {
		return nil, fmt.Errorf("login credentials are incomplete: %w", models.ErrInvalidInput)
	}

	login := &models.SocialMediaLogin{
		ProductID:     productID,
		Platform:      strings.ToLower(req.Platform),
		Username:      req.Username,
		Password:      req.Password,
		Email:         req.Email,
		EmailPassword: req.EmailPassword,
		RecoveryCodes: req.RecoveryCodes,
		AuthTokens:    req.AuthTokens,
	}
	if err := s.inventory.CreateSocialMediaLogin(ctx, login); err != nil {
		return nil, fmt.Errorf("failed to create social media login: %w", err)
	}

	s.restocked(ctx, productID, models.KindSocialMediaLogin)
	return login, nil
}

// CreateNumberService stocks a number slot under a number_service product
func (s *InventoryService) CreateNumberService(ctx context.Context, productID int64, req *CreateNumberServiceRequest) (*models.NumberService, error) {
	if _, err := s.productOfKind(ctx, productID, models.KindNumberService); err != nil {
		return nil, err
	}
	code := strings.ToUpper(req.CountryCode)
	if !countryCodePattern.MatchString(code) {
		return nil, fmt.Errorf("country code %q is not ISO alpha-2: %w", req.CountryCode, models.ErrInvalidInput)
	}
	if !req.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("expires_at must be in the future: %w", models.ErrInvalidInput)
	}

	number := &models.NumberService{
		ProductID:   productID,
		CountryCode: code,
		CountryName: req.CountryName,
		APIProvider: req.APIProvider,
		ExpiresAt:   req.ExpiresAt,
		IsActive:    true,
	}
	if err := s.inventory.CreateNumberService(ctx, number); err != nil {
		return nil, fmt.Errorf("failed to create number service: %w", err)
	}

	s.restocked(ctx, productID, models.KindNumberService)
	return number, nil
}

// CreateProxyService stocks a proxy slot under a proxy_service product
func (s *InventoryService) CreateProxyService(ctx context.Context, productID int64, req *CreateProxyServiceRequest) (*models.ProxyService, error) {
	if _, err := s.productOfKind(ctx, productID, models.KindProxyService); err != nil {
		return nil, err
	}
	switch req.ProxyType {
	case models.ProxyTypeResidential, models.ProxyTypeDatacenter, models.ProxyTypeSocks5:
	default:
		return nil, fmt.Errorf("unknown proxy type %q: %w", req.ProxyType, models.ErrInvalidInput)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("expires_at must be in the future: %w", models.ErrInvalidInput)
	}

	proxy := &models.ProxyService{
		ProductID:      productID,
		ProxyType:      req.ProxyType,
		Location:       req.Location,
		BandwidthLimit: req.BandwidthLimit,
		ExpiresAt:      req.ExpiresAt,
		IsActive:       true,
	}
	if err := s.inventory.CreateProxyService(ctx, proxy); err != nil {
		return nil, fmt.Errorf("failed to create proxy service: %w", err)
	}

	s.restocked(ctx, productID, models.KindProxyService)
	return proxy, nil
}

// ReserveOne atomically takes one available item of the product's kind.
// Transient storage errors are retried up to maxRetries attempts, after
// which ErrConflict is returned.
func (s *InventoryService) ReserveOne(ctx context.Context, productID int64, category string) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReserveOne",
		attribute.Int64("product_id", productID),
		attribute.String("category", category))
	defer span.End()

	kind, ok := models.KindForCategory(category)
	if !ok {
		return nil, fmt.Errorf("unknown category %q: %w", category, models.ErrInvalidInput)
	}

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		item, err := s.inventory.ReserveItem(ctx, productID, kind)
		if err == nil {
			s.reserved(ctx, productID, kind)
			return item, nil
		}

		switch {
		case errors.Is(err, models.ErrOutOfStock):
			util.InventoryReservationsFailed.WithLabelValues("out_of_stock").Inc()
			s.soldOut(ctx, productID)
			return nil, err
		case !errors.Is(err, store.ErrTransient):
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			util.RecordError(span, err)
			return nil, err
		}

		if attempt >= s.maxRetries {
			util.InventoryReservationsFailed.WithLabelValues("contention").Inc()
			s.logger.Warn("Reservation gave up after retries",
				zap.Int64("product_id", productID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return nil, fmt.Errorf("product %d still contended after %d attempts: %w", productID, attempt, models.ErrConflict)
		}

		util.InventoryReservationRetries.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
}

// Release returns a reserved but unallocated item to stock and clears any
// provider fields written to it. Releasing an item that is available or
// already allocated is a no-op.
func (s *InventoryService) Release(ctx context.Context, item *models.InventoryItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release",
		attribute.String("kind", string(item.Kind)),
		attribute.Int64("item_id", item.ID()))
	defer span.End()

	released, err := s.inventory.ReleaseItem(ctx, item.Ref())
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to release %s %d: %w", item.Kind, item.ID(), err)
	}
	if !released {
		return nil
	}

	util.InventoryReleasesTotal.WithLabelValues(string(item.Kind)).Inc()
	s.restocked(ctx, item.ProductID(), item.Kind)

	s.logger.Info("Inventory item released",
		zap.String("kind", string(item.Kind)),
		zap.Int64("item_id", item.ID()))
	return nil
}

// ActivateProviderResource obtains provider data for a reserved number or
// proxy slot and stores it on the row. Social media logins are returned
// unchanged. Any failure, including a timeout, wraps ErrProviderAllocationFailed
// and leaves the row reserved for the caller to release.
func (s *InventoryService) ActivateProviderResource(ctx context.Context, item *models.InventoryItem, allocator provider.Allocator) (*models.InventoryItem, error) {
	if !item.Kind.NeedsProvider() {
		return item, nil
	}

	ctx, span := util.StartSpan(ctx, "InventoryService.ActivateProviderResource",
		attribute.String("kind", string(item.Kind)),
		attribute.Int64("item_id", item.ID()))
	defer span.End()

	kind := string(item.Kind)
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	var (
		activated *models.InventoryItem
		err       error
	)
	switch item.Kind {
	case models.KindNumberService:
		var alloc models.NumberAllocation
		alloc, err = allocator.AllocateNumber(callCtx, item.NumberService.CountryCode, item.NumberService.APIProvider)
		util.ProviderAllocationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			break
		}
		var number *models.NumberService
		if number, err = s.inventory.AssignNumber(ctx, item.ID(), alloc); err == nil {
			activated = models.NumberServiceItem(number)
		}
	case models.KindProxyService:
		var creds models.ProxyCredentials
		creds, err = allocator.AllocateProxy(callCtx, item.ProxyService.ProxyType, item.ProxyService.Location)
		util.ProviderAllocationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			break
		}
		var proxy *models.ProxyService
		if proxy, err = s.inventory.AssignProxy(ctx, item.ID(), creds); err == nil {
			activated = models.ProxyServiceItem(proxy)
		}
	}

	if err != nil {
		util.ProviderAllocationFailed.WithLabelValues(kind).Inc()
		util.RecordError(span, err)
		s.logger.Warn("Provider activation failed",
			zap.String("kind", kind),
			zap.Int64("item_id", item.ID()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s %d: %v", models.ErrProviderAllocationFailed, kind, item.ID(), err)
	}

	return activated, nil
}

// GetItem fetches an inventory row by kind and id
func (s *InventoryService) GetItem(ctx context.Context, kind models.ItemKind, id int64) (*models.InventoryItem, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown item kind %q: %w", kind, models.ErrInvalidInput)
	}
	return s.inventory.GetItem(ctx, models.ItemRef{Kind: kind, ID: id})
}

// ListAvailable lists the reservable items of a product
func (s *InventoryService) ListAvailable(ctx context.Context, productID int64) ([]models.InventoryItem, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	kind, ok := product.ItemKind()
	if !ok {
		return nil, fmt.Errorf("product %d has unknown category %q: %w", productID, product.Category, models.ErrInvalidInput)
	}
	return s.inventory.ListAvailableItems(ctx, productID, kind)
}

// AvailableCount reports how many items of a product are left, preferring
// the Redis counter and falling back to Postgres.
func (s *InventoryService) AvailableCount(ctx context.Context, productID int64) (int, error) {
	if s.stock != nil {
		n, ok, err := s.stock.GetStock(ctx, productID)
		if err == nil && ok {
			return int(n), nil
		}
		if err != nil {
			s.logger.Warn("Stock counter read failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	kind, ok := product.ItemKind()
	if !ok {
		return 0, fmt.Errorf("product %d has unknown category %q: %w", productID, product.Category, models.ErrInvalidInput)
	}
	return s.inventory.CountAvailableItems(ctx, productID, kind)
}

// SyncStockCounters rebuilds every product's Redis counter from Postgres
func (s *InventoryService) SyncStockCounters(ctx context.Context) error {
	if s.stock == nil {
		return nil
	}

	s.logger.Info("Starting stock counter sync to Redis")

	products, err := s.catalog.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for _, product := range products {
		kind, ok := product.ItemKind()
		if !ok {
			continue
		}
		if err := s.syncCounter(ctx, product.ID, kind); err != nil {
			s.logger.Error("Failed to sync stock counter",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("Stock counter sync completed", zap.Int("count", len(products)))
	return nil
}

func (s *InventoryService) syncCounter(ctx context.Context, productID int64, kind models.ItemKind) error {
	n, err := s.inventory.CountAvailableItems(ctx, productID, kind)
	if err != nil {
		return err
	}
	return s.stock.InitStock(ctx, productID, n)
}

func (s *InventoryService) productOfKind(ctx context.Context, productID int64, want models.ItemKind) (*models.Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if kind, _ := product.ItemKind(); kind != want {
		return nil, fmt.Errorf("product %d is %s and cannot stock %s: %w", productID, product.Category, want, models.ErrInvalidInput)
	}
	return product, nil
}

// reserved decrements the counter after a successful reservation and hides the
// product once the last item is gone.
func (s *InventoryService) reserved(ctx context.Context, productID int64, kind models.ItemKind) {
	if s.stock == nil {
		return
	}

	left, err := s.stock.DecrStock(ctx, productID)
	if err != nil {
		s.logger.Warn("Stock counter decrement failed", zap.Int64("product_id", productID), zap.Error(err))
		return
	}
	if left < 0 {
		// counter missing; rebuild it from the source of truth
		if err := s.syncCounter(ctx, productID, kind); err != nil {
			s.logger.Warn("Stock counter rebuild failed", zap.Int64("product_id", productID), zap.Error(err))
			return
		}
		if left, _, err = s.stock.GetStock(ctx, productID); err != nil {
			return
		}
	}
	if left > 0 {
		return
	}

	// the counter can drift; only Postgres may hide a product
	n, err := s.inventory.CountAvailableItems(ctx, productID, kind)
	if err != nil {
		s.logger.Warn("Failed to count available items", zap.Int64("product_id", productID), zap.Error(err))
		return
	}
	if n > 0 {
		if err := s.stock.InitStock(ctx, productID, n); err != nil {
			s.logger.Warn("Stock counter rebuild failed", zap.Int64("product_id", productID), zap.Error(err))
		}
		return
	}
	s.soldOut(ctx, productID)
}

func (s *InventoryService) soldOut(ctx context.Context, productID int64) {
	if err := s.catalog.SetAvailability(ctx, productID, false); err != nil {
		s.logger.Warn("Failed to mark product unavailable", zap.Int64("product_id", productID), zap.Error(err))
	}
}

// restocked bumps the counter after an item becomes available again and
// re-enables the product.
func (s *InventoryService) restocked(ctx context.Context, productID int64, kind models.ItemKind) {
	if s.stock != nil {
		left, err := s.stock.IncrStock(ctx, productID)
		if err != nil {
			s.logger.Warn("Stock counter increment failed", zap.Int64("product_id", productID), zap.Error(err))
		} else if left < 0 {
			if err := s.syncCounter(ctx, productID, kind); err != nil {
				s.logger.Warn("Stock counter rebuild failed", zap.Int64("product_id", productID), zap.Error(err))
			}
		}
	}

	// the cache may still hold a copy from before the sell-out
	available, err := s.catalog.storedAvailability(ctx, productID)
	if err != nil {
		s.logger.Warn("Failed to read product availability", zap.Int64("product_id", productID), zap.Error(err))
		return
	}
	if available {
		return
	}
	if err := s.catalog.SetAvailability(ctx, productID, true); err != nil {
		s.logger.Warn("Failed to mark product available", zap.Int64("product_id", productID), zap.Error(err))
	}
}
