package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService serves product definitions, read-through a Redis cache
type CatalogService struct {
	products ProductRepository
	cache    ProductCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(products ProductRepository, cache ProductCache, cacheTTL time.Duration) *CatalogService {
	return &CatalogService{
		products: products,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// CreateProductRequest represents a request to create a product
type CreateProductRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description *string         `json:"description"`
	Category    string          `json:"category" binding:"required,oneof=social_media number_service proxy_service"`
	Price       decimal.Decimal `json:"price"`
}

// CreateProduct adds a product to the catalog; it starts available
func (s *CatalogService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("product name is required: %w", models.ErrInvalidInput)
	}
	if _, ok := models.KindForCategory(req.Category); !ok {
		return nil, fmt.Errorf("unknown category %q: %w", req.Category, models.ErrInvalidInput)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("price must be positive: %w", models.ErrInvalidInput)
	}

	product := &models.Product{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price.Round(2),
		IsAvailable: true,
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.String("category", product.Category))
	return product, nil
}

// GetProduct retrieves a product, preferring the cache
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCachedProduct(ctx, productID)
		if err != nil {
			s.logger.Warn("Product cache read failed", zap.Int64("product_id", productID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheProduct(ctx, product, s.cacheTTL); err != nil {
			s.logger.Warn("Product cache write failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}
	return product, nil
}

// GetPrice returns the authoritative price used for order totals
func (s *CatalogService) GetPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return product.Price, nil
}

// IsAvailable reports the product availability flag
func (s *CatalogService) IsAvailable(ctx context.Context, productID int64) (bool, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return product.IsAvailable, nil
}

// storedAvailability reads the flag from the store, bypassing the cache
func (s *CatalogService) storedAvailability(ctx context.Context, productID int64) (bool, error) {
	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return false, err
	}
	return product.IsAvailable, nil
}

// List returns all products, or only those of category when it is non-empty
func (s *CatalogService) List(ctx context.Context, category string) ([]models.Product, error) {
	if category != "" {
		if _, ok := models.KindForCategory(category); !ok {
			return nil, fmt.Errorf("unknown category %q: %w", category, models.ErrInvalidInput)
		}
	}
	return s.products.ListProducts(ctx, category)
}

// SetAvailability toggles the availability flag and drops the cached copy
func (s *CatalogService) SetAvailability(ctx context.Context, productID int64, available bool) error {
	if err := s.products.SetProductAvailability(ctx, productID, available); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateProduct(ctx, productID); err != nil {
			s.logger.Warn("Product cache invalidation failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}

	s.logger.Info("Product availability changed",
		zap.Int64("product_id", productID),
		zap.Bool("available", available))
	return nil
}
