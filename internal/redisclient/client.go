package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/decr_stock.lua
var decrStockScript string

//go:embed scripts/incr_stock.lua
var incrStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb          *redis.Client
	decrScript   *redis.Script
	incrScript   *redis.Script
	unlockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		decrScript:   redis.NewScript(decrStockScript),
		incrScript:   redis.NewScript(incrStockScript),
		unlockScript: redis.NewScript(releaseLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

func productKey(productID int64) string {
	return fmt.Sprintf("product:%d", productID)
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// InitStock sets the available-item counter for a product
func (c *Client) InitStock(ctx context.Context, productID int64, available int) error {
	return c.rdb.Set(ctx, stockKey(productID), available, 0).Err()
}

// DecrStock decrements the counter without going below zero.
// Returns -1 when the counter is not initialised.
func (c *Client) DecrStock(ctx context.Context, productID int64) (int64, error) {
	result, err := c.decrScript.Run(ctx, c.rdb, []string{stockKey(productID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decr stock script failed: %w", err)
	}
	return result, nil
}

// IncrStock increments an initialised counter.
// Returns -1 when the counter is not initialised.
func (c *Client) IncrStock(ctx context.Context, productID int64) (int64, error) {
	result, err := c.incrScript.Run(ctx, c.rdb, []string{stockKey(productID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr stock script failed: %w", err)
	}
	return result, nil
}

// GetStock returns the counter value; ok is false when it is not initialised
func (c *Client) GetStock(ctx context.Context, productID int64) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// AcquireLock takes a named lock and returns the owner token needed to release it
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock only if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	_, err := c.unlockScript.Run(ctx, c.rdb, []string{lockKey(name)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// CacheProduct stores a product snapshot with a TTL
func (c *Client) CacheProduct(ctx context.Context, product *models.Product, ttl time.Duration) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	return c.rdb.Set(ctx, productKey(product.ID), data, ttl).Err()
}

// GetCachedProduct returns a cached product, or nil on a cache miss
func (c *Client) GetCachedProduct(ctx context.Context, productID int64) (*models.Product, error) {
	data, err := c.rdb.Get(ctx, productKey(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached product: %w", err)
	}
	return &product, nil
}

// InvalidateProduct drops a cached product
func (c *Client) InvalidateProduct(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, productKey(productID)).Err()
}
