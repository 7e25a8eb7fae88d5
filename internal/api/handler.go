package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency probed by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	users     *service.UserService
	catalog   *service.CatalogService
	inventory *service.InventoryService
	orders    *service.OrderService
	projector *service.OrderDetailProjector
	readiness map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	users *service.UserService,
	catalog *service.CatalogService,
	inventory *service.InventoryService,
	orders *service.OrderService,
	projector *service.OrderDetailProjector,
) *Handler {
	return &Handler{
		users:     users,
		catalog:   catalog,
		inventory: inventory,
		orders:    orders,
		projector: projector,
		readiness: map[string]Pinger{},
		logger:    util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency that must answer before /ready succeeds
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.readiness[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/users", h.createUser)
		v1.GET("/users/:id/orders", h.getUserOrders)

		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/products/:id/social-media-logins", h.createSocialMediaLogin)
		v1.POST("/products/:id/number-services", h.createNumberService)
		v1.POST("/products/:id/proxy-services", h.createProxyService)
		v1.GET("/products/:id/available-items", h.listAvailableItems)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrderDetails)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/fulfill", h.fulfillOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"failures": failures,
			"time":     time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) createUser(c *gin.Context) {
	var req service.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, "Failed to create user", err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *Handler) getUserOrders(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}

	orders, err := h.orders.GetUserOrders(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "Failed to list orders", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, "Failed to create product", err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.respondError(c, "Failed to list products", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, "Product not found", err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) createSocialMediaLogin(c *gin.Context) {
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}
	var req service.CreateSocialMediaLoginRequest
	if !bindJSON(c, &req) {
		return
	}

	login, err := h.inventory.CreateSocialMediaLogin(c.Request.Context(), productID, &req)
	if err != nil {
		h.respondError(c, "Failed to add social media login", err)
		return
	}

	c.JSON(http.StatusCreated, login)
}

func (h *Handler) createNumberService(c *gin.Context) {
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}
	var req service.CreateNumberServiceRequest
	if !bindJSON(c, &req) {
		return
	}

	number, err := h.inventory.CreateNumberService(c.Request.Context(), productID, &req)
	if err != nil {
		h.respondError(c, "Failed to add number service", err)
		return
	}

	c.JSON(http.StatusCreated, number)
}

func (h *Handler) createProxyService(c *gin.Context) {
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}
	var req service.CreateProxyServiceRequest
	if !bindJSON(c, &req) {
		return
	}

	proxy, err := h.inventory.CreateProxyService(c.Request.Context(), productID, &req)
	if err != nil {
		h.respondError(c, "Failed to add proxy service", err)
		return
	}

	c.JSON(http.StatusCreated, proxy)
}

func (h *Handler) listAvailableItems(c *gin.Context) {
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}

	items, err := h.inventory.ListAvailable(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, "Failed to list available items", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrderDetails returns the order with purchased credentials to its owner.
// The caller is identified by the user_id query parameter or X-User-ID header.
func (h *Handler) getOrderDetails(c *gin.Context) {
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	raw := c.Query("user_id")
	if raw == "" {
		raw = c.GetHeader("X-User-ID")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "A valid user_id is required",
		})
		return
	}

	details, err := h.projector.Get(c.Request.Context(), orderID, userID)
	if err != nil {
		h.respondError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}
	var req service.UpdateOrderStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, &req)
	if err != nil {
		h.respondError(c, "Failed to update order status", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) fulfillOrder(c *gin.Context) {
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	result, err := h.orders.FulfillOrder(c.Request.Context(), orderID, nil)
	if err != nil {
		h.respondError(c, "Failed to fulfill order", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + what + " ID",
		})
		return 0, false
	}
	return id, true
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrOutOfStock):
		return http.StatusConflict
	case errors.Is(err, models.ErrProductUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrProviderAllocationFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
