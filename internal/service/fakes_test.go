package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory repository with the same compare-and-set semantics
// as the Postgres store.
type memRepo struct {
	mu     sync.Mutex
	nextID int64

	users    map[int64]*models.User
	products map[int64]*models.Product
	logins   map[int64]*models.SocialMediaLogin
	numbers  map[int64]*models.NumberService
	proxies  map[int64]*models.ProxyService
	orders   map[int64]*models.Order

	allocations map[int64]*models.OrderItemDetails
	allocated   map[models.ItemRef]int64
	processed   map[string]bool

	// transientReserves makes the next n ReserveItem calls fail with ErrTransient
	transientReserves int
	reserveCalls      int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:       map[int64]*models.User{},
		products:    map[int64]*models.Product{},
		logins:      map[int64]*models.SocialMediaLogin{},
		numbers:     map[int64]*models.NumberService{},
		proxies:     map[int64]*models.ProxyService{},
		orders:      map[int64]*models.Order{},
		allocations: map[int64]*models.OrderItemDetails{},
		allocated:   map[models.ItemRef]int64{},
		processed:   map[string]bool{},
	}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: users_email_key", models.ErrConflict)
		}
	}
	user.ID = r.id()
	user.CreatedAt, user.UpdatedAt = time.Now(), time.Now()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memRepo) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) CreateProduct(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	product.ID = r.id()
	product.CreatedAt, product.UpdatedAt = time.Now(), time.Now()
	cp := *product
	r.products[product.ID] = &cp
	return nil
}

func (r *memRepo) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) ListProducts(_ context.Context, category string) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Product{}
	for _, id := range sortedKeys(r.products) {
		p := r.products[id]
		if category == "" || p.Category == category {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) SetProductAvailability(_ context.Context, id int64, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	p.IsAvailable = available
	return nil
}

func (r *memRepo) CreateSocialMediaLogin(_ context.Context, l *models.SocialMediaLogin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.ID = r.id()
	cp := *l
	r.logins[l.ID] = &cp
	return nil
}

func (r *memRepo) CreateNumberService(_ context.Context, n *models.NumberService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = r.id()
	cp := *n
	r.numbers[n.ID] = &cp
	return nil
}

func (r *memRepo) CreateProxyService(_ context.Context, p *models.ProxyService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	cp := *p
	r.proxies[p.ID] = &cp
	return nil
}

func (r *memRepo) loginAvailable(l *models.SocialMediaLogin, productID int64) bool {
	return l.ProductID == productID && !l.IsSold
}

func (r *memRepo) numberAvailable(n *models.NumberService, productID int64) bool {
	return n.ProductID == productID && n.IsActive && n.ExpiresAt.After(time.Now())
}

func (r *memRepo) proxyAvailable(p *models.ProxyService, productID int64) bool {
	return p.ProductID == productID && p.IsActive && (p.ExpiresAt == nil || p.ExpiresAt.After(time.Now()))
}

func (r *memRepo) ReserveItem(_ context.Context, productID int64, kind models.ItemKind) (*models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserveCalls++
	if r.transientReserves > 0 {
		r.transientReserves--
		return nil, fmt.Errorf("%w: simulated contention", store.ErrTransient)
	}

	switch kind {
	case models.KindSocialMediaLogin:
		for _, id := range sortedKeys(r.logins) {
			if l := r.logins[id]; r.loginAvailable(l, productID) {
				l.IsSold = true
				cp := *l
				return models.SocialMediaItem(&cp), nil
			}
		}
	case models.KindNumberService:
		for _, id := range sortedKeys(r.numbers) {
			if n := r.numbers[id]; r.numberAvailable(n, productID) {
				n.IsActive = false
				cp := *n
				return models.NumberServiceItem(&cp), nil
			}
		}
	case models.KindProxyService:
		for _, id := range sortedKeys(r.proxies) {
			if p := r.proxies[id]; r.proxyAvailable(p, productID) {
				p.IsActive = false
				cp := *p
				return models.ProxyServiceItem(&cp), nil
			}
		}
	default:
		return nil, fmt.Errorf("unknown item kind %q: %w", kind, models.ErrInvalidInput)
	}
	return nil, fmt.Errorf("product %d: %w", productID, models.ErrOutOfStock)
}

func (r *memRepo) ReleaseItem(_ context.Context, ref models.ItemRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.allocated[ref]; taken {
		return false, nil
	}
	switch ref.Kind {
	case models.KindSocialMediaLogin:
		if l, ok := r.logins[ref.ID]; ok && l.IsSold {
			l.IsSold = false
			return true, nil
		}
	case models.KindNumberService:
		if n, ok := r.numbers[ref.ID]; ok && !n.IsActive {
			n.IsActive = true
			n.PhoneNumber, n.ProviderServiceID = nil, nil
			return true, nil
		}
	case models.KindProxyService:
		if p, ok := r.proxies[ref.ID]; ok && !p.IsActive {
			p.IsActive = true
			p.IPAddress, p.Port, p.Username, p.Password = nil, nil, nil, nil
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) AssignNumber(_ context.Context, id int64, alloc models.NumberAllocation) (*models.NumberService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[id]
	if !ok || n.IsActive {
		return nil, fmt.Errorf("reserved number service %d: %w", id, models.ErrNotFound)
	}
	n.PhoneNumber = &alloc.PhoneNumber
	n.ProviderServiceID = &alloc.ProviderServiceID
	cp := *n
	return &cp, nil
}

func (r *memRepo) AssignProxy(_ context.Context, id int64, creds models.ProxyCredentials) (*models.ProxyService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[id]
	if !ok || p.IsActive {
		return nil, fmt.Errorf("reserved proxy service %d: %w", id, models.ErrNotFound)
	}
	p.IPAddress, p.Port = &creds.IPAddress, &creds.Port
	p.Username, p.Password = &creds.Username, &creds.Password
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetItem(_ context.Context, ref models.ItemRef) (*models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ref.Kind {
	case models.KindSocialMediaLogin:
		if l, ok := r.logins[ref.ID]; ok {
			cp := *l
			return models.SocialMediaItem(&cp), nil
		}
	case models.KindNumberService:
		if n, ok := r.numbers[ref.ID]; ok {
			cp := *n
			return models.NumberServiceItem(&cp), nil
		}
	case models.KindProxyService:
		if p, ok := r.proxies[ref.ID]; ok {
			cp := *p
			return models.ProxyServiceItem(&cp), nil
		}
	}
	return nil, fmt.Errorf("%s %d: %w", ref.Kind, ref.ID, models.ErrNotFound)
}

func (r *memRepo) ListAvailableItems(_ context.Context, productID int64, kind models.ItemKind) ([]models.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.InventoryItem{}
	switch kind {
	case models.KindSocialMediaLogin:
		for _, id := range sortedKeys(r.logins) {
			if l := r.logins[id]; r.loginAvailable(l, productID) {
				cp := *l
				out = append(out, *models.SocialMediaItem(&cp))
			}
		}
	case models.KindNumberService:
		for _, id := range sortedKeys(r.numbers) {
			if n := r.numbers[id]; r.numberAvailable(n, productID) {
				cp := *n
				out = append(out, *models.NumberServiceItem(&cp))
			}
		}
	case models.KindProxyService:
		for _, id := range sortedKeys(r.proxies) {
			if p := r.proxies[id]; r.proxyAvailable(p, productID) {
				cp := *p
				out = append(out, *models.ProxyServiceItem(&cp))
			}
		}
	}
	return out, nil
}

func (r *memRepo) CountAvailableItems(ctx context.Context, productID int64, kind models.ItemKind) (int, error) {
	items, err := r.ListAvailableItems(ctx, productID, kind)
	return len(items), err
}

func (r *memRepo) CreateOrder(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order.ID = r.id()
	order.CreatedAt, order.UpdatedAt = time.Now(), time.Now()
	cp := *order
	r.orders[order.ID] = &cp
	return nil
}

func (r *memRepo) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Order{}
	ids := sortedKeys(r.orders)
	for i := len(ids) - 1; i >= 0; i-- {
		if o := r.orders[ids[i]]; o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memRepo) TransitionOrderStatus(_ context.Context, orderID int64, from, to string, transactionID *string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if o.Status != from {
		return nil, fmt.Errorf("order %d is %s, not %s: %w", orderID, o.Status, from, models.ErrInvalidTransition)
	}
	o.Status = to
	if transactionID != nil {
		o.TransactionID = transactionID
	}
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (r *memRepo) CompleteOrder(_ context.Context, orderID int64, ref models.ItemRef, transactionID *string) (*models.OrderItemDetails, *models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.allocations[orderID]; ok {
		return nil, nil, fmt.Errorf("%w: order_item_details_order_uniq", models.ErrConflict)
	}
	if _, ok := r.allocated[ref]; ok {
		return nil, nil, fmt.Errorf("%w: order_item_details_item_uniq", models.ErrConflict)
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		return nil, nil, fmt.Errorf("order %d is no longer pending: %w", orderID, models.ErrInvalidTransition)
	}

	details := &models.OrderItemDetails{ID: r.id(), OrderID: orderID, ItemKind: ref.Kind, ItemID: ref.ID, CreatedAt: time.Now()}
	r.allocations[orderID] = details
	r.allocated[ref] = orderID
	o.Status = models.OrderStatusCompleted
	if transactionID != nil {
		o.TransactionID = transactionID
	}
	cd, co := *details, *o
	return &cd, &co, nil
}

func (r *memRepo) GetAllocationByOrderID(_ context.Context, orderID int64) (*models.OrderItemDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.allocations[orderID]
	if !ok {
		return nil, fmt.Errorf("allocation for order %d: %w", orderID, models.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[eventID], nil
}

func (r *memRepo) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[eventID] = true
	return nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// memRedis fakes the stock counters, locks and product cache
type memRedis struct {
	mu       sync.Mutex
	stock    map[int64]int64
	locks    map[string]string
	products map[int64]models.Product
}

func newMemRedis() *memRedis {
	return &memRedis{
		stock:    map[int64]int64{},
		locks:    map[string]string{},
		products: map[int64]models.Product{},
	}
}

func (m *memRedis) InitStock(_ context.Context, productID int64, available int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = int64(available)
	return nil
}

func (m *memRedis) DecrStock(_ context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.stock[productID]
	if !ok {
		return -1, nil
	}
	if n > 0 {
		n--
		m.stock[productID] = n
	}
	return n, nil
}

func (m *memRedis) IncrStock(_ context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.stock[productID]
	if !ok {
		return -1, nil
	}
	m.stock[productID] = n + 1
	return n + 1, nil
}

func (m *memRedis) GetStock(_ context.Context, productID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.stock[productID]
	return n, ok, nil
}

func (m *memRedis) AcquireLock(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[name]; held {
		return "", false, nil
	}
	token := uuid.New().String()
	m.locks[name] = token
	return token, true, nil
}

func (m *memRedis) ReleaseLock(_ context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[name] == token {
		delete(m.locks, name)
	}
	return nil
}

func (m *memRedis) CacheProduct(_ context.Context, product *models.Product, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = *product
	return nil
}

func (m *memRedis) GetCachedProduct(_ context.Context, productID int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memRedis) InvalidateProduct(_ context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, productID)
	return nil
}

// recordingPublisher keeps every published event type in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	failed []*models.OrderFailedEvent
}

func (p *recordingPublisher) record(eventType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) PublishOrderFulfilled(_ context.Context, e *models.OrderFulfilledEvent) error {
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) PublishOrderFailed(_ context.Context, e *models.OrderFailedEvent) error {
	p.record(e.EventType)
	p.mu.Lock()
	p.failed = append(p.failed, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishOrderRefunded(_ context.Context, e *models.OrderRefundedEvent) error {
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// stubAllocator returns fixed provider data unless told to fail
type stubAllocator struct {
	mu     sync.Mutex
	number models.NumberAllocation
	proxy  models.ProxyCredentials
	err    error
	block  bool
	calls  int
	// before runs inside the provider call, ahead of the result
	before func()
}

func (a *stubAllocator) AllocateNumber(ctx context.Context, _, _ string) (models.NumberAllocation, error) {
	if err := a.call(ctx); err != nil {
		return models.NumberAllocation{}, err
	}
	return a.number, nil
}

func (a *stubAllocator) AllocateProxy(ctx context.Context, _, _ string) (models.ProxyCredentials, error) {
	if err := a.call(ctx); err != nil {
		return models.ProxyCredentials{}, err
	}
	return a.proxy, nil
}

func (a *stubAllocator) call(ctx context.Context) error {
	a.mu.Lock()
	a.calls++
	block, err, before := a.block, a.err, a.before
	a.mu.Unlock()
	if before != nil {
		before()
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// fixture wires every service over the in-memory fakes
type fixture struct {
	repo      *memRepo
	redis     *memRedis
	events    *recordingPublisher
	allocator *stubAllocator

	catalog     *CatalogService
	inventory   *InventoryService
	fulfillment *FulfillmentEngine
	orders      *OrderService
	projector   *OrderDetailProjector
	users       *UserService
	saga        *PaymentSaga
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemRepo(),
		redis:  newMemRedis(),
		events: &recordingPublisher{},
		allocator: &stubAllocator{
			number: models.NumberAllocation{PhoneNumber: "+15551230000", ProviderServiceID: "svc-1"},
			proxy:  models.ProxyCredentials{IPAddress: "203.0.113.7", Port: 8080, Username: "proxyuser", Password: "proxypass"},
		},
	}
	f.catalog = NewCatalogService(f.repo, f.redis, time.Minute)
	f.inventory = NewInventoryService(f.repo, f.catalog, f.redis, 3, 50*time.Millisecond)
	f.fulfillment = NewFulfillmentEngine(f.repo, f.catalog, f.inventory, f.allocator, f.redis, f.events, 30*time.Second)
	f.orders = NewOrderService(f.repo, f.repo, f.catalog, f.fulfillment, f.events)
	f.projector = NewOrderDetailProjector(f.repo, f.catalog, f.inventory)
	f.users = NewUserService(f.repo)
	f.saga = NewPaymentSaga(f.repo, f.orders)
	return f
}

func (f *fixture) user(email string) *models.User {
	u, err := f.users.CreateUser(context.Background(), &CreateUserRequest{
		Email: email, Password: "correct-horse", FullName: "Test Buyer",
	})
	if err != nil {
		panic(err)
	}
	return u
}

func (f *fixture) product(category, price string) *models.Product {
	p, err := f.catalog.CreateProduct(context.Background(), &CreateProductRequest{
		Name:     category + " product",
		Category: category,
		Price:    decimal.RequireFromString(price),
	})
	if err != nil {
		panic(err)
	}
	return p
}

func (f *fixture) logins(productID int64, n int) {
	for i := 0; i < n; i++ {
		_, err := f.inventory.CreateSocialMediaLogin(context.Background(), productID, &CreateSocialMediaLoginRequest{
			Platform:      "instagram",
			Username:      fmt.Sprintf("acct%d", i),
			Password:      "pw",
			Email:         fmt.Sprintf("acct%d@example.com", i),
			EmailPassword: "epw",
		})
		if err != nil {
			panic(err)
		}
	}
}

func (f *fixture) numbers(productID int64, country string, n int) {
	for i := 0; i < n; i++ {
		_, err := f.inventory.CreateNumberService(context.Background(), productID, &CreateNumberServiceRequest{
			CountryCode: country,
			CountryName: "United States",
			APIProvider: "sms-activate",
			ExpiresAt:   time.Now().Add(24 * time.Hour),
		})
		if err != nil {
			panic(err)
		}
	}
}

func (f *fixture) proxies(productID int64, n int) {
	for i := 0; i < n; i++ {
		_, err := f.inventory.CreateProxyService(context.Background(), productID, &CreateProxyServiceRequest{
			ProxyType: models.ProxyTypeResidential,
			Location:  "US",
		})
		if err != nil {
			panic(err)
		}
	}
}

func (f *fixture) order(userID, productID int64) *models.Order {
	o, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{UserID: userID, ProductID: productID})
	if err != nil {
		panic(err)
	}
	return o
}
