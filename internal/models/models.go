package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product categories
const (
	CategorySocialMedia   = "social_media"
	CategoryNumberService = "number_service"
	CategoryProxyService  = "proxy_service"
)

// Proxy types
const (
	ProxyTypeResidential = "residential"
	ProxyTypeDatacenter  = "datacenter"
	ProxyTypeSocks5      = "socks5"
)

// User represents a marketplace customer
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Product represents a purchasable digital good
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description"`
	Category    string          `db:"category" json:"category"`
	Price       decimal.Decimal `db:"price" json:"price"`
	IsAvailable bool            `db:"is_available" json:"is_available"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// ItemKind returns the inventory kind that stocks products of this category
func (p *Product) ItemKind() (ItemKind, bool) {
	return KindForCategory(p.Category)
}

// SocialMediaLogin is a pre-made account sold as-is
type SocialMediaLogin struct {
	ID            int64     `db:"id" json:"id"`
	ProductID     int64     `db:"product_id" json:"product_id"`
	Platform      string    `db:"platform" json:"platform"`
	Username      string    `db:"username" json:"username"`
	Password      string    `db:"password" json:"password"`
	Email         string    `db:"email" json:"email"`
	EmailPassword string    `db:"email_password" json:"email_password"`
	RecoveryCodes *string   `db:"recovery_codes" json:"recovery_codes"`
	AuthTokens    *string   `db:"auth_tokens" json:"auth_tokens"`
	IsSold        bool      `db:"is_sold" json:"is_sold"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// NumberService is a phone number slot; the number is assigned by a provider at fulfillment
type NumberService struct {
	ID                int64     `db:"id" json:"id"`
	ProductID         int64     `db:"product_id" json:"product_id"`
	CountryCode       string    `db:"country_code" json:"country_code"`
	CountryName       string    `db:"country_name" json:"country_name"`
	PhoneNumber       *string   `db:"phone_number" json:"phone_number"`
	APIProvider       string    `db:"api_provider" json:"api_provider"`
	ProviderServiceID *string   `db:"provider_service_id" json:"provider_service_id"`
	ExpiresAt         time.Time `db:"expires_at" json:"expires_at"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// ProxyService is a proxy slot; credentials are assigned by a provider at fulfillment
type ProxyService struct {
	ID             int64      `db:"id" json:"id"`
	ProductID      int64      `db:"product_id" json:"product_id"`
	ProxyType      string     `db:"proxy_type" json:"proxy_type"`
	Location       string     `db:"location" json:"location"`
	IPAddress      *string    `db:"ip_address" json:"ip_address"`
	Port           *int       `db:"port" json:"port"`
	Username       *string    `db:"username" json:"username"`
	Password       *string    `db:"password" json:"password"`
	BandwidthLimit *string    `db:"bandwidth_limit" json:"bandwidth_limit"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Order represents a customer purchase of one product
type Order struct {
	ID            int64           `db:"id" json:"id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	Status        string          `db:"status" json:"status"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentMethod *string         `db:"payment_method" json:"payment_method"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItemDetails links a completed order to the single inventory item allocated to it
type OrderItemDetails struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	ItemKind  ItemKind  `db:"item_kind" json:"item_kind"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// OrderDetails is the read model returned to the order owner
type OrderDetails struct {
	Order          *Order          `json:"order"`
	Product        *ProductSummary `json:"product"`
	PurchasedItems PurchasedItems  `json:"purchased_items"`
}

// ProductSummary is the product view embedded in OrderDetails
type ProductSummary struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
}

// PurchasedItems carries at most one populated field, matching the allocated kind
type PurchasedItems struct {
	SocialMediaLogin *PurchasedLogin  `json:"social_media_login,omitempty"`
	NumberService    *PurchasedNumber `json:"number_service,omitempty"`
	ProxyService     *PurchasedProxy  `json:"proxy_service,omitempty"`
}

type PurchasedLogin struct {
	Platform      string  `json:"platform"`
	Username      string  `json:"username"`
	Password      string  `json:"password"`
	Email         string  `json:"email"`
	EmailPassword string  `json:"email_password"`
	RecoveryCodes *string `json:"recovery_codes"`
	AuthTokens    *string `json:"auth_tokens"`
}

type PurchasedNumber struct {
	CountryCode string    `json:"country_code"`
	CountryName string    `json:"country_name"`
	PhoneNumber *string   `json:"phone_number"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type PurchasedProxy struct {
	ProxyType      string     `json:"proxy_type"`
	Location       string     `json:"location"`
	IPAddress      *string    `json:"ip_address"`
	Port           *int       `json:"port"`
	Username       *string    `json:"username"`
	Password       *string    `json:"password"`
	BandwidthLimit *string    `json:"bandwidth_limit"`
	ExpiresAt      *time.Time `json:"expires_at"`
}
