package models

// ItemKind discriminates the three inventory tables
type ItemKind string

const (
	KindSocialMediaLogin ItemKind = "social_media_login"
	KindNumberService    ItemKind = "number_service"
	KindProxyService     ItemKind = "proxy_service"
)

// KindForCategory maps a product category to the inventory kind that stocks it
func KindForCategory(category string) (ItemKind, bool) {
	switch category {
	case CategorySocialMedia:
		return KindSocialMediaLogin, true
	case CategoryNumberService:
		return KindNumberService, true
	case CategoryProxyService:
		return KindProxyService, true
	}
	return "", false
}

// Valid reports whether k is one of the known kinds
func (k ItemKind) Valid() bool {
	switch k {
	case KindSocialMediaLogin, KindNumberService, KindProxyService:
		return true
	}
	return false
}

// NeedsProvider reports whether items of this kind are activated by an external provider
func (k ItemKind) NeedsProvider() bool {
	return k == KindNumberService || k == KindProxyService
}

// InventoryItem is one sellable unit. Exactly one payload pointer is set and it
// always matches Kind; use the constructors to build one.
type InventoryItem struct {
	Kind          ItemKind          `json:"kind"`
	SocialMedia   *SocialMediaLogin `json:"social_media_login,omitempty"`
	NumberService *NumberService    `json:"number_service,omitempty"`
	ProxyService  *ProxyService     `json:"proxy_service,omitempty"`
}

func SocialMediaItem(l *SocialMediaLogin) *InventoryItem {
	return &InventoryItem{Kind: KindSocialMediaLogin, SocialMedia: l}
}

func NumberServiceItem(n *NumberService) *InventoryItem {
	return &InventoryItem{Kind: KindNumberService, NumberService: n}
}

func ProxyServiceItem(p *ProxyService) *InventoryItem {
	return &InventoryItem{Kind: KindProxyService, ProxyService: p}
}

// ID returns the row id of the populated payload
func (i *InventoryItem) ID() int64 {
	switch i.Kind {
	case KindSocialMediaLogin:
		return i.SocialMedia.ID
	case KindNumberService:
		return i.NumberService.ID
	case KindProxyService:
		return i.ProxyService.ID
	}
	return 0
}

// ProductID returns the owning product of the populated payload
func (i *InventoryItem) ProductID() int64 {
	switch i.Kind {
	case KindSocialMediaLogin:
		return i.SocialMedia.ProductID
	case KindNumberService:
		return i.NumberService.ProductID
	case KindProxyService:
		return i.ProxyService.ProductID
	}
	return 0
}

// Ref returns the allocation reference for this item
func (i *InventoryItem) Ref() ItemRef {
	return ItemRef{Kind: i.Kind, ID: i.ID()}
}

// ItemRef identifies an inventory row without carrying its payload
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   int64    `json:"id"`
}

// ProxyCredentials are the network credentials assigned to a proxy slot
type ProxyCredentials struct {
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// NumberAllocation is a phone number assigned by a provider
type NumberAllocation struct {
	PhoneNumber       string `json:"phone_number"`
	ProviderServiceID string `json:"provider_service_id"`
}
