package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
)

// Reservation claims the lowest-id eligible row with SKIP LOCKED so that
// concurrent callers are routed to distinct rows; the outer predicate repeats
// the eligibility check so the update is a compare-and-set on the flag.
const (
	reserveSocialMediaQuery = `
		UPDATE social_media_logins SET is_sold = TRUE
		WHERE is_sold = FALSE AND id = (
			SELECT id FROM social_media_logins
			WHERE product_id = $1 AND is_sold = FALSE
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING *`

	reserveNumberQuery = `
		UPDATE number_services SET is_active = FALSE
		WHERE is_active = TRUE AND id = (
			SELECT id FROM number_services
			WHERE product_id = $1 AND is_active = TRUE AND expires_at > NOW()
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING *`

	reserveProxyQuery = `
		UPDATE proxy_services SET is_active = FALSE
		WHERE is_active = TRUE AND id = (
			SELECT id FROM proxy_services
			WHERE product_id = $1 AND is_active = TRUE AND (expires_at IS NULL OR expires_at > NOW())
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING *`
)

// Release only applies to rows that were reserved but never allocated.
const (
	releaseSocialMediaQuery = `
		UPDATE social_media_logins SET is_sold = FALSE
		WHERE id = $1 AND is_sold = TRUE
		AND NOT EXISTS (SELECT 1 FROM order_item_details WHERE item_kind = 'social_media_login' AND item_id = $1)`

	releaseNumberQuery = `
		UPDATE number_services SET is_active = TRUE, phone_number = NULL, provider_service_id = NULL
		WHERE id = $1 AND is_active = FALSE
		AND NOT EXISTS (SELECT 1 FROM order_item_details WHERE item_kind = 'number_service' AND item_id = $1)`

	releaseProxyQuery = `
		UPDATE proxy_services SET is_active = TRUE, ip_address = NULL, port = NULL, username = NULL, password = NULL
		WHERE id = $1 AND is_active = FALSE
		AND NOT EXISTS (SELECT 1 FROM order_item_details WHERE item_kind = 'proxy_service' AND item_id = $1)`
)

const (
	availableSocialMediaFilter = "product_id = $1 AND is_sold = FALSE"
	availableNumberFilter      = "product_id = $1 AND is_active = TRUE AND expires_at > NOW()"
	availableProxyFilter       = "product_id = $1 AND is_active = TRUE AND (expires_at IS NULL OR expires_at > NOW())"
)

// CreateSocialMediaLogin inserts an unsold login
func (s *Store) CreateSocialMediaLogin(ctx context.Context, l *models.SocialMediaLogin) error {
	query := `
		INSERT INTO social_media_logins
			(product_id, platform, username, password, email, email_password, recovery_codes, auth_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, is_sold, created_at`

	row := s.db.QueryRowxContext(ctx, query,
		l.ProductID, l.Platform, l.Username, l.Password, l.Email, l.EmailPassword, l.RecoveryCodes, l.AuthTokens)
	return classify(row.Scan(&l.ID, &l.IsSold, &l.CreatedAt))
}

// CreateNumberService inserts an active number slot without a phone number
func (s *Store) CreateNumberService(ctx context.Context, n *models.NumberService) error {
	query := `
		INSERT INTO number_services (product_id, country_code, country_name, api_provider, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_active, created_at`

	row := s.db.QueryRowxContext(ctx, query,
		n.ProductID, n.CountryCode, n.CountryName, n.APIProvider, n.ExpiresAt)
	return classify(row.Scan(&n.ID, &n.IsActive, &n.CreatedAt))
}

// CreateProxyService inserts an active proxy slot without credentials
func (s *Store) CreateProxyService(ctx context.Context, p *models.ProxyService) error {
	query := `
		INSERT INTO proxy_services (product_id, proxy_type, location, bandwidth_limit, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_active, created_at`

	row := s.db.QueryRowxContext(ctx, query,
		p.ProductID, p.ProxyType, p.Location, p.BandwidthLimit, p.ExpiresAt)
	return classify(row.Scan(&p.ID, &p.IsActive, &p.CreatedAt))
}

// ReserveItem atomically flips one eligible item of the product to unavailable
// and returns it. ErrOutOfStock means nothing is eligible; ErrTransient means a
// concurrent caller won the race for the row we saw and the caller may retry.
func (s *Store) ReserveItem(ctx context.Context, productID int64, kind models.ItemKind) (*models.InventoryItem, error) {
	var (
		item *models.InventoryItem
		err  error
	)
	switch kind {
	case models.KindSocialMediaLogin:
		var l models.SocialMediaLogin
		err = s.db.GetContext(ctx, &l, reserveSocialMediaQuery, productID)
		item = models.SocialMediaItem(&l)
	case models.KindNumberService:
		var n models.NumberService
		err = s.db.GetContext(ctx, &n, reserveNumberQuery, productID)
		item = models.NumberServiceItem(&n)
	case models.KindProxyService:
		var p models.ProxyService
		err = s.db.GetContext(ctx, &p, reserveProxyQuery, productID)
		item = models.ProxyServiceItem(&p)
	default:
		return nil, fmt.Errorf("unknown item kind %q: %w", kind, models.ErrInvalidInput)
	}

	if errors.Is(err, sql.ErrNoRows) {
		remaining, cerr := s.CountAvailableItems(ctx, productID, kind)
		if cerr != nil {
			return nil, cerr
		}
		if remaining > 0 {
			return nil, fmt.Errorf("%w: lost reservation race for product %d", ErrTransient, productID)
		}
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrOutOfStock)
	}
	if err != nil {
		return nil, classify(err)
	}
	return item, nil
}

// ReleaseItem returns a reserved, unallocated item to stock and clears any
// provider-assigned fields. Releasing an item that is already available or
// allocated to an order is a no-op.
func (s *Store) ReleaseItem(ctx context.Context, ref models.ItemRef) (bool, error) {
	var query string
	switch ref.Kind {
	case models.KindSocialMediaLogin:
		query = releaseSocialMediaQuery
	case models.KindNumberService:
		query = releaseNumberQuery
	case models.KindProxyService:
		query = releaseProxyQuery
	default:
		return false, fmt.Errorf("unknown item kind %q: %w", ref.Kind, models.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, query, ref.ID)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AssignNumber persists a provider-assigned phone number onto a reserved slot
func (s *Store) AssignNumber(ctx context.Context, id int64, alloc models.NumberAllocation) (*models.NumberService, error) {
	var n models.NumberService
	err := s.db.GetContext(ctx, &n, `
		UPDATE number_services SET phone_number = $1, provider_service_id = $2
		WHERE id = $3 AND is_active = FALSE
		RETURNING *`,
		alloc.PhoneNumber, alloc.ProviderServiceID, id)
	if err != nil {
		return nil, notFound(err, "reserved number service", id)
	}
	return &n, nil
}

// AssignProxy persists provider-assigned credentials onto a reserved slot
func (s *Store) AssignProxy(ctx context.Context, id int64, creds models.ProxyCredentials) (*models.ProxyService, error) {
	var p models.ProxyService
	err := s.db.GetContext(ctx, &p, `
		UPDATE proxy_services SET ip_address = $1, port = $2, username = $3, password = $4
		WHERE id = $5 AND is_active = FALSE
		RETURNING *`,
		creds.IPAddress, creds.Port, creds.Username, creds.Password, id)
	if err != nil {
		return nil, notFound(err, "reserved proxy service", id)
	}
	return &p, nil
}

// GetItem retrieves one inventory item by kind and id
func (s *Store) GetItem(ctx context.Context, ref models.ItemRef) (*models.InventoryItem, error) {
	switch ref.Kind {
	case models.KindSocialMediaLogin:
		var l models.SocialMediaLogin
		if err := s.db.GetContext(ctx, &l, "SELECT * FROM social_media_logins WHERE id = $1", ref.ID); err != nil {
			return nil, notFound(err, "social media login", ref.ID)
		}
		return models.SocialMediaItem(&l), nil
	case models.KindNumberService:
		var n models.NumberService
		if err := s.db.GetContext(ctx, &n, "SELECT * FROM number_services WHERE id = $1", ref.ID); err != nil {
			return nil, notFound(err, "number service", ref.ID)
		}
		return models.NumberServiceItem(&n), nil
	case models.KindProxyService:
		var p models.ProxyService
		if err := s.db.GetContext(ctx, &p, "SELECT * FROM proxy_services WHERE id = $1", ref.ID); err != nil {
			return nil, notFound(err, "proxy service", ref.ID)
		}
		return models.ProxyServiceItem(&p), nil
	}
	return nil, fmt.Errorf("unknown item kind %q: %w", ref.Kind, models.ErrInvalidInput)
}

// ListAvailableItems lists the items of a product that could still be reserved
func (s *Store) ListAvailableItems(ctx context.Context, productID int64, kind models.ItemKind) ([]models.InventoryItem, error) {
	items := []models.InventoryItem{}
	switch kind {
	case models.KindSocialMediaLogin:
		var rows []models.SocialMediaLogin
		if err := s.db.SelectContext(ctx, &rows,
			"SELECT * FROM social_media_logins WHERE "+availableSocialMediaFilter+" ORDER BY id", productID); err != nil {
			return nil, err
		}
		for i := range rows {
			items = append(items, *models.SocialMediaItem(&rows[i]))
		}
	case models.KindNumberService:
		var rows []models.NumberService
		if err := s.db.SelectContext(ctx, &rows,
			"SELECT * FROM number_services WHERE "+availableNumberFilter+" ORDER BY id", productID); err != nil {
			return nil, err
		}
		for i := range rows {
			items = append(items, *models.NumberServiceItem(&rows[i]))
		}
	case models.KindProxyService:
		var rows []models.ProxyService
		if err := s.db.SelectContext(ctx, &rows,
			"SELECT * FROM proxy_services WHERE "+availableProxyFilter+" ORDER BY id", productID); err != nil {
			return nil, err
		}
		for i := range rows {
			items = append(items, *models.ProxyServiceItem(&rows[i]))
		}
	default:
		return nil, fmt.Errorf("unknown item kind %q: %w", kind, models.ErrInvalidInput)
	}
	return items, nil
}

// CountAvailableItems counts the items of a product that could still be reserved
func (s *Store) CountAvailableItems(ctx context.Context, productID int64, kind models.ItemKind) (int, error) {
	var query string
	switch kind {
	case models.KindSocialMediaLogin:
		query = "SELECT COUNT(*) FROM social_media_logins WHERE " + availableSocialMediaFilter
	case models.KindNumberService:
		query = "SELECT COUNT(*) FROM number_services WHERE " + availableNumberFilter
	case models.KindProxyService:
		query = "SELECT COUNT(*) FROM proxy_services WHERE " + availableProxyFilter
	default:
		return 0, fmt.Errorf("unknown item kind %q: %w", kind, models.ErrInvalidInput)
	}

	var count int
	err := s.db.GetContext(ctx, &count, query, productID)
	return count, err
}
