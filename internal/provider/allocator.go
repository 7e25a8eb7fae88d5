package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDeclined is returned when a provider refuses an allocation
	ErrDeclined = errors.New("provider declined allocation")
	// ErrUnsupportedCountry is a decline caused by the slot, not by provider health
	ErrUnsupportedCountry = fmt.Errorf("%w: unsupported country", ErrDeclined)
)

// Allocator obtains provider-backed resources for number and proxy slots
type Allocator interface {
	AllocateNumber(ctx context.Context, countryCode, apiProvider string) (models.NumberAllocation, error)
	AllocateProxy(ctx context.Context, proxyType, location string) (models.ProxyCredentials, error)
}

var countryDialCodes = map[string]string{
	"US": "1",
	"CA": "1",
	"GB": "44",
	"DE": "49",
	"FR": "33",
	"NL": "31",
	"RU": "7",
	"IN": "91",
	"BR": "55",
	"ID": "62",
}

// SimulatedAllocator hands out synthetic numbers and proxy credentials.
// It stands in for real provider clients in development.
type SimulatedAllocator struct {
	logger      *zap.Logger
	successRate float64
	latency     time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	counter int
}

// NewSimulatedAllocator creates an allocator that succeeds with the given rate (0.0 - 1.0)
func NewSimulatedAllocator(successRate float64, latency time.Duration) *SimulatedAllocator {
	return &SimulatedAllocator{
		logger:      util.GetLogger(),
		successRate: successRate,
		latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *SimulatedAllocator) roll() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	return a.counter, a.rng.Float64() < a.successRate
}

func (a *SimulatedAllocator) wait(ctx context.Context) error {
	if a.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(a.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AllocateNumber returns a synthetic E.164 number for the country
func (a *SimulatedAllocator) AllocateNumber(ctx context.Context, countryCode, apiProvider string) (models.NumberAllocation, error) {
	if err := a.wait(ctx); err != nil {
		return models.NumberAllocation{}, err
	}

	dial, found := countryDialCodes[strings.ToUpper(countryCode)]
	if !found {
		return models.NumberAllocation{}, fmt.Errorf("%w %s", ErrUnsupportedCountry, countryCode)
	}

	seq, ok := a.roll()
	if !ok {
		a.logger.Warn("Simulated number allocation declined",
			zap.String("country_code", countryCode),
			zap.String("api_provider", apiProvider))
		return models.NumberAllocation{}, ErrDeclined
	}

	return models.NumberAllocation{
		PhoneNumber:       fmt.Sprintf("+%s555%07d", dial, 1230000+seq),
		ProviderServiceID: fmt.Sprintf("%s-%s", apiProvider, uuid.New().String()[:8]),
	}, nil
}

// AllocateProxy returns synthetic credentials for the requested proxy type
func (a *SimulatedAllocator) AllocateProxy(ctx context.Context, proxyType, location string) (models.ProxyCredentials, error) {
	if err := a.wait(ctx); err != nil {
		return models.ProxyCredentials{}, err
	}

	seq, ok := a.roll()
	if !ok {
		a.logger.Warn("Simulated proxy allocation declined",
			zap.String("proxy_type", proxyType),
			zap.String("location", location))
		return models.ProxyCredentials{}, ErrDeclined
	}

	port := 8000 + seq%1000
	if proxyType == models.ProxyTypeSocks5 {
		port = 1080
	}

	return models.ProxyCredentials{
		IPAddress: fmt.Sprintf("10.%d.%d.%d", (seq>>16)&0xff, (seq>>8)&0xff, seq&0xff),
		Port:      port,
		Username:  fmt.Sprintf("px_%s", uuid.New().String()[:8]),
		Password:  uuid.New().String(),
	}, nil
}
