package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// Breaker guards an Allocator with one circuit breaker per resource kind
type Breaker struct {
	next    Allocator
	numbers *gobreaker.CircuitBreaker
	proxies *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with circuit breakers that trip after consecutive failures
func NewBreaker(next Allocator, consecutiveFailures uint32, openTimeout time.Duration) *Breaker {
	return &Breaker{
		next:    next,
		numbers: newCircuitBreaker("provider-numbers", consecutiveFailures, openTimeout),
		proxies: newCircuitBreaker("provider-proxies", consecutiveFailures, openTimeout),
	}
}

func newCircuitBreaker(name string, consecutiveFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	logger := util.GetLogger()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      openTimeout,
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// countsAsSuccess keeps slot-caused declines from tripping the breaker
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrUnsupportedCountry)
}

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (b *Breaker) AllocateNumber(ctx context.Context, countryCode, apiProvider string) (models.NumberAllocation, error) {
	result, err := b.numbers.Execute(func() (interface{}, error) {
		return b.next.AllocateNumber(ctx, countryCode, apiProvider)
	})
	if err != nil {
		return models.NumberAllocation{}, breakerErr(err)
	}
	return result.(models.NumberAllocation), nil
}

func (b *Breaker) AllocateProxy(ctx context.Context, proxyType, location string) (models.ProxyCredentials, error) {
	result, err := b.proxies.Execute(func() (interface{}, error) {
		return b.next.AllocateProxy(ctx, proxyType, location)
	})
	if err != nil {
		return models.ProxyCredentials{}, breakerErr(err)
	}
	return result.(models.ProxyCredentials), nil
}
