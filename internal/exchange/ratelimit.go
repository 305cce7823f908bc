package exchange

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterManager holds one dial/subscribe rate limiter per exchange.
// Testnet endpoints share the base exchange's limiter.
type LimiterManager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiterManager creates a manager with conservative per-exchange
// defaults.
func NewLimiterManager() *LimiterManager {
	m := &LimiterManager{
		limiters: make(map[string]*rate.Limiter),
	}

	m.Register("binance", 4.5, 10) // 4.5 req/sec, burst 10
	m.Register("bybit", 50, 100)   // 50 req/sec, burst 100

	return m
}

// Register sets the rate limit for an exchange
func (m *LimiterManager) Register(exchange string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[BaseName(exchange)] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until the exchange's limiter allows a request. Unknown
// exchanges pass through unthrottled.
func (m *LimiterManager) Wait(ctx context.Context, exchange string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[BaseName(exchange)]
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
