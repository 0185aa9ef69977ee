package rate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines rate limiting parameters for one outbound key.
// RequestsPerSecond <= 0 disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

func (c Config) limiter() *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}

// Manager holds one token bucket per key (account, endpoint) so a chatty
// widget cannot starve the others.
type Manager struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	defaults  Config
	overrides map[string]Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters:  make(map[string]*rate.Limiter),
		defaults:  defaults,
		overrides: make(map[string]Config),
	}
}

// Configure sets the limits for key, replacing any limiter already built for it.
func (m *Manager) Configure(key string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[key] = cfg
	delete(m.limiters, key)
}

func (m *Manager) GetLimiter(key string) *rate.Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	cfg, ok := m.overrides[key]
	if !ok {
		cfg = m.defaults
	}
	lim := cfg.limiter()
	m.limiters[key] = lim
	return lim
}

// Allow reports whether a request for key may proceed now, consuming a token if so.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// Wait blocks until key has a token or ctx is done.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}
