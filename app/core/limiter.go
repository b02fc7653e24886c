package core

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type LimitConfig struct {
	Limit int
	Every time.Duration
}

type LimitOption func(l *LimitConfig)

func WithLimit(limit int) LimitOption {
	return func(l *LimitConfig) {
		l.Limit = limit
	}
}

func WithRange(r time.Duration) LimitOption {
	return func(l *LimitConfig) {
		l.Every = r
	}
}

type Limiter interface {
	Allow() bool
}

// limiterRegistry keeps one limiter per key. Entries not used for
// LIMITER_IDLE_TTL expire so per-client keys do not pile up.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters *cache.Cache
}

const (
	LIMITER_IDLE_TTL       = 10 * time.Minute
	LIMITER_SWEEP_INTERVAL = time.Minute
)

func newLimiterRegistry(idle, sweep time.Duration) *limiterRegistry {
	return &limiterRegistry{
		limiters: cache.New(idle, sweep),
	}
}

// UseLimiter returns the limiter of key, created on first use. Limit is the
// number of requests allowed per Every, one minute by default.
func (c *Core) UseLimiter(key string, opts ...LimitOption) Limiter {
	cfg := &LimitConfig{
		Limit: c.cfg.Limit.ChatPerMinute,
		Every: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DEFAULT_CHAT_PER_MINUTE
	}

	c.limiters.mu.Lock()
	defer c.limiters.mu.Unlock()
	var l *rate.Limiter
	if v, exist := c.limiters.limiters.Get(key); exist {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(rate.Every(cfg.Every/time.Duration(cfg.Limit)), cfg.Limit)
	}
	// every use pushes the expiry back
	c.limiters.limiters.SetDefault(key, l)

	return l
}

// LimiterCount is the number of live limiters.
func (c *Core) LimiterCount() int {
	return c.limiters.limiters.ItemCount()
}
