package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
)

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu     sync.RWMutex
	limits map[string]*rate.Limiter
	rps    rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with a burst of twice that. A non-positive rps falls back to 10.
func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		rps:    rate.Every(time.Second / time.Duration(rps)),
		burst:  rps * 2,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limits[key]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Middleware rejects requests over the limit with 429. Requests are keyed by
// organization when TenantMiddleware ran first, by client IP otherwise.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := OrganizationIDFromContext(c.Request().Context())
			if !ok {
				key = "ip:" + c.RealIP()
			}
			if !rl.Allow(key) {
				if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
					reqCtx.Warn("rate limit exceeded", slog.String("path", c.Path()))
				}
				return RespondError(c, errors.RateLimitExceeded("too many requests"))
			}
			return next(c)
		}
	}
}
