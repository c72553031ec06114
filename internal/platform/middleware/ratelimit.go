package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/rxledger/rxledger/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig allows a busy dispensary counter to post fills and
// payments in bursts without throttling a statement batch behind it.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)
		s.limiters[key] = l
	}
	return l
}

// clientKey buckets requests per pharmacy and staff member. Unauthenticated
// callers share a bucket per pharmacy and address.
func clientKey(c echo.Context) string {
	tenant, _ := c.Get("tenant_id").(string)
	if tenant == "" {
		tenant, _ = c.Get("jwt_tenant_id").(string)
	}
	who := auth.UserIDFromContext(c.Request().Context())
	if who == "" {
		who = "ip:" + c.RealIP()
	}
	return tenant + "/" + who
}

// RateLimit throttles each client bucket with a token bucket. Rejected
// requests get 429 with the wait until the next token in Retry-After.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limiter := store.get(clientKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			r := limiter.Reserve()
			if !r.OK() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if wait := r.Delay(); wait > 0 {
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			return next(c)
		}
	}
}
