package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/citation-etl/backend/pkg/logger"
)

type Config struct {
	RequestsPerMinute int
	// Burst defaults to RequestsPerMinute.
	Burst int
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL time.Duration
	Now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     cfg.Now,
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()

		ok, wait := rl.allow(key)
		if !ok {
			logger.Warn("Rate limit exceeded",
				zap.String("ip", key),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(wait.Seconds()+0.999)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evict(now)

	cl, ok := rl.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now

	if cl.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := cl.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (rl *RateLimiter) evict(now time.Time) {
	for key, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
