package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"convbridge/internal/gateway/handlers"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained number of requests allowed per client.
	RequestsPerMinute int
	// Burst is the maximum burst size.
	Burst int
	// Enabled enables or disables rate limiting.
	Enabled bool
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 600,
		Burst:             50,
		Enabled:           true,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-client rate limiting.
type RateLimiter struct {
	config   RateLimiterConfig
	limit    rate.Limit
	clients  map[string]*clientLimiter
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		clients: make(map[string]*clientLimiter),
		stopCh:  make(chan struct{}),
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go rl.cleanup()
	}

	return rl
}

// Stop stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// cleanup periodically removes limiters of idle clients.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if now.Sub(c.lastSeen) > rl.config.CleanupInterval*2 {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) get(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.config.Burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow checks if a request from the given IP is allowed.
// Returns (allowed, remaining tokens, reset time).
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Time) {
	now := time.Now()
	if !rl.config.Enabled {
		return true, rl.config.RequestsPerMinute, now.Add(time.Minute)
	}

	limiter := rl.get(ip, now)
	allowed := limiter.AllowN(now, 1)
	tokens := limiter.TokensAt(now)

	reset := now
	if rl.limit > 0 {
		missing := float64(rl.config.Burst) - tokens
		reset = now.Add(time.Duration(missing / float64(rl.limit) * float64(time.Second)))
	}

	remaining := int(math.Max(0, math.Floor(tokens)))
	if !allowed {
		remaining = 0
	}
	return allowed, remaining, reset
}

// RateLimit returns a middleware that rate limits requests.
func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r)
		allowed, remaining, resetTime := rl.Allow(ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retry := time.Second
			if rl.limit > 0 {
				retry = time.Duration(float64(time.Second) / float64(rl.limit))
			}
			w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(retry.Seconds())), 10))
			handlers.SendError(w, http.StatusTooManyRequests, handlers.ErrCodeRateLimited, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
