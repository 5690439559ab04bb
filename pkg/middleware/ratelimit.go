package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/observability"
)

// RateLimitConfig defines a fixed-window limit
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// SignInRateLimitConfig bounds credential guessing per client IP
func SignInRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    15 * time.Minute,
	}
}

// PasswordResetRateLimitConfig bounds reset-email requests per client IP
func PasswordResetRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    15 * time.Minute,
	}
}

// RateLimiter implements a fixed-window counter in Redis so limits are
// shared across instances
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRateLimiter creates a Redis-backed rate limiter. A nil client yields a
// limiter that admits everything.
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RateLimiter {
	if config == nil {
		config = SignInRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{redis: redisClient, config: config, prefix: prefix}
}

func (rl *RateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts one request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.redis == nil {
		return true, nil
	}
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	// the first hit of a window starts its clock
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of requests left in the current window
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	if rl.redis == nil {
		return rl.config.RequestsPerWindow, nil
	}
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window of key resets
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	if rl.redis == nil {
		return 0, nil
	}
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	if rl.redis == nil {
		return nil
	}
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// PerIP limits requests by client IP. Redis failures fail open: the request
// is served and the error logged.
func (rl *RateLimiter) PerIP(name string, metrics *observability.Metrics, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := "ip:" + auth.ClientIP(r)

			allowed, err := rl.Allow(ctx, key)
			if err != nil {
				observability.FromContextOr(ctx, logger).WithError(err).
					WithField("limiter", name).
					Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerWindow))
			if !allowed {
				metrics.RecordRateLimited(name)
				rl.exceeded(ctx, w, key)
				return
			}

			if remaining, err := rl.Remaining(ctx, key); err == nil {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) exceeded(ctx context.Context, w http.ResponseWriter, key string) {
	retryAfter := rl.config.WindowDuration
	if ttl, err := rl.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	seconds := int(retryAfter.Round(time.Second).Seconds())

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":      "Too many requests",
		"message":    "Please try again later",
		"retryAfter": seconds,
	})
}
