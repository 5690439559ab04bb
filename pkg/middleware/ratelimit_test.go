package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/observability"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRateLimiter_Allow(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = rl.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")

	remaining, err := rl.Remaining(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	ttl, err := rl.TTL(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	allowed, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed, "window resets")

	require.NoError(t, rl.Reset(ctx, "ip:1.2.3.4"))
	assert.False(t, mr.Exists("test:ip:1.2.3.4"))
}

func TestRateLimiter_NilClientAdmitsEverything(t *testing.T) {
	rl := NewRateLimiter(nil, nil, "")
	for i := 0; i < 50; i++ {
		allowed, err := rl.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, allowed)
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	_, client := newRedis(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	rl := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "ratelimit:signin")

	h := rl.PerIP("signin", metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/signin/credentials", nil)
		r.RemoteAddr = ip + ":40000"
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	w := call("10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	var b map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, "Too many requests", b["error"])

	assert.Equal(t, http.StatusOK, call("10.0.0.2").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("signin")))
}

func TestRateLimiter_PerIP_ForwardedFor(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	send := func(h http.Handler, i int) int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/signin/credentials", nil)
		r.RemoteAddr = "10.0.0.1:40000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		h.ServeHTTP(w, r)
		return w.Code
	}

	t.Run("rotating header from an untrusted peer shares one bucket", func(t *testing.T) {
		_, client := newRedis(t)
		rl := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "signin")
		untrusted, err := auth.NewProxyTrust(nil)
		require.NoError(t, err)
		h := untrusted.Middleware(rl.PerIP("signin", nil, nil)(ok))

		limited := 0
		for i := 0; i < 20; i++ {
			if send(h, i) == http.StatusTooManyRequests {
				limited++
			}
		}
		assert.Equal(t, 18, limited)
	})

	t.Run("trusted proxy separates clients", func(t *testing.T) {
		_, client := newRedis(t)
		rl := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "signin")
		trusted, err := auth.NewProxyTrust([]string{"10.0.0.0/8"})
		require.NoError(t, err)
		h := trusted.Middleware(rl.PerIP("signin", nil, nil)(ok))

		for i := 0; i < 20; i++ {
			assert.Equal(t, http.StatusOK, send(h, i))
		}
		assert.Equal(t, http.StatusOK, send(h, 3))
		assert.Equal(t, http.StatusTooManyRequests, send(h, 3))
	})
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr, client := newRedis(t)
	rl := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "x")
	mr.Close()

	h := rl.PerIP("signin", nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
