package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestTokenLimiterBurst(t *testing.T) {
	limiter := newTokenLimiter(60, 3)
	for i := 0; i < 3; i++ {
		if !limiter.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("10.0.0.1") {
		t.Fatalf("fourth request should be limited")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatalf("other clients keep their own bucket")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := limiter.Middleware(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/global", nil)
	req.Header.Set("X-Forwarded-For", "192.0.2.10, 10.0.0.1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected limit header %q", resp.Header().Get("X-RateLimit-Limit"))
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("unexpected ip %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.7")
	if got := clientIP(req); got != "203.0.113.1" {
		t.Fatalf("unexpected forwarded ip %q", got)
	}
}

func TestRateLimiterFallsBackWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	limiter := NewRateLimiter(RateLimitConfig{PerMinute: 60, Burst: 1, Redis: client})

	if decision := limiter.allow(context.Background(), "10.0.0.9"); !decision.allowed {
		t.Fatalf("first request should pass through the local bucket")
	}
	if decision := limiter.allow(context.Background(), "10.0.0.9"); decision.allowed {
		t.Fatalf("local bucket should limit the second request")
	}
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	prefix := "turnos:test:" + uuid.NewString()
	limiter := newRedisLimiter(client, prefix, 1, 2)
	defer client.Del(ctx, prefix+":ip:10.0.0.1")

	for i := 0; i < 2; i++ {
		decision, err := limiter.allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !decision.allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	decision, err := limiter.allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.allowed || decision.retryAfter <= 0 {
		t.Fatalf("expected third request to be limited with a retry hint: %+v", decision)
	}
}
