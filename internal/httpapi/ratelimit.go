package httpapi

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitConfig struct {
	PerMinute int
	Burst     int
	// Redis shares buckets across replicas. Nil keeps buckets in process.
	Redis  *redis.Client
	Prefix string
}

type RateLimiter struct {
	local  *tokenLimiter
	remote *redisLimiter
	limit  int
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	local := newTokenLimiter(cfg.PerMinute, cfg.Burst)
	limiter := &RateLimiter{local: local, limit: int(local.burst)}
	if cfg.Redis != nil {
		limiter.remote = newRedisLimiter(cfg.Redis, cfg.Prefix, cfg.PerMinute, int(local.burst))
	}
	return limiter
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}
		decision := l.allow(r.Context(), ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		if decision.remaining >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.remaining, 10))
		}
		if !decision.allowed {
			if decision.retryAfter > 0 {
				secs := int(math.Ceil(decision.retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type limitDecision struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

// allow consults the shared bucket first and falls back to the in-process
// bucket when Redis is unreachable.
func (l *RateLimiter) allow(ctx context.Context, key string) limitDecision {
	if l.remote != nil {
		decision, err := l.remote.allow(ctx, key)
		if err == nil {
			return decision
		}
		log.Printf("ratelimit redis error key=%s err=%v", key, err)
	}
	return limitDecision{allowed: l.local.allow(key), remaining: -1}
}

type tokenLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	bucket map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		rate:   float64(perMinute) / 60.0,
		burst:  float64(burst),
		bucket: make(map[string]*bucket),
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = minFloat(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// tokenBucketScript refills in whole intervals and returns
// {allowed, tokens_left, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

type redisLimiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	interval time.Duration
	ttl      time.Duration
}

func newRedisLimiter(client *redis.Client, prefix string, perMinute, capacity int) *redisLimiter {
	if prefix == "" {
		prefix = "turnos:ratelimit"
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	interval := time.Minute / time.Duration(perMinute)
	return &redisLimiter{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		interval: interval,
		ttl:      time.Duration(capacity)*interval + time.Minute,
	}
}

func (l *redisLimiter) allow(ctx context.Context, key string) (limitDecision, error) {
	args := []interface{}{
		time.Now().UnixMilli(),
		l.capacity,
		1,
		l.interval.Milliseconds(),
		int64(l.ttl / time.Second),
	}
	vals, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + ":ip:" + key}, args...).Result()
	if err != nil {
		return limitDecision{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return limitDecision{}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return limitDecision{
		allowed:    asInt64(arr[0]) == 1,
		remaining:  asInt64(arr[1]),
		retryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
