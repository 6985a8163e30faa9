package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

const maxLoginBody = 1 << 20

// LoginLimiter decides whether another login attempt for key is allowed.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RedisLoginLimiter is a GCRA limiter shared by every API instance through
// redis.
type RedisLoginLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

func NewRedisLoginLimiter(rdb *redis.Client, perMinute int) *RedisLoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RedisLoginLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.PerMinute(perMinute),
	}
}

func (l *RedisLoginLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, "login:"+key, l.limit)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}

// LoginThrottle limits login attempts per client address and email. When the
// limiter fails the attempt is let through and the failure logged.
func LoginThrottle(limiter LoginLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxLoginBody))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var payload struct {
				Email string `json:"email"`
			}
			_ = json.Unmarshal(body, &payload)
			key := getClientIP(r) + "|" + strings.ToLower(strings.TrimSpace(payload.Email))

			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("login throttle unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Warn("login throttled", "ip", getClientIP(r))
				writeRateLimited(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
