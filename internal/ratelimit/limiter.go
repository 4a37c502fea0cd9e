// Package ratelimit throttles requests with a fixed Redis window
// (INCR, then EXPIRE on the first hit).
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// LoginRule returns the login throttle: limit attempts per IP and minute.
func LoginRule(limit int) Rule {
	return Rule{Key: "chatrelay:rl:login:", Limit: limit, Window: time.Minute}
}

type Limiter struct {
	client *redis.Client
	logger *slog.Logger
}

func NewLimiter(log *slog.Logger, client *redis.Client) *Limiter {
	return &Limiter{
		client: client,
		logger: log.With(slog.String("component", "ratelimit")),
	}
}

// Allow counts one hit for identifier. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("redis INCR failed, failing open", slog.String("key", key), slog.Any("error", err))
		return true, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("redis EXPIRE failed, failing open", slog.String("key", key), slog.Any("error", err))
			// a key without TTL would block the identifier forever
			l.client.Del(ctx, key)
			return true, err
		}
	}
	return int(count) <= rule.Limit, nil
}

// Remaining reports the hits left in the current window.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	count, err := l.client.Get(ctx, rule.Key+identifier).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}

// Middleware rejects requests over rule with 429, keyed by the client IP.
// A nil limiter lets everything through.
func Middleware(l *Limiter, rule Rule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l == nil {
				return next(c)
			}
			ip := c.RealIP()
			ok, _ := l.Allow(c.Request().Context(), ip, rule)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}
