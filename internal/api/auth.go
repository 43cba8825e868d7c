package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/api/ratelimit"
	"github.com/labstack/echo/v4"
)

const workerSecretHeader = "x-worker-secret"

// workerSecretMiddleware guards a route group behind the shared worker
// secret. The guard fails closed: with no secret configured every
// request is rejected rather than letting the group fall open.
func workerSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			if secret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "worker secret is not configured")
			}

			presented := ec.Request().Header.Get(workerSecretHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				return echo.ErrUnauthorized
			}

			return next(ec)
		}
	}
}

// rateLimitMiddleware applies a token bucket per (secret, client IP,
// route) triple so one noisy client cannot starve the others.
func rateLimitMiddleware(buckets *ratelimit.BucketStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			key := strings.Join([]string{
				ec.Request().Header.Get(workerSecretHeader),
				ec.RealIP(),
				ec.Path(),
			}, ":")

			if !buckets.Allow(key) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(ec)
		}
	}
}
