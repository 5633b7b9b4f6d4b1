package api

import (
	"log/slog"
	"net/http"
	"time"

	"dropslot/internal/server/ratelimit"

	"github.com/labstack/echo/v4"
)

// UploadRateLimit enforces the two fixed-window upload limits: per client
// IP and per identifier. Both must pass before the handler runs; the
// counters are committed only after the upload succeeded.
func UploadRateLimit(limiter *ratelimit.Limiter, ipLimit, identifierLimit int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			identifier := c.Param("identifier")

			if !limiter.Check(ratelimit.ScopeIP, ip, ipLimit) {
				slog.Warn("upload rate limit exceeded", "scope", "ip", "ip", ip)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"success": false,
					"message": "upload limit per hour exceeded, try again later",
				})
			}
			if !limiter.Check(ratelimit.ScopeIdentifier, identifier, identifierLimit) {
				slog.Warn("upload rate limit exceeded", "scope", "identifier", "identifier", identifier)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"success": false,
					"message": "too many uploads for this page, try again later",
				})
			}

			err := next(c)

			if err == nil && c.Response().Status < http.StatusBadRequest {
				limiter.Commit(ratelimit.ScopeIP, ip)
				limiter.Commit(ratelimit.ScopeIdentifier, identifier)
			}
			return err
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// sessionToken extracts the share session token, trying the header first,
// then the query string, then the form body.
func sessionToken(c echo.Context) string {
	if token := c.Request().Header.Get("X-Session-Token"); token != "" {
		return token
	}
	if token := c.QueryParam("session_token"); token != "" {
		return token
	}
	return c.FormValue("session_token")
}
