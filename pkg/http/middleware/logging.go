package middleware

import (
	"time"

	applogger "BarPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each request with its status and latency. With a nil
// logger it is a no-op so the server can run before logging is wired.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l == nil {
				return next(c)
			}
			req := c.Request()
			start := time.Now()

			err := next(c)

			l.Debug("http request",
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)),
			)
			return err
		}
	}
}
