package middleware

import (
	"time"

	applogger "FinSight/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each HTTP request with its status and latency.
// 5xx responses log at error level, everything else at debug.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("path", req.URL.Path),
				applogger.Int("status", res.Status),
				applogger.Duration("latency_ms", time.Since(start)),
			}
			if res.Status >= 500 {
				l.Error("http request", fields...)
			} else {
				l.Debug("http request", fields...)
			}

			return err
		}
	}
}
