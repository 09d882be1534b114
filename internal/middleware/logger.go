package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// CtxLogger is the Echo context key of the request's log entry.
const CtxLogger = "logger"

// RequestLogger gives each request a logrus entry tagged with its method,
// route and request id, and logs one line when the request completes.
// Handlers reach the entry through Log.
func RequestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			entry := logger.WithFields(logrus.Fields{
				"method":     req.Method,
				"route":      c.Path(),
				"request_id": id,
			})
			c.Set(CtxLogger, entry)

			if err := next(c); err != nil {
				c.Error(err)
			}
			entry.WithFields(logrus.Fields{
				"status":     c.Response().Status,
				"subject":    Subject(c),
				"latency_ms": time.Since(start).Milliseconds(),
			}).Info("request")
			return nil
		}
	}
}

// Log returns the request's log entry. Outside RequestLogger it falls back
// to the standard logger.
func Log(c echo.Context) *logrus.Entry {
	if entry, ok := c.Get(CtxLogger).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
