package logger

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// FiberMiddleware logs one line per request and scopes the request id into the
// user context so handlers and the services they call log with it.
// It must run after the requestid middleware.
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		rid, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
		if rid != "" {
			c.SetUserContext(WithRequestID(c.UserContext(), rid))
		}

		err := c.Next()
		latency := time.Since(start)

		route := ""
		if r := c.Route(); r != nil {
			route = r.Path
		}

		attrs := []any{
			"status", c.Response().StatusCode(),
			"method", c.Method(),
			"path", c.OriginalURL(),
			"route", route,
			"ip", c.IP(),
			"user_agent", c.Get(fiber.HeaderUserAgent),
			"latency_ms", float64(latency.Microseconds()) / 1000.0,
		}

		l := FromContext(c.UserContext())
		if err != nil {
			l.Error("http request", append(attrs, "err", err.Error())...)
			return err
		}
		l.Info("http request", attrs...)
		return nil
	}
}
