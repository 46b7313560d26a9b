package middleware

import (
	"strconv"
	"time"

	"participation-points/metrics"

	"github.com/gofiber/fiber/v2"
)

// Metrics records request count and latency per route template.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		if route == "" || (route == "/" && c.Path() != "/") {
			route = "unmatched"
		}
		method := c.Method()
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status), method).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		return err
	}
}
