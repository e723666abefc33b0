package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/telemetry"
)

// Metrics returns a Gin handler that records request count and latency for
// every request that passes through the router.
//
// The path label is set from c.FullPath(), the matched route template (e.g.
// /t/:token) rather than the raw URL. Besides keeping label cardinality
// bounded, this matters for the exchange route: the raw URL would put live
// access tokens into Prometheus labels. Requests that match no route use the
// literal "<no-route>".
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
