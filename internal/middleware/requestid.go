package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored.
	RequestIDKey = "request_id"
)

// RequestID returns a Gin handler that ensures every request carries a unique
// identifier propagated as an X-Request-ID header.
//
// If the inbound request already carries an X-Request-ID (set by a proxy or
// load balancer) its value is reused unchanged; otherwise a new UUID v4 is
// generated. The identifier is stored in gin.Context under RequestIDKey and
// echoed back in the response header so clients can correlate a failed upload
// or export with server-side log entries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
