// Package middleware provides the Gin HTTP middleware for the Keepsake backend.
//
// internal/api/router.go installs Recovery → RequestID → Metrics → Logger →
// CORS → SecurityHeaders globally, in that order, then attaches RateLimit per route
// group and SessionAuth on the authenticated /api group. Request IDs come
// first so every later log line can carry one; security headers are global so
// error responses carry them too. Rate limiting sits on the groups, ahead of
// the handlers, so token guessing is throttled before it costs a database
// query. SessionAuth resolves the session cookie into a project identity;
// everything behind it reads that identity from context.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/auth"
)

// ProjectIDKey is the gin.Context key under which the authenticated project's
// identifier is stored by SessionAuth.
const ProjectIDKey = "project_id"

// SessionAuth validates the session cookie and populates the project identity.
//
// Keepsake has no user accounts: the session credential minted at token
// exchange is the whole identity, and it scopes the request to exactly one
// project. Any failure — missing cookie, bad signature, expired credential —
// yields the same 401 body, mirroring the opaque rejection of the exchange
// endpoint itself.
func SessionAuth(sessions *auth.SessionManager, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := c.Cookie(cookieName)
		if err != nil || credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Session required",
			})
			return
		}

		claims, err := sessions.Verify(credential)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Session verification failed",
			})
			return
		}
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		c.Set(ProjectIDKey, claims.ProjectID)
		c.Next()
	}
}

// ProjectID returns the authenticated project identifier set by SessionAuth,
// or "" when the request is unauthenticated.
func ProjectID(c *gin.Context) string {
	if v, ok := c.Get(ProjectIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
