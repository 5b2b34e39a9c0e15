// Package security provides security middleware for the judgment API.
//
// The API serves JSON about customers' transfers to agents and analyst
// tooling, never HTML, so responses are locked down to that use: nothing is
// renderable, framable or cacheable.
package security

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIDHeader names the calling agent or tool. The rate limiter keys on
// it and the request log records it.
const ClientIDHeader = "X-Client-ID"

const clientIDKey = "client_id"

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// apiHeaders are set on every response.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
	{"Pragma", "no-cache"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

// HeadersMiddleware adds security headers to all responses
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range apiHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

// ClientIDMiddleware validates X-Client-ID when present and stores it for
// ClientID. Malformed identifiers are rejected with 400 rather than used as
// rate-limit keys.
func ClientIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(ClientIDHeader))
		if id == "" {
			c.Next()
			return
		}
		if !clientIDPattern.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_client_id",
				"message": "X-Client-ID must be 1-64 letters, digits, '.', '_' or '-'",
			})
			return
		}
		c.Set(clientIDKey, id)
		c.Next()
	}
}

// ClientID returns the caller's validated identifier, or "" for anonymous
// callers. Without ClientIDMiddleware in the chain the header is validated
// here.
func ClientID(c *gin.Context) string {
	if id := c.GetString(clientIDKey); id != "" {
		return id
	}
	id := strings.TrimSpace(c.GetHeader(ClientIDHeader))
	if clientIDPattern.MatchString(id) {
		return id
	}
	return ""
}

// CORSMiddleware handles CORS for API endpoints
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool)
	for _, o := range allowedOrigins {
		originsMap[o] = true
	}
	wildcard := originsMap["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if origin != "" && (len(allowedOrigins) == 0 || wildcard || originsMap[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+ClientIDHeader)
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			c.Header("Access-Control-Max-Age", "86400")
			// Browsers reject credentials with a wildcard policy
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
