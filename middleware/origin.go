package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginAllowed reports whether origin is in allowed. An empty list or "*"
// allows everything; requests without an Origin header are not browsers
// and pass.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}

// Origin rejects websocket upgrades from origins outside allowed.
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && !OriginAllowed(c.GetHeader("Origin"), allowed) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
