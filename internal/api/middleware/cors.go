// Package middleware holds the HTTP middleware wired into the router.
package middleware

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// CORSMiddleware allows any origin to call the upload endpoint. The
// upload API has no cookie-based session to protect, so a permissive
// policy is appropriate: every client, including browser-JS uploaders
// on another origin, gets the same access a same-origin request would.
func CORSMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
