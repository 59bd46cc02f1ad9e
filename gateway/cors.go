// Package gateway implements the cross-cutting HTTP middleware used across
// junyper services: CORS, request ids, prometheus instrumentation, JWT auth
// and API key management.
package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OptionsMiddleware handles CORS headers and the browser preflight. The
// dashboard may be served from any origin, so the policy is wide open.
func OptionsMiddleware(c *gin.Context) {
	if c.Request.Method != http.MethodOptions {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
		return
	}
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	c.Header("Access-Control-Allow-Headers", "authorization, origin, content-type, accept, X-Request-ID")
	c.Header("Allow", "HEAD,GET,POST,PUT,PATCH,DELETE,OPTIONS")
	c.Header("Content-Type", "application/json")
	c.AbortWithStatus(http.StatusOK)
}
