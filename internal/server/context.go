package server

import (
	"context"

	"github.com/gin-gonic/gin"

	userdomain "collabforge/backend/internal/user/domain"
)

// Keys under which the auth middleware stores request identity on the gin
// context.
const (
	ctxKeyUser      = "collabforge.user"
	ctxKeyTokenHash = "collabforge.token_hash"
	ctxKeyCSRFValid = "collabforge.csrf_valid"
	ctxKeyBearer    = "collabforge.bearer"
)

type contextKey struct{ name string }

var clientIPKey = contextKey{"client_ip"}

// WithClientIP stores the client IP on a request context so components that
// only see a context.Context (the audit logger) can record it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client IP stored by the middleware, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// CurrentUser returns the authenticated user for the request, or nil for an
// anonymous request.
func CurrentUser(c *gin.Context) *userdomain.User {
	if v, ok := c.Get(ctxKeyUser); ok {
		if u, ok := v.(*userdomain.User); ok {
			return u
		}
	}
	return nil
}

// sessionTokenHash returns the hash of the session token the request
// authenticated with, or "".
func sessionTokenHash(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyTokenHash); ok {
		if h, ok := v.(string); ok {
			return h
		}
	}
	return ""
}

// csrfValid reports whether the request passed anti-forgery validation.
func csrfValid(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyCSRFValid)
	return ok && v == true
}

// bearerAuth reports whether the request authenticated with an Authorization
// header rather than a cookie.
func bearerAuth(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyBearer)
	return ok && v == true
}
