package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"collabforge/backend/internal/security"
	sessiondomain "collabforge/backend/internal/session/domain"
	"collabforge/backend/internal/writeguard"
)

// SessionCookieName is the cookie carrying the web session token.
const SessionCookieName = "collabforge_session"

// traceRequests opens a server span per request using the globally installed
// tracer provider; with no provider configured the spans are no-ops.
func traceRequests() gin.HandlerFunc {
	tracer := otel.Tracer("collabforge/backend/internal/server")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(),
			c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		span.End()
	}
}

// authenticate resolves the request's session token to a user. Web requests
// present the session cookie; API requests present "Authorization: Bearer".
// Requests without a resolvable session continue anonymously; handlers that
// need identity use requireAuth.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithClientIP(c.Request.Context(), c.ClientIP())

		token := ""
		sessionType := sessiondomain.TypeWeb
		if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
			token = cookie
		} else if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
			sessionType = sessiondomain.TypeAPI
			c.Set(ctxKeyBearer, true)
		}

		if token != "" {
			u, err := s.engine.LoadUser(ctx, sessionType, token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
				return
			}
			if u != nil {
				c.Set(ctxKeyUser, u)
				c.Set(ctxKeyTokenHash, security.HashToken(token))
				ctx = writeguard.WithActor(ctx, u.ID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireAuth rejects anonymous requests.
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// checkCSRF validates the anti-forgery token on mutating cookie-authenticated
// requests. Bearer requests are not forgeable by a browser and pass through.
// The outcome is recorded on the context for handlers that consume it.
func (s *Server) checkCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if bearerAuth(c) {
			c.Set(ctxKeyCSRFValid, true)
			c.Next()
			return
		}
		hash := sessionTokenHash(c)
		provided := c.GetHeader("X-CSRF-Token")
		if hash == "" || provided == "" || !s.csrf.Validate(hash, provided) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Set(ctxKeyCSRFValid, true)
		c.Next()
	}
}
