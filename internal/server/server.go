// Package server exposes sessions, commits, and the audit trail over HTTP.
package server

import (
	"github.com/gin-gonic/gin"

	auditrepo "collabforge/backend/internal/audit/repository"
	commitrepo "collabforge/backend/internal/commit/repository"
	policyengine "collabforge/backend/internal/policy/engine"
	"collabforge/backend/internal/security"
	"collabforge/backend/internal/session/service"
	userrepo "collabforge/backend/internal/user/repository"
)

// Deps carries everything the HTTP surface serves from.
type Deps struct {
	Engine  *service.Engine
	Users   userrepo.Repository
	Hasher  *security.Hasher
	CSRF    *security.CSRFProvider
	Commits commitrepo.Lister
	Eval    policyengine.Evaluator
	Audits  auditrepo.Repository

	// CookieMaxAge is the session cookie lifetime in seconds; it tracks the
	// web session TTL.
	CookieMaxAge int
	// SecureCookies marks session cookies Secure; off only in local dev.
	SecureCookies bool
}

type Server struct {
	engine        *service.Engine
	users         userrepo.Repository
	hasher        *security.Hasher
	csrf          *security.CSRFProvider
	commits       commitrepo.Lister
	eval          policyengine.Evaluator
	audits        auditrepo.Repository
	cookieMaxAge  int
	secureCookies bool
}

// NewServer returns the HTTP surface over the given dependencies.
func NewServer(deps Deps) *Server {
	return &Server{
		engine:        deps.Engine,
		users:         deps.Users,
		hasher:        deps.Hasher,
		csrf:          deps.CSRF,
		commits:       deps.Commits,
		eval:          deps.Eval,
		audits:        deps.Audits,
		cookieMaxAge:  deps.CookieMaxAge,
		secureCookies: deps.SecureCookies,
	}
}

// Router builds the gin engine with all routes and middleware wired.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), traceRequests(), s.authenticate())

	r.GET("/healthz", s.healthz)
	r.POST("/auth/login", s.login)
	r.GET("/commits", s.listCommits)

	auth := r.Group("", requireAuth())
	auth.GET("/me", s.me)
	auth.GET("/audit", s.listAudit)

	sess := auth.Group("/session", s.checkCSRF())
	sess.GET("/hisec", s.hisecStatus)
	sess.POST("/hisec", s.hisecEnter)
	sess.DELETE("/hisec", s.hisecExit)

	return r
}
