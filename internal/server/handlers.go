package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"collabforge/backend/internal/audit"
	auditdomain "collabforge/backend/internal/audit/domain"
	"collabforge/backend/internal/commit"
	"collabforge/backend/internal/pager"
	"collabforge/backend/internal/policy"
	"collabforge/backend/internal/security"
	sessiondomain "collabforge/backend/internal/session/domain"
	"collabforge/backend/internal/session/service"
	userdomain "collabforge/backend/internal/user/domain"
)

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	ctx := c.Request.Context()

	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if u == nil || u.PasswordHash == "" || s.hasher.Compare(u.PasswordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if u.Status != userdomain.UserStatusActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	token, err := s.engine.Establish(ctx, sessiondomain.TypeWeb, u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.SetCookie(SessionCookieName, token, s.cookieMaxAge, "/", "", s.secureCookies, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"csrf_token": s.csrf.Issue(security.HashToken(token)),
		"user":       userJSON(u),
	})
}

func (s *Server) me(c *gin.Context) {
	u := CurrentUser(c)
	sess := u.Session()

	resp := gin.H{
		"user": userJSON(u),
		"session": gin.H{
			"type":                sess.Type,
			"expires_at":          sess.ExpiresAt,
			"high_security_until": sess.HighSecurityUntil,
		},
	}
	if !bearerAuth(c) {
		resp["csrf_token"] = s.csrf.Issue(sessionTokenHash(c))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) hisecStatus(c *gin.Context) {
	u := CurrentUser(c)
	token, err := s.engine.RequireHighSecurity(c.Request.Context(), u, service.StepUpRequest{})
	if err != nil {
		var required *service.HighSecurityRequiredError
		if errors.As(err, &required) {
			c.JSON(http.StatusForbidden, gin.H{"error": "high_security_required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token.Value, "until": token.ExpiresAt})
}

type hisecRequest struct {
	Proof     string `json:"proof"`
	CancelURI string `json:"cancel_uri"`
}

func (s *Server) hisecEnter(c *gin.Context) {
	u := CurrentUser(c)
	var req hisecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	token, err := s.engine.RequireHighSecurity(c.Request.Context(), u, service.StepUpRequest{
		IsSubmission: true,
		ValidCSRF:    csrfValid(c),
		Proof:        req.Proof,
		CancelURI:    req.CancelURI,
	})
	if err != nil {
		if errors.Is(err, service.ErrNoSession) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var required *service.HighSecurityRequiredError
		if errors.As(err, &required) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":            "high_security_required",
				"challenge_failed": required.ChallengeFailed,
				"cancel_uri":       required.CancelURI,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "step-up failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token.Value, "until": token.ExpiresAt})
}

func (s *Server) hisecExit(c *gin.Context) {
	u := CurrentUser(c)
	if err := s.engine.ExitHighSecurity(c.Request.Context(), u, u.Session()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "exit failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listCommits(c *gin.Context) {
	viewer := policy.Viewer{}
	if u := CurrentUser(c); u != nil {
		viewer = policy.Viewer{ID: u.ID, IsAdmin: u.IsAdmin}
	}

	descending := c.DefaultQuery("dir", "desc") != "asc"
	order := commit.OrderByCommittedAt(descending)
	if c.Query("order") == "identifier" {
		order = commit.OrderByIdentifier(descending)
	}

	q := commit.NewQuery(s.commits, s.eval, viewer).SetOrder(order)
	if authors := splitParam(c.Query("authors")); len(authors) > 0 {
		q.WithAuthors(authors...)
	}
	if repos := splitParam(c.Query("repositories")); len(repos) > 0 {
		q.WithRepositories(repos...)
	}
	if statuses := splitParam(c.Query("statuses")); len(statuses) > 0 {
		q.WithAuditStatus(statuses...)
	}
	if limit, err := parseLimit(c.Query("limit")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	} else if limit > 0 {
		q.SetLimit(limit)
	}
	if err := q.SetCursor(c.Query("cursor")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	page, err := q.Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	commits := make([]gin.H, len(page.Commits))
	for i, cm := range page.Commits {
		commits[i] = gin.H{
			"id":           cm.ID,
			"identifier":   cm.Identifier,
			"repository":   cm.Repository,
			"author_id":    cm.AuthorID,
			"summary":      cm.Summary,
			"audit_status": cm.AuditStatus,
			"committed_at": cm.CommittedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"commits":     commits,
		"next_cursor": page.NextCursor,
		"prev_cursor": page.PrevCursor,
	})
}

func (s *Server) listAudit(c *gin.Context) {
	u := CurrentUser(c)
	if !u.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	descending := c.DefaultQuery("dir", "desc") != "asc"
	p := pager.New()
	if limit, err := parseLimit(c.Query("limit")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	} else if limit > 0 {
		p.SetLimit(limit)
	}
	if err := p.SetCursor(c.Query("cursor")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	src := &audit.EventSource{Repo: s.audits, Order: audit.EventOrder(descending)}
	page, err := p.Execute(c.Request.Context(), src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	events := make([]gin.H, len(page.Rows))
	for i, row := range page.Rows {
		ev := row.(*auditdomain.AuditLog)
		events[i] = gin.H{
			"id":         ev.ID,
			"actor_id":   ev.ActorID,
			"action":     ev.Action,
			"ip":         ev.IP,
			"metadata":   ev.Metadata,
			"created_at": ev.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"events":      events,
		"next_cursor": page.NextCursor,
		"prev_cursor": page.PrevCursor,
	})
}

func userJSON(u *userdomain.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"real_name": u.RealName,
		"is_admin":  u.IsAdmin,
	}
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}
