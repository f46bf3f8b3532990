// Package domain holds the commit entity tracked for audit.
package domain

import "time"

// Commit is one imported revision-control commit.
type Commit struct {
	ID          int64
	Identifier  string // full commit hash in the origin repository
	Repository  string
	AuthorID    string // empty when the author could not be resolved to a user
	Summary     string
	AuditStatus string
	Policy      string // view policy, see the policy package
	CommittedAt time.Time
}

// Audit states a commit moves through.
const (
	AuditStatusNone          = "none"
	AuditStatusNeedsAudit    = "needs-audit"
	AuditStatusConcernRaised = "concern-raised"
	AuditStatusAccepted      = "accepted"
)

// PolicyOwnerID implements policy.Object. The commit author owns the commit.
func (c *Commit) PolicyOwnerID() string { return c.AuthorID }

// ViewPolicy implements policy.Object.
func (c *Commit) ViewPolicy() string { return c.Policy }
