// Package policy defines object visibility policies and the viewer model used
// to enforce them on query results.
package policy

import "strings"

// View policies an object can carry. An owner policy names a single user who
// may view the object, e.g. "owner:user-42".
const (
	PolicyPublic = "public"
	PolicyUsers  = "users"
	PolicyAdmin  = "admin"

	OwnerPolicyPrefix = "owner:"
)

// OwnerPolicy builds the view policy restricting visibility to one user.
func OwnerPolicy(userID string) string {
	return OwnerPolicyPrefix + userID
}

// Object is anything visibility policies apply to.
type Object interface {
	// PolicyOwnerID returns the id of the user who owns the object, or "" if
	// the object has no owner. Owners always see their own objects.
	PolicyOwnerID() string
	// ViewPolicy returns the object's view policy.
	ViewPolicy() string
}

// Viewer is the identity a query executes on behalf of.
type Viewer struct {
	ID      string
	IsAdmin bool
}

// Anonymous reports whether the viewer carries no authenticated identity.
func (v Viewer) Anonymous() bool {
	return v.ID == ""
}

// ValidPolicy reports whether s is a recognized view policy.
func ValidPolicy(s string) bool {
	switch s {
	case PolicyPublic, PolicyUsers, PolicyAdmin:
		return true
	}
	return strings.HasPrefix(s, OwnerPolicyPrefix) && len(s) > len(OwnerPolicyPrefix)
}
