package domain

import "time"

// AuditLog is one append-only audit event.
type AuditLog struct {
	ID        string
	ActorID   string // empty for events with no authenticated actor
	Action    string
	IP        string
	Metadata  string // JSON details payload, e.g. {"session_type":"web"}
	CreatedAt time.Time
}

// Audit actions recorded by the session engine.
const (
	ActionLogin             = "session.login"
	ActionEnterHighSecurity = "session.hisec.enter"
	ActionExitHighSecurity  = "session.hisec.exit"
)
