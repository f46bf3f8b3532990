package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"collabforge/backend/internal/audit/domain"
	"collabforge/backend/internal/audit/producer"
	auditrepo "collabforge/backend/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Recorder writes a single audit event. Used by the session engine code paths.
// Record is best-effort: failures are logged and do not affect the caller.
type Recorder interface {
	Record(ctx context.Context, actorID, action, metadata string)
}

// Logger implements Recorder using the audit repository, an optional event
// producer, and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	producer    producer.Producer
	ipExtractor IPExtractor
}

// NewLogger returns a Recorder that persists to repo, forwards events to prod
// when non-nil, and uses ipExtractor for client IP. ipExtractor may be nil;
// then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, prod producer.Producer, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, producer: prod, ipExtractor: ipExtractor}
}

// Record writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) Record(ctx context.Context, actorID, action, metadata string) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Action:    action,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s: %v", action, err)
		return
	}
	if l.producer != nil {
		if err := l.producer.Emit(ctx, entry); err != nil {
			log.Printf("audit: failed to emit event %s: %v", action, err)
		}
	}
}
