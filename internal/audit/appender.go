package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scrolljustice/summons-server/internal/model"
	"github.com/scrolljustice/summons-server/internal/repository"
)

// Appender records session actions in the durable audit trail.
type Appender interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

type StoreAppender struct {
	repo    repository.AuditLogRepository
	timeout time.Duration
}

func NewStoreAppender(repo repository.AuditLogRepository, timeout time.Duration) *StoreAppender {
	return &StoreAppender{repo: repo, timeout: timeout}
}

func (a *StoreAppender) Append(ctx context.Context, entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if err := a.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	log.Info().
		Str("audit", "summons").
		Str("action", string(entry.Action)).
		Str("sessionId", entry.SessionID).
		Str("userId", entry.UserID).
		Time("timestamp", entry.Timestamp).
		Msg(entry.Details)

	return nil
}

// History returns the session's audit trail in append order.
func (a *StoreAppender) History(ctx context.Context, sessionID string, limit, offset int) ([]model.AuditEntry, error) {
	entries, err := a.repo.FindBySessionID(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read audit history: %w", err)
	}
	return entries, nil
}
