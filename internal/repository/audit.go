package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/scrolljustice/summons-server/internal/database"
	"github.com/scrolljustice/summons-server/internal/model"
)

// AuditLogRepository is append-only: rows are never updated or deleted here.
type AuditLogRepository interface {
	Append(ctx context.Context, entry model.AuditEntry) error
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.AuditEntry, error)
}

type auditLogRepo struct {
	db database.DBTX
}

func NewAuditLogRepository(db *sqlx.DB) AuditLogRepository {
	return &auditLogRepo{db: db}
}

func (r *auditLogRepo) Append(ctx context.Context, entry model.AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (session_id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.SessionID, entry.UserID, entry.Action, entry.Details, entry.Timestamp)
	return err
}

func (r *auditLogRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM audit_logs
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return entries, err
}
