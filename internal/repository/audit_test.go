package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrolljustice/summons-server/internal/model"
)

func TestAuditLogRepository_Append(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := model.AuditEntry{
		SessionID: "session-1",
		UserID:    "user-1",
		Action:    model.AuditActionWitnessSummoned,
		Details:   "Summoned witness@example.org as witness",
		Timestamp: at,
	}

	t.Run("inserts entry", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewAuditLogRepository(db)

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs("session-1", "user-1", "witness_summoned", entry.Details, at).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Append(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewAuditLogRepository(db)

		mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

		assert.Error(t, repo.Append(context.Background(), entry))
	})
}

func TestAuditLogRepository_FindBySessionID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAuditLogRepository(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT \\* FROM audit_logs").
		WithArgs("session-1", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "user_id", "action", "details", "created_at"}).
			AddRow("a-1", "session-1", "user-1", "witness_summoned", "details", at))

	entries, err := repo.FindBySessionID(context.Background(), "session-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionWitnessSummoned, entries[0].Action)
	assert.Equal(t, at, entries[0].Timestamp)
}
