package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/scrolljustice/summons-server/internal/database"
	"github.com/scrolljustice/summons-server/internal/model"
)

// pgUniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const pgUniqueViolation = "23505"

// ErrDuplicateToken is returned by Create when another summons already holds the token.
var ErrDuplicateToken = errors.New("summons token already exists")

type SummonsRepository interface {
	Create(ctx context.Context, params model.CreateSummonsParams) (*model.WitnessSummons, error)
	FindByToken(ctx context.Context, token string) (*model.WitnessSummons, error)
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.WitnessSummons, error)
	// HasInviter reports whether userID issued at least one summons in the session.
	HasInviter(ctx context.Context, sessionID, userID string) (bool, error)
	// UpdateStatus moves a pending, unexpired summons to status. It returns nil
	// when no row was eligible for the transition.
	UpdateStatus(ctx context.Context, token string, status model.SummonsStatus, at time.Time) (*model.WitnessSummons, error)
}

type summonsRepo struct {
	db database.DBTX
}

func NewSummonsRepository(db *sqlx.DB) SummonsRepository {
	return &summonsRepo{db: db}
}

func (r *summonsRepo) Create(ctx context.Context, params model.CreateSummonsParams) (*model.WitnessSummons, error) {
	var s model.WitnessSummons
	err := r.db.GetContext(ctx, &s, `
		INSERT INTO witness_summons (
			session_id, invited_email, invited_by, invited_at, status, role, token, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.SessionID, params.InvitedEmail, params.InvitedBy, params.InvitedAt,
		model.SummonsStatusPending, params.Role, params.Token, params.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateToken
		}
		return nil, err
	}
	return &s, nil
}

func (r *summonsRepo) FindByToken(ctx context.Context, token string) (*model.WitnessSummons, error) {
	var s model.WitnessSummons
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM witness_summons WHERE token = $1
	`, token)
	return HandleNotFound(&s, err)
}

func (r *summonsRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.WitnessSummons, error) {
	var summons []model.WitnessSummons
	err := r.db.SelectContext(ctx, &summons, `
		SELECT * FROM witness_summons
		WHERE session_id = $1
		ORDER BY invited_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return summons, err
}

func (r *summonsRepo) HasInviter(ctx context.Context, sessionID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM witness_summons WHERE session_id = $1 AND invited_by = $2
		)
	`, sessionID, userID)
	return exists, err
}

func (r *summonsRepo) UpdateStatus(ctx context.Context, token string, status model.SummonsStatus, at time.Time) (*model.WitnessSummons, error) {
	var s model.WitnessSummons
	err := r.db.GetContext(ctx, &s, `
		UPDATE witness_summons SET
			status = $2,
			responded_at = $3
		WHERE token = $1 AND status = 'pending' AND expires_at > $3
		RETURNING *
	`, token, status, at)
	return HandleNotFound(&s, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
