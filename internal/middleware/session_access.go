package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scrolljustice/summons-server/internal/audit"
	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/httputil"
)

// SessionAccessChecker is satisfied by service.SummonsService.
type SessionAccessChecker interface {
	CanViewSession(ctx context.Context, sessionID, userID string) (bool, error)
}

// SessionAccessMiddleware guards routes carrying a {sessionId} URL param.
// Only users who summoned a witness into the session may read it.
type SessionAccessMiddleware struct {
	checker SessionAccessChecker
}

func NewSessionAccessMiddleware(checker SessionAccessChecker) *SessionAccessMiddleware {
	return &SessionAccessMiddleware{checker: checker}
}

func (m *SessionAccessMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil {
			httputil.WriteError(w, apperrors.Unauthorized("Authentication required"))
			return
		}

		sessionID := chi.URLParam(r, "sessionId")
		ok, err := m.checker.CanViewSession(r.Context(), sessionID, user.ID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if !ok {
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventSessionDenied,
				UserID:    user.ID,
				SessionID: sessionID,
			})
			httputil.WriteError(w, apperrors.Forbidden("Not a participant of this session"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
