package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/model"
)

type AuditReader interface {
	History(ctx context.Context, sessionID string, limit, offset int) ([]model.AuditEntry, error)
}

type AuditHandler struct {
	audit AuditReader
}

func NewAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// GET /v1/sessions/{sessionId}/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	entries, err := h.audit.History(r.Context(), chi.URLParam(r, "sessionId"), page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": page,
	})
}
