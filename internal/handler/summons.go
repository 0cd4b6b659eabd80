package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/scrolljustice/summons-server/internal/audit"
	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/middleware"
	"github.com/scrolljustice/summons-server/internal/model"
	"github.com/scrolljustice/summons-server/internal/service"
	"github.com/scrolljustice/summons-server/internal/util"
)

// SummonsAPI is implemented by service.SummonsService.
type SummonsAPI interface {
	SendInvite(ctx context.Context, params service.SendInviteParams) (*service.InviteResult, error)
	Resolve(ctx context.Context, token string) (*model.WitnessSummons, error)
	Respond(ctx context.Context, token string, accept bool) (*model.WitnessSummons, error)
	ListForSession(ctx context.Context, sessionID string, limit, offset int) ([]model.WitnessSummons, error)
}

type SummonsHandler struct {
	summons SummonsAPI
	prefs   PreferenceReader
	now     func() time.Time
}

func NewSummonsHandler(summons SummonsAPI, prefs PreferenceReader) *SummonsHandler {
	return &SummonsHandler{summons: summons, prefs: prefs, now: time.Now}
}

// Routes is mounted under /v1/sessions/{sessionId}/summons. Listing goes
// through viewGuard; anyone authenticated may issue a summons.
func (h *SummonsHandler) Routes(viewGuard func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.With(viewGuard).Get("/", h.List)

	return r
}

// InvitationRoutes is mounted at /witness-invitation and needs no auth; the
// summons token is the credential.
func (h *SummonsHandler) InvitationRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Resolve)
	r.Post("/respond", h.Respond)

	return r
}

type createSummonsRequest struct {
	Email string            `json:"email"`
	Role  model.SummonsRole `json:"role"`
}

// POST /v1/sessions/{sessionId}/summons
func (h *SummonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req createSummonsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.summons.SendInvite(r.Context(), service.SendInviteParams{
		Email:     req.Email,
		Role:      req.Role,
		SessionID: chi.URLParam(r, "sessionId"),
		InvitedBy: user.ID,
		CopyTo:    h.copyAddress(r.Context(), user),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	writeJSON(w, http.StatusCreated, result)
}

// copyAddress returns the inviter's address when they opted into email
// copies. A preference lookup failure only skips the copy.
func (h *SummonsHandler) copyAddress(ctx context.Context, user *model.User) string {
	if h.prefs == nil || user.Email == "" {
		return ""
	}
	enabled, err := h.prefs.Get(ctx, user.ID, service.PrefSummonsEmailCopy)
	if err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("email copy preference lookup failed")
		return ""
	}
	if !enabled {
		return ""
	}
	return user.Email
}

// GET /v1/sessions/{sessionId}/summons
func (h *SummonsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	summons, err := h.summons.ListForSession(r.Context(), chi.URLParam(r, "sessionId"), page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if summons == nil {
		summons = []model.WitnessSummons{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summons":    summons,
		"pagination": page,
	})
}

type resolveResponse struct {
	Summons    *model.WitnessSummons `json:"summons"`
	Actionable bool                  `json:"actionable"`
	Expired    bool                  `json:"expired"`
}

// GET /witness-invitation?token=
func (h *SummonsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if !h.acceptToken(w, r, token) {
		return
	}

	summons, err := h.summons.Resolve(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.now()
	writeJSON(w, http.StatusOK, resolveResponse{
		Summons:    summons,
		Actionable: summons.IsActionable(now),
		Expired:    summons.IsExpired(now),
	})
}

type respondRequest struct {
	Token  string `json:"token"`
	Accept *bool  `json:"accept"`
}

// POST /witness-invitation/respond
func (h *SummonsHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Accept == nil {
		writeError(w, apperrors.MissingRequired("accept"))
		return
	}
	if !h.acceptToken(w, r, req.Token) {
		return
	}

	summons, err := h.summons.Respond(r.Context(), req.Token, *req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summons": summons})
}

// acceptToken rejects anything that cannot be a generated summons token
// before it reaches the store.
func (h *SummonsHandler) acceptToken(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" {
		writeError(w, apperrors.MissingRequired("token"))
		return false
	}
	if !util.IsValidUUID(token) {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventTokenRejected,
			Details: map[string]interface{}{"token": util.MaskToken(token)},
		})
		writeError(w, apperrors.NotFound("Summons"))
		return false
	}
	return true
}
