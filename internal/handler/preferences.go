package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/middleware"
)

// PreferenceAPI is implemented by service.PreferenceService.
type PreferenceAPI interface {
	Get(ctx context.Context, userID, key string) (bool, error)
	Set(ctx context.Context, userID, key string, value bool) error
	All(ctx context.Context, userID string) (map[string]bool, error)
}

type PreferencesHandler struct {
	prefs PreferenceAPI
}

func NewPreferencesHandler(prefs PreferenceAPI) *PreferencesHandler {
	return &PreferencesHandler{prefs: prefs}
}

func (h *PreferencesHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{key}", h.Get)
	r.Put("/{key}", h.Put)

	return r
}

// GET /v1/preferences
func (h *PreferencesHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	prefs, err := h.prefs.All(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

// GET /v1/preferences/{key}
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	key := chi.URLParam(r, "key")
	value, err := h.prefs.Get(r.Context(), user.ID, key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

type putPreferenceRequest struct {
	Value *bool `json:"value"`
}

// PUT /v1/preferences/{key}
func (h *PreferencesHandler) Put(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req putPreferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value == nil {
		writeError(w, apperrors.MissingRequired("value"))
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.prefs.Set(r.Context(), user.ID, key, *req.Value); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": *req.Value})
}
