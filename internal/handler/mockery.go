package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/scrolljustice/summons-server/internal/middleware"
	"github.com/scrolljustice/summons-server/internal/service"
)

type MockeryDetector interface {
	Detect(text string) service.MockeryResult
}

type PreferenceReader interface {
	Get(ctx context.Context, userID, key string) (bool, error)
}

type MockeryHandler struct {
	detector MockeryDetector
	prefs    PreferenceReader
}

func NewMockeryHandler(detector MockeryDetector, prefs PreferenceReader) *MockeryHandler {
	return &MockeryHandler{detector: detector, prefs: prefs}
}

func (h *MockeryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/detect", h.Detect)

	return r
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	service.MockeryResult
	// AutoDeploy mirrors the user's fire_seal_auto_deploy toggle.
	AutoDeploy bool `json:"autoDeploy"`
}

// POST /v1/mockery/detect
func (h *MockeryHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp := detectResponse{
		MockeryResult: h.detector.Detect(req.Text),
		AutoDeploy:    true,
	}

	if user := middleware.GetUser(r.Context()); user != nil && h.prefs != nil {
		autoDeploy, err := h.prefs.Get(r.Context(), user.ID, service.PrefFireSealAutoDeploy)
		if err != nil {
			log.Warn().Err(err).Str("userId", user.ID).Msg("failed to read fire seal preference")
		} else {
			resp.AutoDeploy = autoDeploy
		}
	}

	if resp.Detected {
		log.Info().
			Str("triggerPhrase", resp.TriggerPhrase).
			Bool("autoDeploy", resp.AutoDeploy).
			Msg("mockery detected")
	}

	writeJSON(w, http.StatusOK, resp)
}
