package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	switch code := apperrors.GetCode(err); code {
	case apperrors.ErrCodeInternal, apperrors.ErrCodeDatabase:
		log.Error().Err(err).Str("code", string(code)).Msg("request failed")
	}
	httputil.WriteError(w, err)
}

// decodeJSON reads a single JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperrors.ValidationError("Request body is empty")
		case errors.As(err, &maxErr):
			return apperrors.ValidationError("Request body too large")
		default:
			return apperrors.ValidationError("Invalid JSON body").WithCause(err)
		}
	}
	return nil
}
