package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	middleware "github.com/tessera-ai/tessera/internal/api/middlewares"
	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/progress"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, progress.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, progress.ErrSessionExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, core.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrDuplicateContent), errors.Is(err, core.ErrFileAlreadyInCollection):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrEmptyContent):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// requireActor pulls the authenticated actor from the context, failing
// the request when the middleware did not run.
func requireActor(w http.ResponseWriter, r *http.Request) (core.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
	}
	return actor, ok
}
