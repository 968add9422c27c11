package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tessera-ai/tessera/internal/progress"
)

const ssePollInterval = time.Second

type ProgressHandler struct {
	store progress.Store
}

func NewProgressHandler(store progress.Store) *ProgressHandler {
	return &ProgressHandler{store: store}
}

// Status returns the current snapshot of a session.
func (h *ProgressHandler) Status(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	st, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Stream pushes session snapshots as server-sent events until the
// session reaches a terminal state or goes away.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	for {
		st, err := h.store.Get(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, progress.ErrSessionExpired) || errors.Is(err, progress.ErrSessionNotFound) {
				fmt.Fprintf(w, "event: end\ndata: %q\n\n", err.Error())
				flusher.Flush()
			}
			return
		}

		payload, err := json.Marshal(st)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()

		if st.Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
