package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/tessera-ai/tessera/internal/services"
)

const maxUploadBytes = 52 << 20

type FileHandler struct {
	files  *services.FileService
	ingest *services.IngestService
}

func NewFileHandler(files *services.FileService, ingest *services.IngestService) *FileHandler {
	return &FileHandler{files: files, ingest: ingest}
}

// Upload stores the payload, creates the record and extracts content
// into the file's own collection. Pass collection_name to also add the
// file to a shared collection in the same request.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// filepath.Base strips any path components from the client name.
	filename := filepath.Base(header.Filename)

	file, err := h.files.UploadAndCreate(r.Context(), actor.ID, filename, contentType, data, nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.ingest.ProcessFile(r.Context(), actor, services.ProcessFileRequest{
		FileID: file.ID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// A shared collection add reuses the chunks just written to the
	// file's own collection.
	if collection := r.FormValue("collection_name"); collection != "" {
		res, err = h.ingest.ProcessFile(r.Context(), actor, services.ProcessFileRequest{
			FileID:         file.ID,
			CollectionName: collection,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file":            file,
		"collection_name": res.CollectionName,
	})
}

type processTextRequest struct {
	Filename       string `json:"filename"`
	Content        string `json:"content"`
	CollectionName string `json:"collection_name,omitempty"`
}

// ProcessText indexes caller-supplied text without a blob behind it.
func (h *FileHandler) ProcessText(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req processTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Filename == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "filename and content required")
		return
	}

	file, err := h.files.CreateFromText(r.Context(), actor.ID, req.Filename, req.Content, nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.ingest.ProcessFile(r.Context(), actor, services.ProcessFileRequest{
		FileID:         file.ID,
		Content:        req.Content,
		CollectionName: req.CollectionName,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file":            file,
		"collection_name": res.CollectionName,
	})
}

// Reprocess re-extracts and re-indexes an existing file's blob.
func (h *FileHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	res, err := h.ingest.ProcessFile(r.Context(), actor, services.ProcessFileRequest{
		FileID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	file, err := h.files.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Download streams the original uploaded payload.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	rc, file, err := h.files.Open(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.files.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
