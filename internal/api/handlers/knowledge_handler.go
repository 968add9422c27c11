package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tessera-ai/tessera/internal/jobs"
	"github.com/tessera-ai/tessera/internal/services"
)

type KnowledgeHandler struct {
	knowledge *services.KnowledgeService
	runner    *jobs.Runner
}

func NewKnowledgeHandler(knowledge *services.KnowledgeService, runner *jobs.Runner) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, runner: runner}
}

type createKnowledgeRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	AccessControl map[string]any `json:"access_control,omitempty"`
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	kb, err := h.knowledge.Create(r.Context(), actor, req.Name, req.Description, req.AccessControl)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	kbs, err := h.knowledge.List(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kbs)
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

type updateKnowledgeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	kb, err := h.knowledge.Update(r.Context(), actor, chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.knowledge.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *KnowledgeHandler) Reset(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.Reset(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

type fileRefRequest struct {
	FileID string `json:"file_id"`
}

func (h *KnowledgeHandler) AddFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req fileRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id required")
		return
	}

	kb, err := h.knowledge.AddFile(r.Context(), actor, chi.URLParam(r, "id"), req.FileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (h *KnowledgeHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req fileRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id required")
		return
	}

	kb, err := h.knowledge.UpdateFile(r.Context(), actor, chi.URLParam(r, "id"), req.FileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (h *KnowledgeHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req fileRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id required")
		return
	}

	kb, err := h.knowledge.RemoveFile(r.Context(), actor, chi.URLParam(r, "id"), req.FileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

type batchAddRequest struct {
	FileIDs []string `json:"file_ids"`
}

func (h *KnowledgeHandler) BatchAddFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req batchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.FileIDs) == 0 {
		writeError(w, http.StatusBadRequest, "file_ids required")
		return
	}

	res, err := h.knowledge.BatchAddFiles(r.Context(), actor, chi.URLParam(r, "id"), req.FileIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *KnowledgeHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	report, err := h.knowledge.ReindexAll(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type driveFileRequest struct {
	DriveFileID string `json:"drive_file_id"`
	OAuthToken  string `json:"oauth_token"`
}

// AddDriveFile queues background ingestion of one drive file and
// returns the session id to poll.
func (h *KnowledgeHandler) AddDriveFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req driveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriveFileID == "" || req.OAuthToken == "" {
		writeError(w, http.StatusBadRequest, "drive_file_id and oauth_token required")
		return
	}

	sessionID, err := h.runner.SubmitDriveFile(actor, chi.URLParam(r, "id"), req.DriveFileID, req.OAuthToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

type driveFolderRequest struct {
	FolderID   string `json:"folder_id"`
	OAuthToken string `json:"oauth_token"`
	Recursive  bool   `json:"recursive"`
}

// AddDriveFolder queues background ingestion of a drive folder and
// returns the session id to poll.
func (h *KnowledgeHandler) AddDriveFolder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req driveFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FolderID == "" || req.OAuthToken == "" {
		writeError(w, http.StatusBadRequest, "folder_id and oauth_token required")
		return
	}

	sessionID, err := h.runner.SubmitDriveFolder(actor, chi.URLParam(r, "id"), req.FolderID, req.OAuthToken, req.Recursive)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}
