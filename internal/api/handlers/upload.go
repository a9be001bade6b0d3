package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/storage"
	"github.com/google/uuid"
)

// UploadHandler issues presigned upload URLs and cleans up abandoned
// uploads. A nil storage client means object storage is not configured.
type UploadHandler struct {
	storage *storage.S3Client
}

// NewUploadHandler creates a new UploadHandler instance
func NewUploadHandler(storage *storage.S3Client) *UploadHandler {
	return &UploadHandler{storage: storage}
}

type InitUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type InitUploadResponse struct {
	ObjectKey string `json:"object_key"`
	UploadURL string `json:"upload_url"`
}

// Init issues a presigned PUT URL; the returned object key is later passed
// to the train endpoint.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		api.Error(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}

	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" {
		api.Error(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	key := "uploads/" + uuid.NewString() + filepath.Ext(req.Filename)
	url, err := h.storage.GenerateUploadURL(r.Context(), key, req.ContentType)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to generate upload url")
		return
	}

	api.Success(w, http.StatusCreated, InitUploadResponse{
		ObjectKey: key,
		UploadURL: url,
	})
}

type AbandonUploadRequest struct {
	ObjectKey string `json:"object_key"`
}

// Abandon deletes an uploaded object that will not be trained.
func (h *UploadHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		api.Error(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}

	var req AbandonUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ObjectKey == "" {
		api.Error(w, http.StatusBadRequest, "object_key is required")
		return
	}

	if err := h.storage.DeleteObject(r.Context(), req.ObjectKey); err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to delete object")
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}
