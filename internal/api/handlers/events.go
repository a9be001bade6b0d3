package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/pagination"
	"github.com/cloo-solutions/docuchat/internal/repository"
	"github.com/go-chi/chi/v5"
)

type TrainingEventLister interface {
	ListBySlugWithCursor(ctx context.Context, slug string, cursor *pagination.Cursor, limit int) (*repository.TrainingEventPageResult, error)
}

type EventHandler struct {
	events TrainingEventLister
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(events TrainingEventLister) *EventHandler {
	return &EventHandler{events: events}
}

type TrainingEventResponse struct {
	ID             string `json:"id"`
	DocumentSlug   string `json:"document_slug"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	UploadType     string `json:"upload_type,omitempty"`
	ByteSize       int64  `json:"byte_size"`
	ChunkCount     int    `json:"chunk_count"`
	PriorChunks    int    `json:"prior_chunks"`
	DurationMillis int64  `json:"duration_millis"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	FinalizedAt    string `json:"finalized_at,omitempty"`
}

type TrainingEventListResponse struct {
	Items   []*TrainingEventResponse `json:"items"`
	Cursor  string                   `json:"cursor,omitempty"`
	HasMore bool                     `json:"has_more"`
}

func eventToResponse(e *domain.TrainingEvent) *TrainingEventResponse {
	resp := &TrainingEventResponse{
		ID:             e.ID,
		DocumentSlug:   e.DocumentSlug,
		Action:         string(e.Action),
		Status:         string(e.Status),
		UploadType:     string(e.UploadType),
		ByteSize:       e.ByteSize,
		ChunkCount:     e.ChunkCount,
		PriorChunks:    e.PriorChunks,
		DurationMillis: e.DurationMillis,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if e.FinalizedAt != nil {
		resp.FinalizedAt = e.FinalizedAt.Format("2006-01-02T15:04:05Z")
	}
	return resp
}

// List returns a document's training history, newest first.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		api.Error(w, http.StatusBadRequest, "slug is required")
		return
	}

	cursor, err := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.events.ListBySlugWithCursor(r.Context(), slug, cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*TrainingEventResponse, len(page.Items))
	for i, e := range page.Items {
		responses[i] = eventToResponse(e)
	}

	api.Success(w, http.StatusOK, TrainingEventListResponse{
		Items:   responses,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	})
}
