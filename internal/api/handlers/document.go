package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/go-chi/chi/v5"
)

type DocumentLister interface {
	List(ctx context.Context) ([]*domain.Document, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Document, error)
}

type DocumentHandler struct {
	docs DocumentLister
}

// NewDocumentHandler creates a new DocumentHandler instance
func NewDocumentHandler(docs DocumentLister) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

type DocumentResponse struct {
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	Abstract      string `json:"abstract,omitempty"`
	Active        bool   `json:"active"`
	EmbeddingType string `json:"embedding_type"`
	UploadType    string `json:"upload_type,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		Slug:          d.Slug,
		Title:         d.Title,
		Abstract:      d.Abstract,
		Active:        d.Active,
		EmbeddingType: string(d.EmbeddingType),
		UploadType:    string(d.UploadType),
		CreatedAt:     d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:     d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*DocumentResponse, len(docs))
	for i, d := range docs {
		responses[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, responses)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		api.Error(w, http.StatusBadRequest, "slug is required")
		return
	}

	doc, err := h.docs.GetBySlug(r.Context(), slug)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}
