package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/api/middleware"
	"github.com/cloo-solutions/docuchat/internal/domain"
)

type AuthService interface {
	CreateAPIKey(ctx context.Context, name string, elevated bool) (string, *domain.APIKey, error)
	GrantAccess(ctx context.Context, keyID, slug string) error
}

type AuthHandler struct {
	svc AuthService
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type CreateAPIKeyRequest struct {
	Name     string `json:"name"`
	Elevated bool   `json:"elevated"`
}

type CreateAPIKeyResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Elevated bool   `json:"elevated"`
	Token    string `json:"token"`
}

// CreateAPIKey mints a new key. The raw token appears in this response and
// nowhere else.
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	token, key, err := h.svc.CreateAPIKey(r.Context(), req.Name, req.Elevated)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, CreateAPIKeyResponse{
		ID:       key.ID,
		Name:     key.Name,
		Elevated: key.Elevated,
		Token:    token,
	})
}

type GrantRequest struct {
	KeyID    string `json:"key_id"`
	Document string `json:"document"`
}

// Grant records a per-document grant for a key. Only elevated callers may
// grant access.
func (h *AuthHandler) Grant(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil || !caller.Elevated {
		api.Error(w, http.StatusForbidden, "elevated key required")
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.KeyID == "" || req.Document == "" {
		api.Error(w, http.StatusBadRequest, "key_id and document are required")
		return
	}

	if err := h.svc.GrantAccess(r.Context(), req.KeyID, req.Document); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, map[string]string{"status": "granted"})
}
