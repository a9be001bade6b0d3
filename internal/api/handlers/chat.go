package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/api/middleware"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
)

type ChatService interface {
	Ask(ctx context.Context, req service.ChatRequest) (*service.Answer, error)
	AskStream(ctx context.Context, req service.ChatRequest) (<-chan service.StreamEvent, error)
}

type ChatHandler struct {
	svc ChatService
}

// NewChatHandler creates a new ChatHandler instance
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	SessionID     string            `json:"session_id"`
	Message       string            `json:"message"`
	Documents     []string          `json:"documents"`
	EmbeddingType string            `json:"embedding_type"`
	History       []ChatTurnRequest `json:"history"`
	ChunkLimit    int               `json:"chunk_limit"`
}

type AnswerMetaResponse struct {
	RetrievalMillis  int64    `json:"retrieval_millis"`
	GenerationMillis int64    `json:"generation_millis"`
	ChunkCount       int      `json:"chunk_count"`
	DocumentCount    int      `json:"document_count"`
	FailedDocuments  []string `json:"failed_documents,omitempty"`
	UsedChunkIDs     []string `json:"used_chunk_ids,omitempty"`
}

type AnswerResponse struct {
	Answer string             `json:"answer"`
	Meta   AnswerMetaResponse `json:"meta"`
}

func answerMetaToResponse(meta service.AnswerMeta) AnswerMetaResponse {
	return AnswerMetaResponse{
		RetrievalMillis:  meta.RetrievalMillis,
		GenerationMillis: meta.GenerationMillis,
		ChunkCount:       meta.ChunkCount,
		DocumentCount:    meta.DocumentCount,
		FailedDocuments:  meta.FailedDocs,
		UsedChunkIDs:     meta.UsedChunkIDs,
	}
}

func (h *ChatHandler) parseRequest(r *http.Request) (service.ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.ChatRequest{}, fmt.Errorf("invalid request body")
	}

	if req.SessionID == "" {
		return service.ChatRequest{}, fmt.Errorf("session_id is required")
	}
	if req.Message == "" {
		return service.ChatRequest{}, fmt.Errorf("message is required")
	}
	if len(req.Documents) == 0 {
		return service.ChatRequest{}, fmt.Errorf("documents is required")
	}

	embeddingType := domain.EmbeddingType(req.EmbeddingType)
	if embeddingType == "" {
		embeddingType = domain.EmbeddingTypeSmall
	}
	if !domain.IsValidEmbeddingType(embeddingType) {
		return service.ChatRequest{}, fmt.Errorf("invalid embedding type")
	}

	history := make([]service.ChatTurn, len(req.History))
	for i, turn := range req.History {
		history[i] = service.ChatTurn{Role: turn.Role, Content: turn.Content}
	}

	var callerID string
	if caller := middleware.GetCaller(r.Context()); caller != nil {
		callerID = caller.KeyID
	}

	return service.ChatRequest{
		SessionID:     req.SessionID,
		CallerID:      callerID,
		Message:       req.Message,
		Slugs:         req.Documents,
		EmbeddingType: embeddingType,
		History:       history,
		ChunkLimit:    req.ChunkLimit,
	}, nil
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	chatReq, err := h.parseRequest(r)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := h.svc.Ask(r.Context(), chatReq)
	if err != nil {
		handleChatError(w, err, chatReq.Slugs)
		return
	}

	api.Success(w, http.StatusOK, AnswerResponse{
		Answer: answer.Text,
		Meta:   answerMetaToResponse(answer.Meta),
	})
}

// StreamFrame is one SSE data frame of a streamed answer.
type StreamFrame struct {
	Type    string              `json:"type"`
	Content string              `json:"content,omitempty"`
	Meta    *AnswerMetaResponse `json:"meta,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	chatReq, err := h.parseRequest(r)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Errors before the first frame still get a regular JSON status.
	events, err := h.svc.AskStream(r.Context(), chatReq)
	if err != nil {
		handleChatError(w, err, chatReq.Slugs)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		frame := StreamFrame{Type: string(event.Type), Content: event.Content}
		if event.Meta != nil {
			meta := answerMetaToResponse(*event.Meta)
			frame.Meta = &meta
		}
		if event.Err != nil {
			frame.Error = event.Err.Error()
		}

		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

func handleChatError(w http.ResponseWriter, err error, slugs []string) {
	if errors.Is(err, domain.ErrNoDocumentsSearchable) {
		api.PartialFailure(w, err.Error(), slugs)
		return
	}
	api.HandleError(w, err)
}
