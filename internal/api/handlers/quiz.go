package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/api/middleware"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/go-chi/chi/v5"
)

type QuizService interface {
	Generate(ctx context.Context, slug string, requestedCount int, elevated bool) (*domain.QuizSet, error)
	GetLatest(ctx context.Context, slug string) (*domain.QuizSet, error)
}

type QuizHandler struct {
	svc QuizService
}

// NewQuizHandler creates a new QuizHandler instance
func NewQuizHandler(svc QuizService) *QuizHandler {
	return &QuizHandler{svc: svc}
}

type GenerateQuizRequest struct {
	Count int `json:"count"`
}

type QuizQuestionResponse struct {
	Index       int      `json:"index"`
	Prompt      string   `json:"prompt"`
	Choices     []string `json:"choices"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation,omitempty"`
}

type QuizResponse struct {
	ID            string                 `json:"id"`
	DocumentSlug  string                 `json:"document_slug"`
	Requested     int                    `json:"requested"`
	Produced      int                    `json:"produced"`
	Shortfall     int                    `json:"shortfall"`
	FailedBatches int                    `json:"failed_batches"`
	Questions     []QuizQuestionResponse `json:"questions"`
	CreatedAt     string                 `json:"created_at"`
}

func quizToResponse(q *domain.QuizSet) *QuizResponse {
	questions := make([]QuizQuestionResponse, len(q.Questions))
	for i, question := range q.Questions {
		questions[i] = QuizQuestionResponse{
			Index:       question.Index,
			Prompt:      question.Prompt,
			Choices:     question.Choices,
			AnswerIndex: question.AnswerIndex,
			Explanation: question.Explanation,
		}
	}
	return &QuizResponse{
		ID:            q.ID,
		DocumentSlug:  q.DocumentSlug,
		Requested:     q.Requested,
		Produced:      q.Produced,
		Shortfall:     q.Shortfall(),
		FailedBatches: q.FailedBatches,
		Questions:     questions,
		CreatedAt:     q.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// Generate triggers quiz generation for a document. Count 0 lets the service
// scale the quiz to the document's size.
func (h *QuizHandler) Generate(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		api.Error(w, http.StatusBadRequest, "slug is required")
		return
	}

	var req GenerateQuizRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var elevated bool
	if caller := middleware.GetCaller(r.Context()); caller != nil {
		elevated = caller.Elevated
	}

	quiz, err := h.svc.Generate(r.Context(), slug, req.Count, elevated)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, quizToResponse(quiz))
}

// Get returns the document's current quiz.
func (h *QuizHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		api.Error(w, http.StatusBadRequest, "slug is required")
		return
	}

	quiz, err := h.svc.GetLatest(r.Context(), slug)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, quizToResponse(quiz))
}
