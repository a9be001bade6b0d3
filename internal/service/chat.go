package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/telemetry"
)

// Admitter is the per-session admission gate on the chat path.
type Admitter interface {
	Admit(sessionID string) Decision
}

// AccessChecker is an opaque per-document access gate. It is evaluated once
// per requested document per request; its internals are never inspected.
type AccessChecker interface {
	MayAccess(ctx context.Context, callerID, slug string) (bool, error)
}

// AnswerRetriever fetches the context chunks for a query.
type AnswerRetriever interface {
	Retrieve(ctx context.Context, query string, slugs []string, embeddingType domain.EmbeddingType, perDocumentLimit int) (*domain.RetrievalResult, error)
}

// AnswerGenerator produces complete and streamed answers.
type AnswerGenerator interface {
	Generate(ctx context.Context, input GenerateInput) (*Answer, error)
	GenerateStream(ctx context.Context, input GenerateInput) (<-chan StreamEvent, error)
}

// RateLimitDenied is returned when the session has exhausted its message
// budget. RetryAfterSeconds is an accurate countdown for the caller.
type RateLimitDenied struct {
	RetryAfterSeconds int
}

func (e *RateLimitDenied) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// ChatRequest is one user message on the query path.
type ChatRequest struct {
	SessionID     string
	CallerID      string
	Message       string
	Slugs         []string
	EmbeddingType domain.EmbeddingType
	History       []ChatTurn
	ChunkLimit    int // per-document retrieval limit; 0 uses the default
}

// ChatService runs the per-message query path: admission, access checks,
// retrieval, then generation.
type ChatService struct {
	limiter   Admitter
	access    AccessChecker
	retriever AnswerRetriever
	generator AnswerGenerator
}

// NewChatService creates a new ChatService instance
func NewChatService(limiter Admitter, access AccessChecker, retriever AnswerRetriever, generator AnswerGenerator) *ChatService {
	return &ChatService{
		limiter:   limiter,
		access:    access,
		retriever: retriever,
		generator: generator,
	}
}

// prepare runs the shared front half of both modes: validation, admission,
// access checks and retrieval.
func (s *ChatService) prepare(ctx context.Context, req ChatRequest) (GenerateInput, error) {
	if req.Message == "" || req.SessionID == "" {
		return GenerateInput{}, domain.ErrMissingRequiredField
	}
	if len(req.Slugs) == 0 {
		return GenerateInput{}, domain.ErrMissingRequiredField
	}

	if decision := s.limiter.Admit(req.SessionID); !decision.Allowed {
		return GenerateInput{}, &RateLimitDenied{RetryAfterSeconds: decision.RetryAfterSeconds}
	}

	for _, slug := range req.Slugs {
		ok, err := s.access.MayAccess(ctx, req.CallerID, slug)
		if err != nil {
			return GenerateInput{}, err
		}
		if !ok {
			return GenerateInput{}, domain.ErrAccessDenied
		}
	}

	retrievalStart := time.Now()
	result, err := s.retriever.Retrieve(ctx, req.Message, req.Slugs, req.EmbeddingType, req.ChunkLimit)
	if err != nil {
		return GenerateInput{}, err
	}

	return GenerateInput{
		Query:             req.Message,
		Result:            result,
		History:           req.History,
		RetrievalDuration: time.Since(retrievalStart),
	}, nil
}

// Ask answers a message in complete mode.
func (s *ChatService) Ask(ctx context.Context, req ChatRequest) (*Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.Ask", telemetry.SpanAttributes{
		SessionID: req.SessionID,
		Operation: "ask",
	})
	defer span.End()

	input, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.generator.Generate(ctx, input)
}

// AskStream answers a message as a stream of events.
func (s *ChatService) AskStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.AskStream", telemetry.SpanAttributes{
		SessionID: req.SessionID,
		Operation: "ask_stream",
	})
	defer span.End()

	input, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.generator.GenerateStream(ctx, input)
}
