package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/docuchat/internal/classify"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/cloo-solutions/docuchat/internal/openai"
	"github.com/cloo-solutions/docuchat/internal/telemetry"
	"github.com/google/uuid"
)

// IngestState is the pipeline's observable stage. Any state can transition
// to failed; everything else moves strictly forward.
type IngestState string

const (
	StateFetching    IngestState = "fetching"
	StateExtracting  IngestState = "extracting"
	StateChunking    IngestState = "chunking"
	StateAbstracting IngestState = "abstracting"
	StateEmbedding   IngestState = "embedding"
	StatePersisting  IngestState = "persisting"
	StateReady       IngestState = "ready"
	StateFailed      IngestState = "failed"
)

// ObjectFetcher retrieves uploaded bytes from the object store.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, key string) ([]byte, error)
}

// ContentExtractor turns uploaded bytes into marked plain text.
type ContentExtractor interface {
	Extract(ctx context.Context, uploadType domain.UploadType, filename string, data []byte) (*extract.Result, error)
}

// BatchEmbedder embeds chunk contents, reporting partial failures.
type BatchEmbedder interface {
	EmbedAll(ctx context.Context, texts []string, embeddingType domain.EmbeddingType) ([][]float32, error)
}

// DocumentRepositoryInterface defines the interface for document persistence
type DocumentRepositoryInterface interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Document, error)
	Create(ctx context.Context, d *domain.Document) error
	Update(ctx context.Context, d *domain.Document) error
	SetAbstract(ctx context.Context, slug, abstract string) error
}

// ChunkRepositoryInterface defines the interface for chunk persistence
type ChunkRepositoryInterface interface {
	InsertGeneration(ctx context.Context, chunks []domain.Chunk) error
	DeleteOtherGenerations(ctx context.Context, slug, keepGeneration string) error
	CountBySlug(ctx context.Context, slug string) (int, error)
	ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Chunk, error)
}

// FinalizeDetails carries the terminal fields of a training event.
type FinalizeDetails struct {
	ChunkCount     int
	PriorChunks    int
	DurationMillis int64
	Error          string
}

// TrainingEventRepositoryInterface defines the interface for training event persistence
type TrainingEventRepositoryInterface interface {
	Append(ctx context.Context, e *domain.TrainingEvent) error
	Finalize(ctx context.Context, id string, status domain.TrainingStatus, details FinalizeDetails) error
}

// TxRepositories exposes the repositories bound to one transaction.
type TxRepositories interface {
	Documents() DocumentRepositoryInterface
	Chunks() ChunkRepositoryInterface
}

// TxRunnerInterface runs a function within a database transaction.
type TxRunnerInterface interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

// IngestConfig holds per-stage budgets and one end-to-end cap. The cap's
// expiry classifies as a hard timeout and is never retried.
type IngestConfig struct {
	FetchTimeout   time.Duration
	ExtractTimeout time.Duration
	EmbedTimeout   time.Duration
	PersistTimeout time.Duration
	HardBudget     time.Duration
	Chunking       ChunkConfig
}

// IngestRequest describes one ingestion or retrain run. Exactly one of
// ObjectKey and Payload is set.
type IngestRequest struct {
	Slug          string
	Title         string
	UploadType    domain.UploadType
	Mode          domain.RetrainMode
	EmbeddingType domain.EmbeddingType
	ObjectKey     string
	Payload       []byte
	Filename      string
	ChunkLimit    int // 0 means the configured default
}

// IngestResult summarizes a completed run.
type IngestResult struct {
	EventID     string
	Generation  string
	ChunkCount  int
	PriorChunks int
	Pages       int
}

// IngestService runs the ingestion pipeline: fetch, extract, chunk,
// abstract, embed, persist. Each run appends a training event at the start
// and finalizes it to a terminal status exactly once on every path,
// including cancellation.
type IngestService struct {
	fetcher   ObjectFetcher
	extractor ContentExtractor
	embedder  BatchEmbedder
	chat      ChatProvider // optional; abstract generation is best-effort
	docs      DocumentRepositoryInterface
	chunks    ChunkRepositoryInterface
	events    TrainingEventRepositoryInterface
	tx        TxRunnerInterface
	cfg       IngestConfig
}

// NewIngestService creates a new IngestService instance
func NewIngestService(
	fetcher ObjectFetcher,
	extractor ContentExtractor,
	embedder BatchEmbedder,
	chat ChatProvider,
	docs DocumentRepositoryInterface,
	chunks ChunkRepositoryInterface,
	events TrainingEventRepositoryInterface,
	tx TxRunnerInterface,
	cfg IngestConfig,
) *IngestService {
	return &IngestService{
		fetcher:   fetcher,
		extractor: extractor,
		embedder:  embedder,
		chat:      chat,
		docs:      docs,
		chunks:    chunks,
		events:    events,
		tx:        tx,
		cfg:       cfg,
	}
}

const abstractPlaceholder = "Abstract unavailable."

// Run executes the full pipeline for one request.
func (s *IngestService) Run(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	started := time.Now()

	if err := validateIngestRequest(req); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "IngestService.Run", telemetry.SpanAttributes{
		DocumentSlug: req.Slug,
		Operation:    string(req.Mode),
	})
	defer span.End()

	runCtx := ctx
	if s.cfg.HardBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, s.cfg.HardBudget, classify.ErrHardBudget)
		defer cancel()
	}

	doc, action, err := s.resolveDocument(runCtx, req)
	if err != nil {
		return nil, err
	}

	priorChunks := 0
	if action == domain.TrainingActionAppend {
		priorChunks, err = s.chunks.CountBySlug(runCtx, req.Slug)
		if err != nil {
			return nil, err
		}
	}

	event := domain.NewTrainingEvent(uuid.NewString(), req.Slug, action, req.UploadType, int64(len(req.Payload)), time.Now().UTC())
	if err := s.events.Append(runCtx, event); err != nil {
		return nil, fmt.Errorf("failed to append training event: %w", err)
	}

	result := &IngestResult{EventID: event.ID, PriorChunks: priorChunks}

	// The event must reach a terminal status even when the run context is
	// already dead, so finalization runs on a detached context.
	finalized := false
	finalize := func(status domain.TrainingStatus, chunkCount int, cause string) {
		if finalized {
			return
		}
		finalized = true
		fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer fcancel()
		details := FinalizeDetails{
			ChunkCount:     chunkCount,
			PriorChunks:    priorChunks,
			DurationMillis: time.Since(started).Milliseconds(),
			Error:          cause,
		}
		if err := s.events.Finalize(fctx, event.ID, status, details); err != nil {
			log.Printf("ingest %s: failed to finalize event %s: %v", req.Slug, event.ID, err)
		}
	}
	defer func() {
		finalize(domain.TrainingStatusFailed, 0, "ingestion aborted")
	}()

	fail := func(state IngestState, err error) (*IngestResult, error) {
		err = s.withHardBudget(runCtx, err)
		failure := classify.Classify(err)
		log.Printf("ingest %s: %s -> %s: %s", req.Slug, state, StateFailed, failure.Kind)
		finalize(domain.TrainingStatusFailed, 0, failure.Error())
		return nil, err
	}

	// Fetch
	log.Printf("ingest %s: %s", req.Slug, StateFetching)
	payload := req.Payload
	if req.ObjectKey != "" {
		err = s.stage(runCtx, s.cfg.FetchTimeout, func(sctx context.Context) error {
			payload, err = s.fetcher.FetchObject(sctx, req.ObjectKey)
			return err
		})
		if err != nil {
			return fail(StateFetching, err)
		}
	}

	// Extract
	log.Printf("ingest %s: %s", req.Slug, StateExtracting)
	var extracted *extract.Result
	err = s.stage(runCtx, s.cfg.ExtractTimeout, func(sctx context.Context) error {
		extracted, err = s.extractor.Extract(sctx, req.UploadType, req.Filename, payload)
		return err
	})
	if err != nil {
		return fail(StateExtracting, err)
	}
	result.Pages = extracted.Pages

	// Chunk
	log.Printf("ingest %s: %s", req.Slug, StateChunking)
	chunkCfg := s.cfg.Chunking
	if req.ChunkLimit > 0 {
		chunkCfg.MaxChunks = req.ChunkLimit
	} else if doc.ChunkLimit > 0 {
		chunkCfg.MaxChunks = doc.ChunkLimit
	}
	textChunks := chunkText(extracted.Text, chunkCfg)
	if len(textChunks) == 0 {
		return fail(StateChunking, domain.ErrEmptyDocument)
	}

	// Abstract: best effort, never fails the run. Appends keep the
	// existing abstract.
	if action != domain.TrainingActionAppend {
		log.Printf("ingest %s: %s", req.Slug, StateAbstracting)
		abstract := s.generateAbstract(runCtx, doc.Title, textChunks)
		if err := s.docs.SetAbstract(runCtx, req.Slug, abstract); err != nil {
			log.Printf("ingest %s: failed to store abstract: %v", req.Slug, err)
		}
	}

	// Embed. A partial result cannot be persisted: a generation is
	// all-or-nothing so readers never see half a document.
	log.Printf("ingest %s: %s", req.Slug, StateEmbedding)
	texts := make([]string, len(textChunks))
	for i, c := range textChunks {
		texts[i] = c.Content
	}
	var vectors [][]float32
	err = s.stage(runCtx, s.cfg.EmbedTimeout, func(sctx context.Context) error {
		vectors, err = s.embedder.EmbedAll(sctx, texts, req.EmbeddingType)
		return err
	})
	if err != nil {
		return fail(StateEmbedding, err)
	}

	// Persist
	log.Printf("ingest %s: %s", req.Slug, StatePersisting)
	generation := uuid.NewString()
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, len(textChunks))
	for i, c := range textChunks {
		chunks[i] = domain.Chunk{
			ID:            uuid.NewString(),
			DocumentSlug:  req.Slug,
			Generation:    generation,
			Ordinal:       c.Ordinal,
			Content:       c.Content,
			Page:          c.Page,
			Embedding:     vectors[i],
			EmbeddingType: req.EmbeddingType,
			CreatedAt:     now,
		}
	}

	err = s.stage(runCtx, s.cfg.PersistTimeout, func(sctx context.Context) error {
		return s.tx.WithTx(sctx, func(repos TxRepositories) error {
			if err := repos.Chunks().InsertGeneration(sctx, chunks); err != nil {
				return err
			}
			if action == domain.TrainingActionAppend {
				return nil
			}
			doc.ActiveGeneration = generation
			doc.UploadType = req.UploadType
			if err := repos.Documents().Update(sctx, doc); err != nil {
				return err
			}
			return repos.Chunks().DeleteOtherGenerations(sctx, req.Slug, generation)
		})
	})
	if err != nil {
		return fail(StatePersisting, err)
	}

	log.Printf("ingest %s: %s (%d chunks, generation %s)", req.Slug, StateReady, len(chunks), generation)
	result.Generation = generation
	result.ChunkCount = len(chunks)
	finalize(domain.TrainingStatusCompleted, len(chunks), "")
	return result, nil
}

// resolveDocument loads the target document, creating it on first ingestion.
func (s *IngestService) resolveDocument(ctx context.Context, req IngestRequest) (*domain.Document, domain.TrainingAction, error) {
	doc, err := s.docs.GetBySlug(ctx, req.Slug)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		now := time.Now().UTC()
		doc = &domain.Document{
			Slug:          req.Slug,
			Title:         req.Title,
			Active:        true,
			EmbeddingType: req.EmbeddingType,
			UploadType:    req.UploadType,
			ChunkLimit:    req.ChunkLimit,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := domain.ValidateDocument(doc); err != nil {
			return nil, "", err
		}
		if err := s.docs.Create(ctx, doc); err != nil {
			return nil, "", err
		}
		return doc, domain.TrainingActionInitial, nil
	}
	if err != nil {
		return nil, "", err
	}

	if doc.EmbeddingType != req.EmbeddingType {
		return nil, "", domain.ErrEmbeddingDimensionMismatch
	}
	if req.Mode == domain.RetrainModeAppend {
		return doc, domain.TrainingActionAppend, nil
	}
	return doc, domain.TrainingActionReplace, nil
}

// generateAbstract asks the chat provider for a short abstract built from
// the leading chunks. Failures degrade to a placeholder.
func (s *IngestService) generateAbstract(ctx context.Context, title string, chunks []TextChunk) string {
	if s.chat == nil {
		return abstractPlaceholder
	}

	var sb strings.Builder
	for i, c := range chunks {
		if i >= 3 {
			break
		}
		sb.WriteString(c.Content)
		sb.WriteString("\n")
	}

	messages := []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: "Write a two to three sentence abstract of the following document excerpt. Respond with the abstract only."},
		{Role: openai.RoleUser, Content: fmt.Sprintf("Title: %s\n\n%s", title, sb.String())},
	}

	abstract, err := s.chat.Complete(ctx, messages)
	if err != nil || strings.TrimSpace(abstract) == "" {
		log.Printf("abstract generation failed for %q: %v", title, err)
		return abstractPlaceholder
	}
	return strings.TrimSpace(abstract)
}

// stage runs fn under an optional per-stage timeout and translates hard
// budget expiry into its sentinel.
func (s *IngestService) stage(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.withHardBudget(ctx, fn(sctx))
}

// withHardBudget rewraps stage errors caused by the pipeline cap so they
// classify as hard timeouts rather than retryable soft ones.
func (s *IngestService) withHardBudget(runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if runCtx.Err() != nil && errors.Is(context.Cause(runCtx), classify.ErrHardBudget) && !errors.Is(err, classify.ErrHardBudget) {
		return fmt.Errorf("%w: %w", classify.ErrHardBudget, err)
	}
	return err
}

func validateIngestRequest(req IngestRequest) error {
	if req.Slug == "" {
		return domain.ErrMissingRequiredField
	}
	if !domain.IsValidUploadType(req.UploadType) {
		return domain.ErrInvalidUploadType
	}
	if !domain.IsValidEmbeddingType(req.EmbeddingType) {
		return domain.ErrInvalidEmbeddingType
	}
	if req.Mode != "" && !domain.IsValidRetrainMode(req.Mode) {
		return domain.ErrInvalidRetrainMode
	}
	if req.ObjectKey == "" && len(req.Payload) == 0 {
		return domain.ErrMissingRequiredField
	}
	return nil
}
