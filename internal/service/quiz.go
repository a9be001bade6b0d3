package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/openai"
	"github.com/cloo-solutions/docuchat/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// JSONCompleter runs chat completions constrained to JSON output.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, messages []openai.ChatMessage) (string, error)
}

// QuizRepositoryInterface defines the interface for quiz persistence
type QuizRepositoryInterface interface {
	ReplaceQuiz(ctx context.Context, q *domain.QuizSet) error
	GetLatest(ctx context.Context, slug string) (*domain.QuizSet, error)
	LastGeneratedAt(ctx context.Context, slug string) (*time.Time, error)
}

// QuizConfig controls batching, retry and the regeneration limit.
type QuizConfig struct {
	BatchSize      int
	Concurrency    int
	MaxAttempts    int
	RegenInterval  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultQuizConfig provides sane defaults.
func DefaultQuizConfig() QuizConfig {
	return QuizConfig{
		BatchSize:      10,
		Concurrency:    2,
		MaxAttempts:    3,
		RegenInterval:  7 * 24 * time.Hour,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

const (
	quizMinQuestions = 10
	quizMaxQuestions = 100
)

// QuizService generates multiple-choice quiz sets from a document's chunks.
// Question batches run with bounded concurrency; a batch that exhausts its
// retries is recorded but never aborts its siblings, so the result can fall
// short of the requested count and says so.
type QuizService struct {
	chat    JSONCompleter
	docs    DocumentRepositoryInterface
	chunks  ChunkRepositoryInterface
	quizzes QuizRepositoryInterface
	cfg     QuizConfig
	now     func() time.Time
}

// NewQuizService creates a new QuizService instance
func NewQuizService(chat JSONCompleter, docs DocumentRepositoryInterface, chunks ChunkRepositoryInterface, quizzes QuizRepositoryInterface, cfg QuizConfig) *QuizService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultQuizConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultQuizConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultQuizConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultQuizConfig().MaxBackoff
	}
	return &QuizService{
		chat:    chat,
		docs:    docs,
		chunks:  chunks,
		quizzes: quizzes,
		cfg:     cfg,
		now:     time.Now,
	}
}

// GetLatest returns the most recent quiz set for a document.
func (s *QuizService) GetLatest(ctx context.Context, slug string) (*domain.QuizSet, error) {
	return s.quizzes.GetLatest(ctx, slug)
}

// questionCountFor auto-scales the question count: one question per two
// chunks, clamped to [10, 100].
func questionCountFor(chunkCount int) int {
	n := chunkCount / 2
	if n < quizMinQuestions {
		return quizMinQuestions
	}
	if n > quizMaxQuestions {
		return quizMaxQuestions
	}
	return n
}

// Generate produces and persists a new quiz set for the document.
// requestedCount of 0 auto-scales from the chunk count. elevated bypasses
// the regeneration interval.
func (s *QuizService) Generate(ctx context.Context, slug string, requestedCount int, elevated bool) (*domain.QuizSet, error) {
	ctx, span := telemetry.StartSpan(ctx, "QuizService.Generate", telemetry.SpanAttributes{
		DocumentSlug: slug,
		Operation:    "generate",
	})
	defer span.End()

	doc, err := s.docs.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !doc.Active {
		return nil, domain.ErrDocumentInactive
	}

	if !elevated && s.cfg.RegenInterval > 0 {
		last, err := s.quizzes.LastGeneratedAt(ctx, slug)
		if err != nil {
			return nil, err
		}
		if last != nil && s.now().Sub(*last) < s.cfg.RegenInterval {
			return nil, domain.ErrQuizRegenerationTooSoon
		}
	}

	chunks, err := s.chunks.ListBySlug(ctx, slug, 0)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.ErrChunksNotFound
	}

	count := requestedCount
	if count <= 0 {
		count = questionCountFor(len(chunks))
	}

	batches := planBatches(count, s.cfg.BatchSize, chunks)

	type batchResult struct {
		index     int
		questions []domain.QuizQuestion
	}

	var mu sync.Mutex
	var results []batchResult
	failedBatches := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			var questions []domain.QuizQuestion
			err := retryClassified(gctx, s.cfg.MaxAttempts, s.cfg.InitialBackoff, s.cfg.MaxBackoff, func() error {
				q, err := s.generateBatch(gctx, doc.Title, b)
				if err != nil {
					return err
				}
				questions = q
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Sibling batches keep running.
				log.Printf("quiz %s: batch %d failed after retries: %v", slug, i, err)
				failedBatches++
				return nil
			}
			results = append(results, batchResult{index: i, questions: questions})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodePartialFailure, "every quiz batch failed")
	}

	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	quiz := &domain.QuizSet{
		ID:            uuid.NewString(),
		DocumentSlug:  slug,
		Requested:     count,
		FailedBatches: failedBatches,
		CreatedAt:     s.now().UTC(),
	}
	for _, r := range results {
		for _, q := range r.questions {
			q.ID = uuid.NewString()
			q.QuizID = quiz.ID
			q.Index = len(quiz.Questions)
			quiz.Questions = append(quiz.Questions, q)
		}
	}
	quiz.Produced = len(quiz.Questions)

	if err := s.quizzes.ReplaceQuiz(ctx, quiz); err != nil {
		return nil, err
	}
	if quiz.Shortfall() > 0 {
		log.Printf("quiz %s: produced %d of %d requested questions (%d batches failed)", slug, quiz.Produced, quiz.Requested, failedBatches)
	}
	return quiz, nil
}

// quizBatch is one unit of generation work: how many questions to write and
// which chunk contents to write them from.
type quizBatch struct {
	count    int
	material []string
}

// planBatches splits the requested count into batchSize-d batches and deals
// the chunks round-robin across them so every batch has source material.
func planBatches(count, batchSize int, chunks []domain.Chunk) []quizBatch {
	numBatches := (count + batchSize - 1) / batchSize
	batches := make([]quizBatch, numBatches)

	remaining := count
	for i := range batches {
		n := batchSize
		if n > remaining {
			n = remaining
		}
		batches[i].count = n
		remaining -= n
	}

	for i, c := range chunks {
		b := &batches[i%numBatches]
		b.material = append(b.material, c.Content)
	}
	return batches
}

type quizPayload struct {
	Questions []struct {
		Prompt      string   `json:"prompt"`
		Choices     []string `json:"choices"`
		AnswerIndex int      `json:"answer_index"`
		Explanation string   `json:"explanation"`
	} `json:"questions"`
}

func (s *QuizService) generateBatch(ctx context.Context, title string, b quizBatch) ([]domain.QuizQuestion, error) {
	system := fmt.Sprintf(`You write quizzes from study material. Generate exactly %d multiple-choice questions grounded in the provided excerpts. Respond with a JSON object: {"questions": [{"prompt": string, "choices": [four strings], "answer_index": int, "explanation": string}]}. answer_index is zero-based.`, b.count)

	raw, err := s.chat.CompleteJSON(ctx, []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: system},
		{Role: openai.RoleUser, Content: fmt.Sprintf("Document: %s\n\nExcerpts:\n%s", title, strings.Join(b.material, "\n\n"))},
	})
	if err != nil {
		return nil, err
	}

	var payload quizPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "quiz response is not valid JSON", err)
	}

	questions := make([]domain.QuizQuestion, 0, b.count)
	for _, q := range payload.Questions {
		if len(questions) >= b.count {
			break
		}
		question := domain.QuizQuestion{
			Prompt:      q.Prompt,
			Choices:     q.Choices,
			AnswerIndex: q.AnswerIndex,
			Explanation: q.Explanation,
		}
		if err := domain.ValidateQuizQuestion(&question); err != nil {
			continue
		}
		questions = append(questions, question)
	}
	if len(questions) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "quiz response contained no usable questions")
	}
	return questions, nil
}
