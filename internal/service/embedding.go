package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/docuchat/internal/classify"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"golang.org/x/sync/errgroup"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string, embeddingType domain.EmbeddingType) ([][]float32, error)
	Embed(ctx context.Context, text string, embeddingType domain.EmbeddingType) ([]float32, error)
}

// EmbedderConfig controls batching and retry behavior.
type EmbedderConfig struct {
	BatchSize      int
	MaxAttempts    int
	Concurrency    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultEmbedderConfig provides sane defaults.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BatchSize:      96,
		MaxAttempts:    4,
		Concurrency:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Embedder converts text into vectors via an external provider, splitting
// oversized batches, retrying retryable failures with exponential backoff,
// and reporting exactly which indices failed when retries exhaust.
type Embedder struct {
	client EmbeddingClient
	cfg    EmbedderConfig
}

// NewEmbedder creates a new Embedder instance
func NewEmbedder(client EmbeddingClient, cfg EmbedderConfig) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedderConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultEmbedderConfig().MaxAttempts
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultEmbedderConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultEmbedderConfig().MaxBackoff
	}
	return &Embedder{client: client, cfg: cfg}
}

// EmbedQuery embeds a single query string with retry.
func (e *Embedder) EmbedQuery(ctx context.Context, text string, embeddingType domain.EmbeddingType) ([]float32, error) {
	var vector []float32
	err := e.withRetry(ctx, func() error {
		v, err := e.client.Embed(ctx, text, embeddingType)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedAll embeds texts in provider-sized sub-batches with bounded
// concurrency. The returned slice is index-aligned with the input. When some
// sub-batches exhaust their retries, the successes are still returned and the
// error is a classify.PartialError listing the failed indices, so the caller
// can persist what succeeded and requeue only the rest.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string, embeddingType domain.EmbeddingType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var mu sync.Mutex
	var failed []int
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			var batch [][]float32
			err := e.withRetry(gctx, func() error {
				b, err := e.client.EmbedBatch(gctx, texts[start:end], embeddingType)
				if err != nil {
					return err
				}
				batch = b
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for i := start; i < end; i++ {
					failed = append(failed, i)
				}
				if firstErr == nil {
					firstErr = err
				}
				// A failed sub-batch never aborts its siblings.
				return nil
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(failed) > 0 {
		sort.Ints(failed)
		succeeded := make([]int, 0, len(texts)-len(failed))
		for i := range texts {
			if vectors[i] != nil {
				succeeded = append(succeeded, i)
			}
		}
		return vectors, &classify.PartialError{
			Succeeded: succeeded,
			Failed:    failed,
			Err:       fmt.Errorf("embedding retries exhausted: %w", firstErr),
		}
	}

	return vectors, nil
}

func (e *Embedder) withRetry(ctx context.Context, op func() error) error {
	return retryClassified(ctx, e.cfg.MaxAttempts, e.cfg.InitialBackoff, e.cfg.MaxBackoff, op)
}

// retryClassified runs op, retrying classified-retryable failures with
// exponential backoff up to maxAttempts total attempts. Provider retry-after
// hints take precedence over the computed backoff when longer.
func retryClassified(ctx context.Context, maxAttempts int, initial, max time.Duration, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		failure := classify.Classify(err)
		if !failure.Retryable || attempt >= maxAttempts {
			return err
		}

		wait := bo.NextBackOff()
		if failure.RetryAfter > wait {
			wait = failure.RetryAfter
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
