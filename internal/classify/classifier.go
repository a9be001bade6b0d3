// Package classify maps raw failures from external collaborators (OpenAI,
// Postgres, the network, extraction) into a closed set of typed outcomes
// with a retryable verdict. Every retry loop in the ingestion and query
// paths consults this package instead of inspecting provider fields ad hoc.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/jackc/pgx/v5/pgconn"
	openai "github.com/sashabaranov/go-openai"
)

// Kind is the closed set of failure classifications.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindTimeoutSoft     Kind = "timeout_soft"
	KindTimeoutHard     Kind = "timeout_hard"
	KindRateLimit       Kind = "rate_limit"
	KindNetwork         Kind = "network"
	KindServer          Kind = "server"
	KindDBConstraint    Kind = "db_constraint"
	KindDBTransient     Kind = "db_transient"
	KindPDFExtraction   Kind = "pdf_extraction"
	KindAudioExtraction Kind = "audio_extraction"
	KindEmbedding       Kind = "embedding"
	KindPartial         Kind = "partial"
	KindUnknown         Kind = "unknown"
)

// ErrHardBudget marks an operation that exceeded its maximum allotted
// budget. Unlike a transient network timeout it is never retried.
var ErrHardBudget = errors.New("operation exceeded its hard budget")

// EmbeddingError reports a failure embedding one item of a batch. Index is
// the position within the batch that failed, so partial batches can resume.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding item %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// PartialError reports an operation where some sub-operations succeeded and
// some failed. Callers resume only the failed subset.
type PartialError struct {
	Succeeded []int
	Failed    []int
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial failure: %d succeeded, %d failed: %v", len(e.Succeeded), len(e.Failed), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// RateLimitedError carries a provider-supplied retry-after hint.
type RateLimitedError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// Failure is the typed outcome of classification.
type Failure struct {
	Kind       Kind
	Retryable  bool
	RetryAfter time.Duration
	// FailedIndex is set for KindEmbedding; -1 otherwise.
	FailedIndex int
	// Succeeded and Failed are set for KindPartial.
	Succeeded []int
	Failed    []int
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (retryable=%t): %v", f.Kind, f.Retryable, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Classify maps a raw error into a Failure. It is pure: no side effects,
// total over all inputs (unrecognized errors become KindUnknown,
// non-retryable).
func Classify(err error) Failure {
	f := Failure{Kind: KindUnknown, Retryable: false, FailedIndex: -1, Err: err}
	if err == nil {
		return f
	}

	// Already classified; pass through unchanged.
	var prior Failure
	if errors.As(err, &prior) {
		return prior
	}

	var partial *PartialError
	if errors.As(err, &partial) {
		f.Kind = KindPartial
		f.Retryable = len(partial.Failed) > 0
		f.Succeeded = partial.Succeeded
		f.Failed = partial.Failed
		return f
	}

	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		f.Kind = KindEmbedding
		f.Retryable = true
		f.FailedIndex = embErr.Index
		return f
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		f.Kind = KindRateLimit
		f.Retryable = true
		f.RetryAfter = limited.After
		return f
	}

	if errors.Is(err, extract.ErrPDF) {
		f.Kind = KindPDFExtraction
		return f
	}
	if errors.Is(err, extract.ErrAudio) {
		f.Kind = KindAudioExtraction
		return f
	}

	// A hard budget expiry must be checked before the generic deadline
	// case: both unwrap to context.DeadlineExceeded.
	if errors.Is(err, ErrHardBudget) {
		f.Kind = KindTimeoutHard
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		f.Kind = KindTimeoutSoft
		f.Retryable = true
		return f
	}
	if errors.Is(err, context.Canceled) {
		f.Kind = KindTimeoutHard
		return f
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyHTTPStatus(f, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return classifyHTTPStatus(f, reqErr.HTTPStatusCode)
		}
		f.Kind = KindNetwork
		f.Retryable = true
		return f
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(f, pgErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			f.Kind = KindTimeoutSoft
		} else {
			f.Kind = KindNetwork
		}
		f.Retryable = true
		return f
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		if domainErr.Code == domain.ErrCodeValidation {
			f.Kind = KindValidation
		}
		return f
	}

	return f
}

func classifyHTTPStatus(f Failure, status int) Failure {
	switch {
	case status == 429:
		f.Kind = KindRateLimit
		f.Retryable = true
	case status == 408:
		f.Kind = KindTimeoutSoft
		f.Retryable = true
	case status >= 500:
		f.Kind = KindServer
		f.Retryable = true
	case status >= 400:
		f.Kind = KindValidation
	default:
		f.Kind = KindUnknown
	}
	return f
}

// Transient SQLSTATEs: serialization failures, deadlocks, connection
// problems, admin shutdowns. Class 23 is integrity constraint violation.
func classifyPgError(f Failure, pgErr *pgconn.PgError) Failure {
	code := pgErr.SQLState()
	switch {
	case strings.HasPrefix(code, "23"):
		f.Kind = KindDBConstraint
	case code == "40001" || code == "40P01":
		f.Kind = KindDBTransient
		f.Retryable = true
	case strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57"):
		f.Kind = KindDBTransient
		f.Retryable = true
	default:
		f.Kind = KindDBConstraint
	}
	return f
}
