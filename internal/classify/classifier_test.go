package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/jackc/pgx/v5/pgconn"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify_Nil(t *testing.T) {
	f := Classify(nil)
	assert.Equal(t, KindUnknown, f.Kind)
	assert.False(t, f.Retryable)
}

func TestClassify_OpenAIStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      Kind
		retryable bool
	}{
		{"rate limit", 429, KindRateLimit, true},
		{"request timeout", 408, KindTimeoutSoft, true},
		{"server error", 500, KindServer, true},
		{"bad gateway", 502, KindServer, true},
		{"bad request", 400, KindValidation, false},
		{"unauthorized", 401, KindValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("call failed: %w", &openai.APIError{HTTPStatusCode: tt.status})
			f := Classify(err)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.retryable, f.Retryable)
		})
	}
}

func TestClassify_RateLimitRetryAfter(t *testing.T) {
	err := &RateLimitedError{After: 7 * time.Second, Err: errors.New("429")}
	f := Classify(err)
	assert.Equal(t, KindRateLimit, f.Kind)
	assert.True(t, f.Retryable)
	assert.Equal(t, 7*time.Second, f.RetryAfter)
}

func TestClassify_PgErrors(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		kind      Kind
		retryable bool
	}{
		{"unique violation", "23505", KindDBConstraint, false},
		{"foreign key violation", "23503", KindDBConstraint, false},
		{"serialization failure", "40001", KindDBTransient, true},
		{"deadlock", "40P01", KindDBTransient, true},
		{"connection failure", "08006", KindDBTransient, true},
		{"too many connections", "53300", KindDBTransient, true},
		{"admin shutdown", "57P01", KindDBTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(&pgconn.PgError{Code: tt.code})
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.retryable, f.Retryable)
		})
	}
}

func TestClassify_Timeouts(t *testing.T) {
	soft := Classify(fmt.Errorf("embed: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeoutSoft, soft.Kind)
	assert.True(t, soft.Retryable)

	hard := Classify(fmt.Errorf("%w: %w", ErrHardBudget, context.DeadlineExceeded))
	assert.Equal(t, KindTimeoutHard, hard.Kind)
	assert.False(t, hard.Retryable)

	canceled := Classify(context.Canceled)
	assert.False(t, canceled.Retryable)
}

func TestClassify_Extraction(t *testing.T) {
	pdf := Classify(fmt.Errorf("%w: bad xref table", extract.ErrPDF))
	assert.Equal(t, KindPDFExtraction, pdf.Kind)
	assert.False(t, pdf.Retryable)

	audio := Classify(fmt.Errorf("%w: unsupported codec", extract.ErrAudio))
	assert.Equal(t, KindAudioExtraction, audio.Kind)
	assert.False(t, audio.Retryable)
}

func TestClassify_EmbeddingCarriesIndex(t *testing.T) {
	f := Classify(&EmbeddingError{Index: 17, Err: errors.New("boom")})
	assert.Equal(t, KindEmbedding, f.Kind)
	assert.True(t, f.Retryable)
	assert.Equal(t, 17, f.FailedIndex)
}

func TestClassify_PartialRetryableOnlyWithFailures(t *testing.T) {
	withFailures := Classify(&PartialError{
		Succeeded: []int{0, 1, 3},
		Failed:    []int{2},
		Err:       errors.New("one batch failed"),
	})
	assert.Equal(t, KindPartial, withFailures.Kind)
	assert.True(t, withFailures.Retryable)
	assert.Equal(t, []int{2}, withFailures.Failed)
	assert.Equal(t, []int{0, 1, 3}, withFailures.Succeeded)

	noFailures := Classify(&PartialError{Succeeded: []int{0, 1}, Err: errors.New("odd")})
	assert.False(t, noFailures.Retryable)
}

func TestClassify_DomainValidation(t *testing.T) {
	f := Classify(domain.ErrInvalidEmbeddingType)
	assert.Equal(t, KindValidation, f.Kind)
	assert.False(t, f.Retryable)
}

func TestClassify_PassesThroughPriorFailure(t *testing.T) {
	first := Classify(&pgconn.PgError{Code: "40001"})
	second := Classify(fmt.Errorf("outer: %w", error(first)))
	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.Retryable, second.Retryable)
}

func TestClassify_UnknownDefaultsNonRetryable(t *testing.T) {
	f := Classify(errors.New("mystery"))
	assert.Equal(t, KindUnknown, f.Kind)
	assert.False(t, f.Retryable)
}
