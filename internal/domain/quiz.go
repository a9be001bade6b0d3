package domain

import (
	"fmt"
	"time"
)

// QuizQuestion is one multiple-choice question in a quiz set.
type QuizQuestion struct {
	ID           string
	QuizID       string
	Index        int
	Prompt       string
	Choices      []string
	AnswerIndex  int
	Explanation  string
}

// QuizSet is a generated collection of questions for one document.
// Produced may be less than Requested when some generation batches failed.
type QuizSet struct {
	ID            string
	DocumentSlug  string
	Requested     int
	Produced      int
	FailedBatches int
	Questions     []QuizQuestion
	CreatedAt     time.Time
}

// Shortfall reports how many requested questions were not produced.
func (q *QuizSet) Shortfall() int {
	if q.Requested <= q.Produced {
		return 0
	}
	return q.Requested - q.Produced
}

// ValidateQuizQuestion validates a QuizQuestion instance.
func ValidateQuizQuestion(q *QuizQuestion) error {
	if q == nil {
		return fmt.Errorf("quiz question cannot be nil")
	}
	if q.Prompt == "" {
		return ErrMissingRequiredField
	}
	if len(q.Choices) < 2 {
		return ErrInvalidQuizQuestion
	}
	if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Choices) {
		return ErrInvalidQuizQuestion
	}
	return nil
}
