package domain

import (
	"fmt"
	"time"
)

// TrainingAction identifies what kind of ingestion run an event records.
type TrainingAction string

const (
	TrainingActionInitial TrainingAction = "initial"
	TrainingActionReplace TrainingAction = "replace"
	TrainingActionAppend  TrainingAction = "append"
)

// TrainingStatus is the lifecycle status of a training event.
type TrainingStatus string

const (
	TrainingStatusStarted   TrainingStatus = "started"
	TrainingStatusCompleted TrainingStatus = "completed"
	TrainingStatusFailed    TrainingStatus = "failed"
)

// TrainingEvent is the audit record of one ingestion or retrain attempt.
// An event is created as "started" and finalized exactly once to a terminal
// status; no code path may leave it dangling.
type TrainingEvent struct {
	ID             string
	DocumentSlug   string
	Action         TrainingAction
	Status         TrainingStatus
	UploadType     UploadType
	ByteSize       int64
	ChunkCount     int
	PriorChunks    int // append mode: how many chunks pre-existed
	DurationMillis int64
	Error          string
	CreatedAt      time.Time
	FinalizedAt    *time.Time
}

// NewTrainingEvent creates a started TrainingEvent.
func NewTrainingEvent(id, slug string, action TrainingAction, uploadType UploadType, byteSize int64, now time.Time) *TrainingEvent {
	return &TrainingEvent{
		ID:           id,
		DocumentSlug: slug,
		Action:       action,
		Status:       TrainingStatusStarted,
		UploadType:   uploadType,
		ByteSize:     byteSize,
		CreatedAt:    now,
	}
}

// ValidateTrainingEvent validates a TrainingEvent instance.
func ValidateTrainingEvent(e *TrainingEvent) error {
	if e == nil {
		return fmt.Errorf("training event cannot be nil")
	}
	if e.ID == "" {
		return ErrMissingRequiredField
	}
	if e.DocumentSlug == "" {
		return ErrMissingRequiredField
	}
	if !isValidTrainingAction(e.Action) {
		return ErrInvalidTrainingAction
	}
	if !isValidTrainingStatus(e.Status) {
		return ErrInvalidTrainingStatus
	}
	if e.UploadType != "" && !IsValidUploadType(e.UploadType) {
		return ErrInvalidUploadType
	}
	if e.ByteSize < 0 {
		return fmt.Errorf("training event byte size cannot be negative")
	}
	return nil
}

// IsTerminal reports whether the event has been finalized.
func (e *TrainingEvent) IsTerminal() bool {
	return e.Status == TrainingStatusCompleted || e.Status == TrainingStatusFailed
}

func isValidTrainingAction(a TrainingAction) bool {
	switch a {
	case TrainingActionInitial, TrainingActionReplace, TrainingActionAppend:
		return true
	}
	return false
}

func isValidTrainingStatus(s TrainingStatus) bool {
	switch s {
	case TrainingStatusStarted, TrainingStatusCompleted, TrainingStatusFailed:
		return true
	}
	return false
}
