package domain

import (
	"fmt"
	"regexp"
	"time"
)

// EmbeddingType selects the vector space a document's chunks live in.
type EmbeddingType string

const (
	EmbeddingTypeSmall EmbeddingType = "small"
	EmbeddingTypeLarge EmbeddingType = "large"
)

// Dimensions returns the vector dimensionality for the embedding type.
func (t EmbeddingType) Dimensions() int {
	switch t {
	case EmbeddingTypeLarge:
		return 3072
	default:
		return 1536
	}
}

// UploadType identifies the format of an uploaded source file.
// It is persisted once at ingestion time and never re-derived from filenames.
type UploadType string

const (
	UploadTypePDF   UploadType = "pdf"
	UploadTypeText  UploadType = "text"
	UploadTypeAudio UploadType = "audio"
)

// RetrainMode controls what happens to a document's existing chunks on retrain.
type RetrainMode string

const (
	// RetrainModeReplace supersedes the prior chunk generation once the new
	// one is fully persisted.
	RetrainModeReplace RetrainMode = "replace"
	// RetrainModeAppend adds a new generation alongside the existing ones.
	RetrainModeAppend RetrainMode = "append"
)

// Document is a logical unit of knowledge addressable by its slug.
type Document struct {
	Slug             string
	Title            string
	OwnerID          string
	Abstract         string
	Active           bool
	EmbeddingType    EmbeddingType
	ActiveGeneration string
	ChunkLimit       int // 0 means use the configured default
	UploadType       UploadType
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// ValidateDocument validates a Document instance.
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.Slug == "" {
		return ErrMissingRequiredField
	}
	if !slugPattern.MatchString(d.Slug) {
		return ErrInvalidSlug
	}
	if d.Title == "" {
		return ErrMissingRequiredField
	}
	if !IsValidEmbeddingType(d.EmbeddingType) {
		return ErrInvalidEmbeddingType
	}
	if d.UploadType != "" && !IsValidUploadType(d.UploadType) {
		return ErrInvalidUploadType
	}
	return nil
}

// IsValidEmbeddingType checks if an EmbeddingType is a known value.
func IsValidEmbeddingType(t EmbeddingType) bool {
	switch t {
	case EmbeddingTypeSmall, EmbeddingTypeLarge:
		return true
	}
	return false
}

// IsValidUploadType checks if an UploadType is a known value.
func IsValidUploadType(t UploadType) bool {
	switch t {
	case UploadTypePDF, UploadTypeText, UploadTypeAudio:
		return true
	}
	return false
}

// IsValidRetrainMode checks if a RetrainMode is a known value.
func IsValidRetrainMode(m RetrainMode) bool {
	switch m {
	case RetrainModeReplace, RetrainModeAppend:
		return true
	}
	return false
}
