// Package extract turns uploaded files into plain text annotated with page
// markers. Markers are inserted here, at extraction time, and consumed by
// the chunker for page attribution; nothing downstream re-derives pages
// from filenames or offsets.
package extract

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/docuchat/internal/domain"
)

// Transcriber converts audio bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, data []byte) (string, error)
}

// Result is extracted text with page markers embedded.
type Result struct {
	Text  string
	Pages int // 0 when the source has no page structure
}

// Extractor dispatches extraction by upload type.
type Extractor struct {
	transcriber Transcriber
}

func NewExtractor(transcriber Transcriber) *Extractor {
	return &Extractor{transcriber: transcriber}
}

// Extract produces marked text for the given upload.
func (e *Extractor) Extract(ctx context.Context, uploadType domain.UploadType, filename string, data []byte) (*Result, error) {
	switch uploadType {
	case domain.UploadTypePDF:
		return FromPDF(data)
	case domain.UploadTypeText:
		return FromText(data), nil
	case domain.UploadTypeAudio:
		return e.fromAudio(ctx, filename, data)
	default:
		return nil, domain.ErrInvalidUploadType
	}
}

func (e *Extractor) fromAudio(ctx context.Context, filename string, data []byte) (*Result, error) {
	if e.transcriber == nil {
		return nil, fmt.Errorf("transcriber not configured")
	}
	text, err := e.transcriber.Transcribe(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAudio, err)
	}
	// Transcripts have no page structure; chunks will carry nil pages.
	return &Result{Text: text}, nil
}
