package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/openai"
)

// ChatProvider runs chat completions in complete and streamed form.
type ChatProvider interface {
	Complete(ctx context.Context, messages []openai.ChatMessage) (string, error)
	Stream(ctx context.Context, messages []openai.ChatMessage) (openai.TokenStream, error)
}

// ChatTurn is one prior turn of the conversation.
type ChatTurn struct {
	Role    string // "user" or "assistant"
	Content string
}

// AnswerMeta is the audit record of one generated answer.
type AnswerMeta struct {
	RetrievalMillis  int64
	GenerationMillis int64
	ChunkCount       int
	DocumentCount    int
	FailedDocs       []string
	UsedChunkIDs     []string
}

// Answer is the complete-mode result of generation.
type Answer struct {
	Text string
	Meta AnswerMeta
}

// StreamEventType discriminates the frames of a streamed answer.
type StreamEventType string

const (
	StreamEventContent StreamEventType = "content"
	StreamEventDone    StreamEventType = "done"
	StreamEventError   StreamEventType = "error"
)

// StreamEvent is one frame of a streamed answer. The channel carries zero or
// more content frames followed by exactly one done frame, or an error frame;
// nothing follows a terminal frame.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Meta    *AnswerMeta
	Err     error
}

// GenerateInput carries everything generation needs. RetrievalDuration is
// measured by the caller around the retrieve step and lands in the answer
// metadata.
type GenerateInput struct {
	Query             string
	Result            *domain.RetrievalResult
	History           []ChatTurn
	RetrievalDuration time.Duration
}

// Generator turns a retrieval result into an answer via the chat provider.
type Generator struct {
	provider ChatProvider
}

// NewGenerator creates a new Generator instance
func NewGenerator(provider ChatProvider) *Generator {
	return &Generator{provider: provider}
}

const systemInstructions = `You are a knowledgeable assistant answering questions strictly from the provided source excerpts. If the excerpts do not contain the answer, say so; never invent facts.`

const singleDocCitations = `Cite the page number for every claim taken from the excerpts, in the form (p. 12). When an excerpt has no page, cite nothing for it.`

const multiDocCitations = `Cite the source document name and page number for every claim, in the form (Document Title, p. 12). A page number alone is never a sufficient citation.
When two sources disagree on a fact, number, or recommendation, you must say so explicitly: present each source's version with its own citation and state that the sources differ. Never silently pick one side or average them.`

// buildMessages assembles the prompt: system instructions plus tagged
// excerpts, then the conversation history, then the current query.
func (g *Generator) buildMessages(input GenerateInput) []openai.ChatMessage {
	multiDoc := input.Result.DocumentCount() > 1

	var sb strings.Builder
	sb.WriteString(systemInstructions)
	sb.WriteString("\n\n")
	if multiDoc {
		sb.WriteString(multiDocCitations)
	} else {
		sb.WriteString(singleDocCitations)
	}
	sb.WriteString("\n\nSource excerpts:\n")

	for _, c := range input.Result.Chunks {
		sb.WriteString("\n")
		sb.WriteString(excerptTag(c, multiDoc))
		sb.WriteString("\n")
		sb.WriteString(c.Chunk.Content)
		sb.WriteString("\n")
	}

	messages := []openai.ChatMessage{{Role: openai.RoleSystem, Content: sb.String()}}
	for _, turn := range input.History {
		role := openai.RoleUser
		if turn.Role == openai.RoleAssistant {
			role = openai.RoleAssistant
		}
		messages = append(messages, openai.ChatMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: input.Query})
	return messages
}

func excerptTag(c domain.RetrievedChunk, multiDoc bool) string {
	if multiDoc {
		if c.Chunk.Page != nil {
			return fmt.Sprintf("[source: %s | page: %d]", c.DocumentTitle, *c.Chunk.Page)
		}
		return fmt.Sprintf("[source: %s]", c.DocumentTitle)
	}
	if c.Chunk.Page != nil {
		return fmt.Sprintf("[page: %d]", *c.Chunk.Page)
	}
	return "[excerpt]"
}

func (g *Generator) meta(input GenerateInput, generation time.Duration) AnswerMeta {
	return AnswerMeta{
		RetrievalMillis:  input.RetrievalDuration.Milliseconds(),
		GenerationMillis: generation.Milliseconds(),
		ChunkCount:       len(input.Result.Chunks),
		DocumentCount:    input.Result.DocumentCount(),
		FailedDocs:       input.Result.FailedDocs,
		UsedChunkIDs:     input.Result.UsedChunkIDs(),
	}
}

// Generate runs a complete (non-streamed) generation.
func (g *Generator) Generate(ctx context.Context, input GenerateInput) (*Answer, error) {
	started := time.Now()
	text, err := g.provider.Complete(ctx, g.buildMessages(input))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	return &Answer{Text: text, Meta: g.meta(input, time.Since(started))}, nil
}

// GenerateStream starts a streamed generation. The returned channel is
// closed after its terminal frame. Cancelling ctx closes the provider-side
// stream so no further tokens are generated.
func (g *Generator) GenerateStream(ctx context.Context, input GenerateInput) (<-chan StreamEvent, error) {
	started := time.Now()
	stream, err := g.provider.Stream(ctx, g.buildMessages(input))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		for {
			fragment, err := stream.Recv()
			if err == io.EOF {
				meta := g.meta(input, time.Since(started))
				g.emit(ctx, events, StreamEvent{Type: StreamEventDone, Meta: &meta})
				return
			}
			if err != nil {
				g.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: err})
				return
			}
			if fragment == "" {
				continue
			}
			if !g.emit(ctx, events, StreamEvent{Type: StreamEventContent, Content: fragment}) {
				return
			}
		}
	}()
	return events, nil
}

func (g *Generator) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
