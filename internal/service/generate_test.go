package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatProvider records the prompt it was given and plays back scripted
// fragments.
type fakeChatProvider struct {
	mu        sync.Mutex
	messages  []openai.ChatMessage
	answer    string
	fragments []string
	streamErr error
	callErr   error
	closed    bool
}

func (f *fakeChatProvider) Complete(ctx context.Context, messages []openai.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = messages
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.answer, nil
}

func (f *fakeChatProvider) Stream(ctx context.Context, messages []openai.ChatMessage) (openai.TokenStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = messages
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &fakeTokenStream{provider: f, fragments: f.fragments, err: f.streamErr}, nil
}

func (f *fakeChatProvider) systemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[0].Content
}

type fakeTokenStream struct {
	provider  *fakeChatProvider
	fragments []string
	err       error
	pos       int
}

func (s *fakeTokenStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	out := s.fragments[s.pos]
	s.pos++
	return out, nil
}

func (s *fakeTokenStream) Close() error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	s.provider.closed = true
	return nil
}

func page(n int) *int { return &n }

func singleDocResult() *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Chunks: []domain.RetrievedChunk{
			{
				Chunk:         domain.Chunk{ID: "c1", Ordinal: 0, Content: "Target blood pressure is under 130.", Page: page(12)},
				Score:         0.9,
				DocumentSlug:  "cardio-guide",
				DocumentTitle: "Cardiology Guide",
			},
		},
		PerDocument: map[string]int{"cardio-guide": 1},
	}
}

func multiDocResult() *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Chunks: []domain.RetrievedChunk{
			{
				Chunk:         domain.Chunk{ID: "c1", Content: "target <130", Page: page(12)},
				Score:         0.9,
				DocumentSlug:  "guide-a",
				DocumentTitle: "Guide A",
			},
			{
				Chunk:         domain.Chunk{ID: "c2", Content: "target <140", Page: page(4)},
				Score:         0.85,
				DocumentSlug:  "guide-b",
				DocumentTitle: "Guide B",
			},
		},
		PerDocument: map[string]int{"guide-a": 1, "guide-b": 1},
	}
}

func TestGenerator_SingleDocumentPromptCitesPagesOnly(t *testing.T) {
	provider := &fakeChatProvider{answer: "Under 130 (p. 12)."}
	g := NewGenerator(provider)

	answer, err := g.Generate(context.Background(), GenerateInput{
		Query:  "what is the target?",
		Result: singleDocResult(),
	})

	require.NoError(t, err)
	assert.Equal(t, "Under 130 (p. 12).", answer.Text)

	prompt := provider.systemPrompt()
	assert.Contains(t, prompt, "[page: 12]")
	assert.NotContains(t, prompt, "source:", "single-document prompts must not tag excerpts with document names")
	assert.NotContains(t, prompt, "disagree")
}

func TestGenerator_MultiDocumentPromptTagsSourcesAndSurfacesConflicts(t *testing.T) {
	provider := &fakeChatProvider{answer: "Guide A says <130 (Guide A, p. 12); Guide B says <140 (Guide B, p. 4). The sources disagree."}
	g := NewGenerator(provider)

	answer, err := g.Generate(context.Background(), GenerateInput{
		Query:  "what is the target?",
		Result: multiDocResult(),
	})

	require.NoError(t, err)
	prompt := provider.systemPrompt()
	assert.Contains(t, prompt, "[source: Guide A | page: 12]")
	assert.Contains(t, prompt, "[source: Guide B | page: 4]")
	assert.Contains(t, prompt, "disagree")
	assert.Contains(t, prompt, "page number alone is never a sufficient citation")

	// Both values survive with distinct citations.
	assert.Contains(t, answer.Text, "<130")
	assert.Contains(t, answer.Text, "<140")
	assert.Contains(t, answer.Text, "(Guide A, p. 12)")
	assert.Contains(t, answer.Text, "(Guide B, p. 4)")
	assert.Equal(t, 2, answer.Meta.DocumentCount)
}

func TestGenerator_HistoryPrecedesQuery(t *testing.T) {
	provider := &fakeChatProvider{answer: "ok"}
	g := NewGenerator(provider)

	_, err := g.Generate(context.Background(), GenerateInput{
		Query:  "and the follow-up?",
		Result: singleDocResult(),
		History: []ChatTurn{
			{Role: openai.RoleUser, Content: "first question"},
			{Role: openai.RoleAssistant, Content: "first answer"},
		},
	})
	require.NoError(t, err)

	require.Len(t, provider.messages, 4)
	assert.Equal(t, openai.RoleSystem, provider.messages[0].Role)
	assert.Equal(t, "first question", provider.messages[1].Content)
	assert.Equal(t, openai.RoleAssistant, provider.messages[2].Role)
	assert.Equal(t, "and the follow-up?", provider.messages[3].Content)
}

func TestGenerator_StreamContentThenExactlyOneDone(t *testing.T) {
	provider := &fakeChatProvider{fragments: []string{"Under ", "130 ", "(p. 12)."}}
	g := NewGenerator(provider)

	events, err := g.GenerateStream(context.Background(), GenerateInput{
		Query:             "q",
		Result:            singleDocResult(),
		RetrievalDuration: 42 * time.Millisecond,
	})
	require.NoError(t, err)

	var content strings.Builder
	var doneCount int
	var meta *AnswerMeta
	for ev := range events {
		switch ev.Type {
		case StreamEventContent:
			assert.Zero(t, doneCount, "content must never follow done")
			content.WriteString(ev.Content)
		case StreamEventDone:
			doneCount++
			meta = ev.Meta
		case StreamEventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	assert.Equal(t, "Under 130 (p. 12).", content.String())
	require.Equal(t, 1, doneCount)
	require.NotNil(t, meta)
	assert.Equal(t, int64(42), meta.RetrievalMillis)
	assert.Equal(t, 1, meta.ChunkCount)
	assert.Equal(t, []string{"c1"}, meta.UsedChunkIDs)
	assert.True(t, provider.closed, "stream must be closed after completion")
}

func TestGenerator_StreamErrorIsTerminal(t *testing.T) {
	boom := errors.New("provider reset")
	provider := &fakeChatProvider{fragments: []string{"partial "}, streamErr: boom}
	g := NewGenerator(provider)

	events, err := g.GenerateStream(context.Background(), GenerateInput{Query: "q", Result: singleDocResult()})
	require.NoError(t, err)

	var got []StreamEvent
	for ev := range events {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, StreamEventContent, got[0].Type)
	assert.Equal(t, StreamEventError, got[1].Type)
	assert.ErrorIs(t, got[1].Err, boom)
}

func TestGenerator_StreamCancellationClosesProvider(t *testing.T) {
	// A reader that consumes nothing: the generator blocks on send until the
	// context is cancelled, then must close the provider stream and exit.
	provider := &fakeChatProvider{fragments: []string{"a", "b", "c"}}
	g := NewGenerator(provider)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := g.GenerateStream(ctx, GenerateInput{Query: "q", Result: singleDocResult()})
	require.NoError(t, err)

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				provider.mu.Lock()
				closed := provider.closed
				provider.mu.Unlock()
				assert.True(t, closed)
				return
			}
		case <-deadline:
			t.Fatal("event channel was not closed after cancellation")
		}
	}
}

func TestGenerator_CompleteFailurePropagates(t *testing.T) {
	boom := errors.New("upstream 500")
	provider := &fakeChatProvider{callErr: boom}
	g := NewGenerator(provider)

	_, err := g.Generate(context.Background(), GenerateInput{Query: "q", Result: singleDocResult()})
	assert.ErrorIs(t, err, boom)
}
