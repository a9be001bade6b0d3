package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cloo-solutions/docuchat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultChatModel is the model used for answer and quiz generation
	DefaultChatModel = openai.GPT4oMini
	// DefaultTranscriptionModel is the Whisper model used for audio uploads
	DefaultTranscriptionModel = openai.Whisper1
)

var (
	// ErrEmptyText is returned when there is nothing to embed
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions for its embedding type")
	// ErrNoAPIKey is returned when the OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// ChatMessage is one turn of conversation passed to the chat API.
type ChatMessage struct {
	Role    string
	Content string
}

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// API is the subset of the OpenAI SDK this client uses.
type API interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Client wraps the OpenAI API for embeddings, chat and transcription.
type Client struct {
	api       API
	chatModel string
}

type Config struct {
	APIKey    string
	ChatModel string
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	return &Client{
		api:       openai.NewClient(cfg.APIKey),
		chatModel: chatModel,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

func embeddingModel(t domain.EmbeddingType) openai.EmbeddingModel {
	if t == domain.EmbeddingTypeLarge {
		return openai.LargeEmbedding3
	}
	return openai.SmallEmbedding3
}

// EmbedBatch generates embeddings for a batch of texts in one API call.
// The returned slice is index-aligned with the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, embeddingType domain.EmbeddingType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: embeddingModel(embeddingType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	expected := embeddingType.Dimensions()
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != expected {
			return nil, ErrWrongDimensions
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string, embeddingType domain.EmbeddingType) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.EmbedBatch(ctx, []string{text}, embeddingType)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Complete runs a chat completion and returns the full answer text.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: toSDKMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON runs a chat completion in JSON mode, for structured output
// like quiz question sets.
func (c *Client) CompleteJSON(ctx context.Context, messages []ChatMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: toSDKMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// TokenStream is a finite sequence of answer fragments. Recv returns io.EOF
// after the last fragment; Close releases the underlying network call.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type chatStream struct {
	inner *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" && resp.Choices[0].FinishReason != "" {
			return "", io.EOF
		}
		return delta, nil
	}
}

func (s *chatStream) Close() error {
	return s.inner.Close()
}

// Stream starts a streamed chat completion. Cancelling ctx terminates the
// provider-side generation.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage) (TokenStream, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: toSDKMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat stream failed: %w", err)
	}
	return &chatStream{inner: stream}, nil
}

// Transcribe converts an audio upload into text via Whisper.
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    DefaultTranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return resp.Text, nil
}

func toSDKMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
