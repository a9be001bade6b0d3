//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/api/handlers"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/cloo-solutions/docuchat/internal/jobs"
	"github.com/cloo-solutions/docuchat/internal/openai"
	"github.com/cloo-solutions/docuchat/internal/repository"
	"github.com/cloo-solutions/docuchat/internal/server"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/cloo-solutions/docuchat/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	APIKeyID     string
	AuthToken    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment: a pgvector container and
// an in-process server wired with a fake model provider, so no request ever
// leaves the test machine.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Bootstrap creates an elevated API key for testing
func (e *E2ETestEnv) Bootstrap() {
	keyResp, err := e.Post("/apikeys", map[string]interface{}{
		"name":     "e2e-test-key",
		"elevated": true,
	}, "")
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}

	var keyData struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(keyResp.Data, &keyData); err != nil {
		e.T.Fatalf("failed to parse key response: %v", err)
	}
	e.APIKeyID = keyData.ID
	e.AuthToken = keyData.Token
}

// TrainText submits inline text for ingestion and returns once the request
// is queued.
func (e *E2ETestEnv) TrainText(slug, title, text string) {
	resp, err := e.Post("/documents/"+slug+"/train", map[string]interface{}{
		"title": title,
		"text":  text,
	}, e.AuthToken)
	if err != nil {
		e.T.Fatalf("failed to enqueue training for %s: %v", slug, err)
	}

	var train struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &train); err != nil {
		e.T.Fatalf("failed to parse train response: %v", err)
	}
	if train.Status != "queued" {
		e.T.Fatalf("expected queued status, got %s", train.Status)
	}
}

// WaitForTraining polls the document's training history until wantEvents
// events exist and the newest one has reached a terminal status.
func (e *E2ETestEnv) WaitForTraining(slug string, wantEvents int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get("/documents/"+slug+"/events", e.AuthToken)
		if err == nil {
			var events struct {
				Items []struct {
					Status string `json:"status"`
					Error  string `json:"error"`
				} `json:"items"`
			}
			if json.Unmarshal(resp.Data, &events) == nil && len(events.Items) >= wantEvents {
				switch events.Items[0].Status {
				case "completed":
					return
				case "failed":
					e.T.Fatalf("training for %s failed: %s", slug, events.Items[0].Error)
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("training for %s did not finish within %v", slug, timeout)
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
	Type  string          `json:"type,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, body, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	status, respBody, _, err := e.DoRaw(method, path, body, authToken)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if status >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", status, string(respBody))
		}
		return nil, err
	}

	if status >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", status, apiResp.Error)
	}

	return &apiResp, nil
}

// DoRaw performs a request and returns the raw status, body and headers, for
// tests that assert on error payloads.
func (e *E2ETestEnv) DoRaw(method, path string, body interface{}, authToken string) (int, []byte, http.Header, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return 0, nil, nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	return resp.StatusCode, respBody, resp.Header, nil
}

// startServer starts the HTTP server with all handlers wired to real
// repositories and the fake model provider.
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	ctx := context.Background()

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	eventRepo := repository.NewTrainingEventRepository(pool)
	quizRepo := repository.NewQuizRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	model := &fakeModelProvider{}
	extractor := extract.NewExtractor(model)
	embedder := service.NewEmbedder(model, service.EmbedderConfig{})

	ingestSvc := service.NewIngestService(
		&noObjectStore{},
		extractor,
		embedder,
		model,
		docRepo,
		chunkRepo,
		eventRepo,
		txRunner,
		service.IngestConfig{
			FetchTimeout:   time.Minute,
			ExtractTimeout: time.Minute,
			EmbedTimeout:   time.Minute,
			PersistTimeout: time.Minute,
			HardBudget:     5 * time.Minute,
			Chunking: service.ChunkConfig{
				TargetTokens:  60,
				OverlapTokens: 10,
				MaxChunks:     200,
			},
		},
	)

	runner := jobs.NewIngestRunner(ingestSvc, 2, 16)
	runner.Start(ctx)

	limiter := service.NewRateLimiter(service.RateLimiterConfig{
		Rules: []service.WindowRule{
			{Window: time.Minute, Limit: 12},
			{Window: 10 * time.Second, Limit: 3},
		},
	})
	limiter.Start(ctx)

	retriever := service.NewRetriever(embedder, docRepo, chunkRepo, service.RetrieverConfig{})
	generator := service.NewGenerator(model)
	authSvc := service.NewAuthService(apiKeyRepo)
	chatSvc := service.NewChatService(limiter, authSvc, retriever, generator)
	quizSvc := service.NewQuizService(model, docRepo, chunkRepo, quizRepo, service.QuizConfig{
		RegenInterval: time.Hour,
	})

	cfg := server.RouterConfig{
		AuthValidator:   authSvc,
		ChatHandler:     handlers.NewChatHandler(chatSvc),
		TrainHandler:    handlers.NewTrainHandler(runner),
		EventHandler:    handlers.NewEventHandler(eventRepo),
		QuizHandler:     handlers.NewQuizHandler(quizSvc),
		DocumentHandler: handlers.NewDocumentHandler(docRepo),
		UploadHandler:   handlers.NewUploadHandler(nil),
		AuthHandler:     handlers.NewAuthHandler(authSvc),
	}

	router := server.NewRouter(cfg)
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		runner.Stop()
		limiter.Stop()
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// noObjectStore rejects object-key ingestion; E2E tests train inline text.
type noObjectStore struct{}

func (s *noObjectStore) FetchObject(ctx context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("object storage not available in e2e tests")
}

// fakeModelProvider stands in for the OpenAI client. Embeddings are
// deterministic and nearly parallel so every chunk clears the similarity
// floor; completions are canned.
type fakeModelProvider struct{}

func (f *fakeModelProvider) vector(text string, dims int) []float32 {
	v := make([]float32, dims)
	v[0] = 1
	h := fnv.New32a()
	h.Write([]byte(text))
	v[1+int(h.Sum32())%(dims-1)] = 0.05
	return v
}

func (f *fakeModelProvider) Embed(ctx context.Context, text string, embeddingType domain.EmbeddingType) ([]float32, error) {
	return f.vector(text, embeddingType.Dimensions()), nil
}

func (f *fakeModelProvider) EmbedBatch(ctx context.Context, texts []string, embeddingType domain.EmbeddingType) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vector(text, embeddingType.Dimensions())
	}
	return vectors, nil
}

const cannedAnswer = "According to the excerpts, the ingestion pipeline persists one generation at a time (p. 1)."

func (f *fakeModelProvider) Complete(ctx context.Context, messages []openai.ChatMessage) (string, error) {
	return cannedAnswer, nil
}

func (f *fakeModelProvider) Stream(ctx context.Context, messages []openai.ChatMessage) (openai.TokenStream, error) {
	return &fakeTokenStream{fragments: []string{"According to the excerpts, ", "the answer is in the source material."}}, nil
}

func (f *fakeModelProvider) CompleteJSON(ctx context.Context, messages []openai.ChatMessage) (string, error) {
	type question struct {
		Prompt      string   `json:"prompt"`
		Choices     []string `json:"choices"`
		AnswerIndex int      `json:"answer_index"`
		Explanation string   `json:"explanation"`
	}
	payload := struct {
		Questions []question `json:"questions"`
	}{}
	for i := 0; i < 12; i++ {
		payload.Questions = append(payload.Questions, question{
			Prompt:      fmt.Sprintf("What does section %d describe?", i+1),
			Choices:     []string{"The pipeline", "The limiter", "The retriever", "The generator"},
			AnswerIndex: i % 4,
			Explanation: "Stated directly in the excerpt.",
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *fakeModelProvider) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	return "This is a transcript of the uploaded audio.", nil
}

type fakeTokenStream struct {
	fragments []string
	pos       int
}

func (s *fakeTokenStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	fragment := s.fragments[s.pos]
	s.pos++
	return fragment, nil
}

func (s *fakeTokenStream) Close() error { return nil }
