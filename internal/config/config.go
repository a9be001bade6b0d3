package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docuchat-uploads"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	// Chunking
	ChunkTargetTokens  int `envconfig:"CHUNK_TARGET_TOKENS" default:"400"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"60"`
	ChunkLimit         int `envconfig:"CHUNK_LIMIT" default:"600"`

	// Embedding
	EmbedBatchSize   int `envconfig:"EMBED_BATCH_SIZE" default:"96"`
	EmbedMaxAttempts int `envconfig:"EMBED_MAX_ATTEMPTS" default:"4"`
	EmbedConcurrency int `envconfig:"EMBED_CONCURRENCY" default:"3"`

	// Retrieval. Floors differ by embedding type because cosine scores are
	// not comparable across vector spaces.
	RetrievalLimit      int     `envconfig:"RETRIEVAL_LIMIT" default:"6"`
	RetrievalFloorSmall float32 `envconfig:"RETRIEVAL_FLOOR_SMALL" default:"0.72"`
	RetrievalFloorLarge float32 `envconfig:"RETRIEVAL_FLOOR_LARGE" default:"0.35"`

	// Per-session rate limiting on the chat path
	RateLimitPerMinute    int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"12"`
	RateLimitBurst        int           `envconfig:"RATE_LIMIT_BURST" default:"3"`
	RateLimitBurstWindow  time.Duration `envconfig:"RATE_LIMIT_BURST_WINDOW" default:"10s"`
	RateLimitSweepEvery   time.Duration `envconfig:"RATE_LIMIT_SWEEP_EVERY" default:"5m"`

	// Ingestion stage budgets plus one end-to-end cap
	IngestFetchTimeout   time.Duration `envconfig:"INGEST_FETCH_TIMEOUT" default:"2m"`
	IngestExtractTimeout time.Duration `envconfig:"INGEST_EXTRACT_TIMEOUT" default:"5m"`
	IngestEmbedTimeout   time.Duration `envconfig:"INGEST_EMBED_TIMEOUT" default:"10m"`
	IngestPersistTimeout time.Duration `envconfig:"INGEST_PERSIST_TIMEOUT" default:"2m"`
	IngestHardBudget     time.Duration `envconfig:"INGEST_HARD_BUDGET" default:"30m"`
	IngestConcurrency    int           `envconfig:"INGEST_CONCURRENCY" default:"4"`

	// Quiz generation
	QuizBatchSize     int           `envconfig:"QUIZ_BATCH_SIZE" default:"10"`
	QuizConcurrency   int           `envconfig:"QUIZ_CONCURRENCY" default:"2"`
	QuizMaxAttempts   int           `envconfig:"QUIZ_MAX_ATTEMPTS" default:"3"`
	QuizRegenInterval time.Duration `envconfig:"QUIZ_REGEN_INTERVAL" default:"168h"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DOCUCHAT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
