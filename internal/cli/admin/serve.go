package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/docuchat/internal/api/handlers"
	"github.com/cloo-solutions/docuchat/internal/config"
	"github.com/cloo-solutions/docuchat/internal/database"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/cloo-solutions/docuchat/internal/jobs"
	"github.com/cloo-solutions/docuchat/internal/openai"
	"github.com/cloo-solutions/docuchat/internal/repository"
	"github.com/cloo-solutions/docuchat/internal/server"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/cloo-solutions/docuchat/internal/storage"
	"github.com/cloo-solutions/docuchat/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the docuchat API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	eventRepo := repository.NewTrainingEventRepository(pool)
	quizRepo := repository.NewQuizRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var s3Client *storage.S3Client
	if cfg.HasS3() {
		s3Config := storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		}
		s3Client, err = storage.NewS3Client(ctx, s3Config)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
	}

	openaiClient := openai.NewClient(cfg.OpenAIAPIKey)
	extractor := extract.NewExtractor(openaiClient)
	embedder := service.NewEmbedder(openaiClient, service.EmbedderConfig{
		BatchSize:   cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxAttempts,
		Concurrency: cfg.EmbedConcurrency,
	})

	var fetcher service.ObjectFetcher
	if s3Client != nil {
		fetcher = s3Client
	} else {
		fetcher = &noObjectStore{}
	}

	ingestSvc := service.NewIngestService(
		fetcher,
		extractor,
		embedder,
		openaiClient,
		docRepo,
		chunkRepo,
		eventRepo,
		txRunner,
		service.IngestConfig{
			FetchTimeout:   cfg.IngestFetchTimeout,
			ExtractTimeout: cfg.IngestExtractTimeout,
			EmbedTimeout:   cfg.IngestEmbedTimeout,
			PersistTimeout: cfg.IngestPersistTimeout,
			HardBudget:     cfg.IngestHardBudget,
			Chunking: service.ChunkConfig{
				TargetTokens:  cfg.ChunkTargetTokens,
				OverlapTokens: cfg.ChunkOverlapTokens,
				MaxChunks:     cfg.ChunkLimit,
			},
		},
	)

	runner := jobs.NewIngestRunner(ingestSvc, cfg.IngestConcurrency, 64)
	runner.Start(ctx)
	defer runner.Stop()
	log.Println("ingest runner started")

	limiter := service.NewRateLimiter(service.RateLimiterConfig{
		Rules: []service.WindowRule{
			{Window: time.Minute, Limit: cfg.RateLimitPerMinute},
			{Window: cfg.RateLimitBurstWindow, Limit: cfg.RateLimitBurst},
		},
		SweepEvery: cfg.RateLimitSweepEvery,
	})
	limiter.Start(ctx)
	defer limiter.Stop()

	retriever := service.NewRetriever(embedder, docRepo, chunkRepo, service.RetrieverConfig{
		PerDocumentLimit: cfg.RetrievalLimit,
		Floors: map[domain.EmbeddingType]float32{
			domain.EmbeddingTypeSmall: cfg.RetrievalFloorSmall,
			domain.EmbeddingTypeLarge: cfg.RetrievalFloorLarge,
		},
	})
	generator := service.NewGenerator(openaiClient)
	authSvc := service.NewAuthService(apiKeyRepo)
	chatSvc := service.NewChatService(limiter, authSvc, retriever, generator)
	quizSvc := service.NewQuizService(openaiClient, docRepo, chunkRepo, quizRepo, service.QuizConfig{
		BatchSize:     cfg.QuizBatchSize,
		Concurrency:   cfg.QuizConcurrency,
		MaxAttempts:   cfg.QuizMaxAttempts,
		RegenInterval: cfg.QuizRegenInterval,
	})

	routerCfg := server.RouterConfig{
		AuthValidator:   authSvc,
		ChatHandler:     handlers.NewChatHandler(chatSvc),
		TrainHandler:    handlers.NewTrainHandler(runner),
		EventHandler:    handlers.NewEventHandler(eventRepo),
		QuizHandler:     handlers.NewQuizHandler(quizSvc),
		DocumentHandler: handlers.NewDocumentHandler(docRepo),
		UploadHandler:   handlers.NewUploadHandler(s3Client),
		AuthHandler:     handlers.NewAuthHandler(authSvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// noObjectStore rejects object-key ingestion when S3 is not configured.
type noObjectStore struct{}

func (s *noObjectStore) FetchObject(ctx context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("object storage not configured: S3_ENDPOINT required")
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
