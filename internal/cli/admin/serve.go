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

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/stadtwerk-labs/wissen/internal/api/handlers"
	"github.com/stadtwerk-labs/wissen/internal/config"
	"github.com/stadtwerk-labs/wissen/internal/jobs"
	"github.com/stadtwerk-labs/wissen/internal/openai"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
	"github.com/stadtwerk-labs/wissen/internal/repository"
	"github.com/stadtwerk-labs/wissen/internal/server"
	"github.com/stadtwerk-labs/wissen/internal/service"
	"github.com/stadtwerk-labs/wissen/internal/storage"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the wissen API server with the synthesis and reconcile workers",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-workers", false, "Run the API only, without background workers")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
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

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required: synthesis, retrieval and answers all need the model")
	}

	aiClient, err := openai.NewClientWithConfig(openai.Config{
		APIKey:          cfg.OpenAIAPIKey,
		EmbeddingModel:  cfg.EmbeddingModel,
		CompletionModel: cfg.CompletionModel,
	})
	if err != nil {
		return fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	vectorIndex := qdrant.NewClient(qdrant.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Dimensions: aiClient.Dimensions(),
		Timeout:    time.Duration(cfg.QdrantTimeout) * time.Second,
	})

	kbRepo := repository.NewKBItemRepository(pool)
	ingestionRepo := repository.NewIngestionRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	clientRepo := repository.NewClientRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var archive service.SourceArchive
	if cfg.HasS3() {
		s3Archive, err := storage.NewArchive(ctx, storage.ArchiveConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create source archive: %w", err)
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure archive bucket: %w", err)
		}
		log.Printf("source archive bucket '%s' ready", cfg.S3Bucket)
		archive = s3Archive
	}

	knowledgeSvc := service.NewKnowledgeService(kbRepo, clientRepo, ingestionRepo, txRunner, aiClient, vectorIndex)
	synthesisSvc := service.NewSynthesisService(aiClient)
	ingestionSvc := service.NewIngestionService(ingestionRepo, clientRepo, synthesisSvc, knowledgeSvc, archive, service.IngestionConfig{
		Model:           aiClient.CompletionModel(),
		ReasoningEffort: cfg.ReasoningEffort,
	})
	retrievalSvc := service.NewRetrievalService(aiClient, vectorIndex, kbRepo, cfg.RetrievalTopK)
	answerSvc := service.NewAnswerService(aiClient, cfg.ReasoningEffort)
	chatSvc := service.NewChatService(chatRepo, txRunner, retrievalSvc, answerSvc)
	clientSvc := service.NewClientService(clientRepo)
	reconcileSvc := service.NewReconcileService(kbRepo, clientRepo, vectorIndex, knowledgeSvc)

	// Expired unpinned sessions are purged on startup; the retention window
	// only moves forward while the daemon runs.
	if purged, err := chatSvc.SweepExpired(ctx, cfg.ChatRetentionDays); err != nil {
		log.Printf("retention sweep failed: %v", err)
	} else if purged > 0 {
		log.Printf("retention sweep purged %d session(s)", purged)
	}

	var workers []*jobs.Worker
	noWorkers, _ := cmd.Flags().GetBool("no-workers")
	if !noWorkers {
		synthesisWorker := jobs.NewWorker(
			jobs.NewSynthesisWorker(ingestionSvc, 10),
			time.Duration(cfg.SynthesisPollSeconds)*time.Second,
		)
		go synthesisWorker.Start(ctx)
		log.Println("synthesis worker started")

		reconcileWorker := jobs.NewWorker(
			jobs.NewReconcileWorker(reconcileSvc),
			time.Duration(cfg.ReconcilePollSeconds)*time.Second,
		)
		go reconcileWorker.Start(ctx)
		log.Println("reconcile worker started")

		workers = append(workers, synthesisWorker, reconcileWorker)
	}

	routerCfg := server.RouterConfig{
		IngestionHandler: handlers.NewIngestionHandler(ingestionSvc),
		KnowledgeHandler: handlers.NewKnowledgeHandler(knowledgeSvc),
		ChatHandler:      handlers.NewChatHandler(chatSvc),
		ClientHandler:    handlers.NewClientHandler(clientSvc),
		AdminHandler:     handlers.NewAdminHandler(reconcileSvc, chatSvc),
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

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
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
