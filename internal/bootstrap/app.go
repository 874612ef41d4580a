package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"docchat/internal/agent"
	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/chatctx"
	"docchat/internal/config"
	"docchat/internal/ingest"
	postgresClient "docchat/internal/platform/postgres"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/platform/storage"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
	"docchat/internal/worker"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Postgres *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection

	AuthService     *app.AuthService
	DocumentService *app.DocumentService
	ChatService     *app.ChatService

	Pipeline *ingest.Pipeline
	Sweeper  *ingest.Sweeper
	Workers  *worker.IngestWorker

	StartedAt time.Time
}

// New connects to every backing service, migrates the schema and wires the
// services. Consumers are not started; see StartWorkers.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := NewLogger(cfg.App)
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}

	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Migrate applies the schema without starting anything else.
func Migrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	db, err := postgresClient.New(ctx, cfg.PostgresDSN(), gormLogLevel(cfg.App.GinMode))
	if err != nil {
		return err
	}
	defer closeDB(db)
	return postgresClient.Migrate(ctx, db)
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	db, err := postgresClient.New(ctx, cfg.PostgresDSN(), gormLogLevel(cfg.App.GinMode))
	if err != nil {
		return err
	}
	a.Postgres = db
	if err := postgresClient.Migrate(ctx, db); err != nil {
		return err
	}

	redisCli, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		return err
	}
	a.MQConn = mqConn
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	objects, err := storage.New(ctx, storage.Options{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		PresignTTL:      time.Duration(cfg.Storage.PresignTTLSecond) * time.Second,
	})
	if err != nil {
		return err
	}
	if cfg.Storage.Bucket == "" {
		a.Logger.Warn("storage bucket is not configured, uploads are disabled")
	}

	llmClient, err := ai.NewClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    float32(cfg.LLM.Temperature),
		Timeout:        time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init llm client failed: %w", err)
	}

	counter, err := chatctx.NewTiktokenCounter(cfg.LLM.TokenizerModel)
	if err != nil {
		return err
	}

	users := repository.NewUserRepository(a.Postgres)
	documents := repository.NewDocumentRepository(a.Postgres)
	chunks := repository.NewChunkRepository(a.Postgres)
	chats := repository.NewChatRepository(a.Postgres)

	jobs := rabbitmqClient.NewJobPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
	history := cache.NewHistoryCache(
		a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	retriever := retrieval.NewRetriever(chunks, llmClient, a.Logger.With("component", "retrieval"))
	orchestrator := agent.NewOrchestrator(llmClient, agent.Options{
		MaxToolCalls: cfg.LLM.MaxToolCalls,
		Temperature:  float32(cfg.LLM.Temperature),
	}, a.Logger)

	a.AuthService = app.NewAuthService(users, objects, cfg.Auth.JWTSecret, cfg.JWTExpiration(), a.Logger)
	a.DocumentService = app.NewDocumentService(documents, chunks, objects, jobs, int64(cfg.Storage.MaxUploadBytes), a.Logger)
	a.ChatService = app.NewChatService(
		chats,
		users,
		history,
		orchestrator,
		llmClient,
		app.ToolDeps{Searcher: retriever, Library: documents, Chunks: chunks},
		counter,
		app.ChatOptions{
			MaxToolCalls:     cfg.LLM.MaxToolCalls,
			MaxContextTokens: cfg.LLM.MaxContextTokens,
			Temperature:      float32(cfg.LLM.Temperature),
			LibraryFallback:  cfg.LLM.LibraryFallback,
		},
		a.Logger,
	)

	a.Pipeline = ingest.NewPipeline(
		documents,
		objects,
		ingest.NewRecursiveSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		llmClient,
		llmClient,
		ingest.Options{
			EmbedBatchSize:  cfg.Ingest.EmbedBatchSize,
			SummaryChunks:   cfg.Ingest.SummaryChunks,
			SummaryMaxChars: cfg.Ingest.SummaryMaxChars,
		},
		a.Logger,
	)
	a.Sweeper = ingest.NewSweeper(
		documents,
		jobs,
		cache.NewRedisLocker(a.Redis, lockOwner()),
		ingest.SweeperOptions{
			Interval:   cfg.SweepInterval(),
			StaleAfter: cfg.StaleAfter(),
			BatchSize:  cfg.Sweeper.BatchSize,
		},
		a.Logger,
	)
	a.Workers = worker.NewIngestWorker(a.MQConn, a.Pipeline, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.WorkerCount, a.Logger)
	return nil
}

// StartWorkers starts the ingestion consumers and, when enabled, the
// staleness sweeper. Both stop when ctx is cancelled.
func (a *App) StartWorkers(ctx context.Context) error {
	if err := a.Workers.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	if a.Config.Sweeper.Enabled {
		go a.Sweeper.Run(ctx)
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Workers != nil {
		a.Workers.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Postgres != nil {
		if err := closeDB(a.Postgres); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogLevel(ginMode string) gormlogger.LogLevel {
	if ginMode == "debug" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func lockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
