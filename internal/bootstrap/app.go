package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inkwell/internal/ai"
	"inkwell/internal/app"
	"inkwell/internal/assembler"
	"inkwell/internal/cache"
	"inkwell/internal/chatmemory"
	"inkwell/internal/chunker"
	"inkwell/internal/config"
	"inkwell/internal/embedding"
	"inkwell/internal/ingest"
	"inkwell/internal/livedoc"
	"inkwell/internal/logging"
	"inkwell/internal/model"
	"inkwell/internal/pdfsource"
	"inkwell/internal/pkg/pdfextract"
	mysqlClient "inkwell/internal/platform/mysql"
	postgresClient "inkwell/internal/platform/postgres"
	rabbitmqClient "inkwell/internal/platform/rabbitmq"
	redisClient "inkwell/internal/platform/redis"
	"inkwell/internal/repository"
	"inkwell/internal/retrieval"
	"inkwell/internal/rules"
	"inkwell/internal/source"
	"inkwell/internal/transport/http/handler"
	"inkwell/internal/vectorstore"
	"inkwell/internal/vectorstore/gormvec"
	"inkwell/internal/vectorstore/memory"
	"inkwell/internal/vectorstore/pgvector"
	"inkwell/internal/worker"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	MySQL    *gorm.DB
	Redis    *redis.Client
	Postgres *pgxpool.Pool
	MQConn   *amqp.Connection
	Index    vectorstore.Store

	Memory       *chatmemory.Manager
	Documents    *ingest.Service
	IngestWorker *worker.IngestWorker
	Context      *app.ContextService
	Workspace    *app.WorkspaceService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), a.Logger)
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB

	tables := []any{&model.Document{}, &model.DocumentBlob{}, &model.ChatMessage{}, &model.ChatSummary{}, &model.Rules{}}
	if cfg.Vector.Backend == "mysql" {
		tables = append(tables, &model.Chunk{})
	}
	if err := mysqlDB.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
	}

	if a.Index, err = a.openIndex(ctx); err != nil {
		return err
	}

	embedProvider, completer, err := newProviders(cfg, a.Logger)
	if err != nil {
		return err
	}
	gateway := embedding.NewGateway(embedProvider, embedding.Config{
		Dimension:      cfg.Embedding.Dimension,
		BatchSize:      cfg.Embedding.BatchSize,
		CallTimeout:    seconds(cfg.Embedding.TimeoutSeconds),
		MaxAttempts:    cfg.Embedding.MaxAttempts,
		InitialBackoff: millis(cfg.Embedding.InitialBackoffMS),
		MaxBackoff:     millis(cfg.Embedding.MaxBackoffMS),
		RatePerSecond:  cfg.Embedding.RatePerSecond,
		Burst:          cfg.Embedding.Burst,
	}, embedding.WithLogger(a.Logger.Named("embedding")))

	retrievalCfg := retrieval.Config{TopK: cfg.Retrieval.TopK, MinSimilarity: cfg.Retrieval.MinSimilarity}
	retriever := retrieval.NewRetriever(a.Index, retrievalCfg)
	textChunker := chunker.New(chunker.WithSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap))

	rulesProvider := rules.NewProvider(repository.NewRulesRepository(mysqlDB), a.Logger.Named("rules"))
	liveDocs := livedoc.NewCache(textChunker, gateway, a.Index, cfg.Retrieval.LiveDocMaxChunks, a.Logger.Named("livedoc"))

	memoryDeps := chatmemory.Deps{
		Messages:  repository.NewChatMessageRepository(mysqlDB),
		Summaries: repository.NewChatSummaryRepository(mysqlDB),
		Embedder:  gateway,
		Index:     a.Index,
		Retriever: retriever,
		Logger:    a.Logger.Named("chatmemory"),
	}
	if completer != nil {
		memoryDeps.Summarizer = chatmemory.NewLLMSummarizer(completer)
	}
	if a.Redis != nil {
		memoryDeps.Window = cache.NewWindowCache(a.Redis, seconds(cfg.Memory.WindowTTLSeconds))
		memoryDeps.Locker = cache.NewLocker(a.Redis, cfg.App.Name+":lock:")
	} else {
		memoryDeps.Window = chatmemory.NewMemoryWindow()
		memoryDeps.Locker = chatmemory.NewLocalLocker()
	}
	a.Memory = chatmemory.NewManager(memoryDeps, chatmemory.Config{
		WindowSize:           cfg.Memory.WindowSize,
		SummaryThreshold:     cfg.Memory.SummaryThreshold,
		RetainRecent:         cfg.Memory.RetainRecent,
		SummaryMinSimilarity: cfg.Memory.SummaryMinSimilarity,
		SummaryTimeout:       seconds(cfg.Memory.SummaryTimeoutSeconds),
		AppendWaitTimeout:    millis(cfg.Memory.AppendWaitMS),
	})

	documents := repository.NewDocumentRepository(mysqlDB)
	ingestDeps := ingest.Deps{
		Documents: documents,
		Blobs:     repository.NewDocumentBlobRepository(mysqlDB),
		Index:     a.Index,
		Chunker:   textChunker,
		Embedder:  gateway,
		Parser:    pdfextract.Pages,
		Logger:    a.Logger.Named("ingest"),
	}
	if cfg.RabbitMQ.Enabled {
		if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL); err != nil {
			return err
		}
		ingestDeps.Publisher = ingest.NewQueuePublisher(rabbitmqClient.NewPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue))
	}
	a.Documents = ingest.NewService(ingestDeps, ingest.Config{
		MaxBytes:       cfg.Ingest.MaxUploadMB << 20,
		ProcessTimeout: seconds(cfg.Ingest.ProcessTimeoutSeconds),
	})
	if a.MQConn != nil {
		a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Documents, cfg.RabbitMQ.IngestQueue, a.Logger.Named("worker"))
		if err := a.IngestWorker.Start(ctx); err != nil {
			return fmt.Errorf("start ingest worker failed: %w", err)
		}
	}

	sources := []source.ContextSource{
		rules.NewSource(rulesProvider),
		chatmemory.NewSource(a.Memory),
		livedoc.NewSource(retriever, livedoc.SourceConfig{TopK: cfg.Retrieval.TopK, MinSimilarity: cfg.Retrieval.MinSimilarity}),
		pdfsource.NewSource(documents, retriever, pdfsource.Config{
			TopK:          cfg.Retrieval.TopK,
			MinSimilarity: cfg.Retrieval.PDFMinSimilarity,
		}, a.Logger.Named("pdfsource")),
	}

	a.Context = app.NewContextService(app.ContextDeps{
		Embedder: gateway,
		Sources:  sources,
		Assembler: assembler.New(assembler.Config{
			MaxChars:     cfg.Assembler.MaxChars,
			MaxTokens:    cfg.Assembler.MaxTokens,
			Policy:       assembler.Policy(cfg.Assembler.Policy),
			MinKeepRatio: cfg.Assembler.MinKeepRatio,
		}),
		Completer: completer,
		Memory:    a.Memory,
		Logger:    a.Logger.Named("context"),
	}, app.ContextConfig{
		EmbedTimeout:      millis(cfg.Retrieval.EmbedTimeoutMS),
		SourceTimeout:     millis(cfg.Retrieval.SourceTimeoutMS),
		CompletionTimeout: seconds(cfg.LLM.TimeoutSeconds),
	})
	a.Workspace = app.NewWorkspaceService(liveDocs, rulesProvider, a.Memory, a.Documents)

	a.Logger.Info("inkwell initialized",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("rabbitmq", a.MQConn != nil),
	)
	return nil
}

func (a *App) openIndex(ctx context.Context) (vectorstore.Store, error) {
	cfg := a.Config
	switch cfg.Vector.Backend {
	case "memory":
		return memory.New(cfg.Embedding.Dimension), nil
	case "pgvector":
		pool, err := postgresClient.New(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		a.Postgres = pool
		store, err := pgvector.New(pool, pgvector.Config{Table: cfg.Vector.Table, Dimension: cfg.Embedding.Dimension})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return gormvec.New(a.MySQL, cfg.Embedding.Dimension), nil
	}
}

// newProviders returns the embedding provider and the chat completer; the completer is nil
// when llm.provider is none.
func newProviders(cfg *config.Config, logger *zap.Logger) (embedding.Provider, ai.Completer, error) {
	client := ai.NewOpenAICompatibleClient()

	var ollama *ai.OllamaProvider
	needOllama := cfg.Embedding.Provider == "ollama" || cfg.LLM.Provider == "ollama"
	if needOllama {
		baseURL := cfg.LLM.BaseURL
		if cfg.Embedding.Provider == "ollama" {
			baseURL = cfg.Embedding.BaseURL
		}
		var err error
		ollama, err = ai.NewOllamaProvider(ai.OllamaConfig{
			BaseURL:        baseURL,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.Embedding.Model,
			Temperature:    cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "ollama":
		embedder = ollama
	case "hashing":
		logger.Warn("using the offline hashing embedder; similarity is lexical only")
		embedder = ai.NewHashingEmbedder(cfg.Embedding.Dimension)
	default:
		embedder = ai.NewOpenAIEmbedder(client, ai.EmbeddingConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimension,
		})
	}

	var completer ai.Completer
	switch cfg.LLM.Provider {
	case "ollama":
		completer = ollama
	case "openai":
		completer = ai.NewOpenAICompleter(client, ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
	}
	return embedder, completer, nil
}

// HealthChecks lists the dependencies the /healthz endpoint probes.
func (a *App) HealthChecks() []handler.HealthCheck {
	checks := []handler.HealthCheck{{
		Name: "mysql",
		Check: func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	checks = append(checks, handler.HealthCheck{Name: "vector_store", Check: a.Index.Ping})

	redisCheck := handler.HealthCheck{Name: "redis"}
	if a.Redis != nil {
		redisCheck.Check = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	pgCheck := handler.HealthCheck{Name: "postgres"}
	if a.Postgres != nil {
		pgCheck.Check = a.Postgres.Ping
	}
	mqCheck := handler.HealthCheck{Name: "rabbitmq"}
	if a.MQConn != nil {
		mqCheck.Check = func(ctx context.Context) error { return rabbitmqClient.Ping(ctx, a.MQConn) }
	}
	return append(checks, redisCheck, pgCheck, mqCheck)
}

func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Documents != nil {
		a.Documents.Close()
	}
	if a.Memory != nil {
		a.Memory.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
