package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ragpdf/internal/ai"
	"ragpdf/internal/config"
	"ragpdf/internal/document"
	"ragpdf/internal/flow"
	mysqlClient "ragpdf/internal/platform/mysql"
	rabbitmqClient "ragpdf/internal/platform/rabbitmq"
	redisClient "ragpdf/internal/platform/redis"
	"ragpdf/internal/rag"
	"ragpdf/internal/vectorstore"
)

type App struct {
	Config   *config.Config
	MySQL    *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Qdrant   vectorstore.Store
	Engine   *flow.Engine
	Consumer *flow.Consumer

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), &flow.Event{}, &flow.Run{}, &flow.RunStep{})
	if err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.RunQueue)
	if err != nil {
		return nil, err
	}

	qdrant := vectorstore.NewQdrant(
		cfg.Qdrant.Endpoint,
		cfg.Qdrant.Collection,
		time.Duration(cfg.Qdrant.TimeoutSeconds)*time.Second,
	)

	llmClient := ai.NewClient()
	embedder := ai.NewEmbedder(llmClient, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})
	chat := ai.NewChat(llmClient, ai.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	publisher := flow.NewRunPublisher(mqConn, cfg.RabbitMQ.RunQueue)
	engine := flow.NewEngine(flow.EngineConfig{
		AppID:     cfg.App.Name,
		Events:    flow.NewGormEventStore(mysqlDB),
		Runs:      flow.NewGormRunStore(mysqlDB),
		Steps:     flow.NewGormStepStore(mysqlDB),
		Limiter:   flow.NewRedisLimiter(redisCli),
		Publisher: publisher,
	})

	deps := &rag.Deps{
		Loader:         document.NewLoader(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		Embedder:       embedder,
		Chat:           chat,
		Store:          qdrant,
		EmbedBatchSize: cfg.Ingest.EmbedBatchSize,
		DefaultTopK:    cfg.Ingest.DefaultTopK,
	}
	if err := engine.Register(rag.IngestFunction(deps)); err != nil {
		return nil, fmt.Errorf("register ingest function failed: %w", err)
	}
	if err := engine.Register(rag.QueryFunction(deps)); err != nil {
		return nil, fmt.Errorf("register query function failed: %w", err)
	}

	consumer := flow.NewConsumer(mqConn, engine, publisher, cfg.RabbitMQ.RunQueue)
	if err := consumer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start run consumer failed: %w", err)
	}

	return &App{
		Config:    cfg,
		MySQL:     mysqlDB,
		Redis:     redisCli,
		MQConn:    mqConn,
		Qdrant:    qdrant,
		Engine:    engine,
		Consumer:  consumer,
		StartedAt: time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Consumer != nil {
		a.Consumer.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
