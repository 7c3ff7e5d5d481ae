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

	"cloutopia/internal/ai"
	"cloutopia/internal/app"
	"cloutopia/internal/cache"
	"cloutopia/internal/config"
	"cloutopia/internal/imageprep"
	mysqlClient "cloutopia/internal/platform/mysql"
	rabbitmqClient "cloutopia/internal/platform/rabbitmq"
	redisClient "cloutopia/internal/platform/redis"
	"cloutopia/internal/relay"
	"cloutopia/internal/repository"
	"cloutopia/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Generator ai.Generator
	Relay     *relay.Relay

	ChatService  *app.ChatService
	ImageService *app.ImageService
	BlogService  *app.BlogService

	RecordPublisher *rabbitmqClient.RecordPublisher
	RecordWorker    *worker.RecordPersistWorker

	StartedAt time.Time
}

func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.App.Name)
}

// New wires the application from cfg. MySQL, Redis and RabbitMQ are each
// optional; the chat endpoints work with none of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}

	generator, err := ai.NewGenerator(ai.Config{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLMTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("create generator failed: %w", err)
	}
	a.Generator = generator
	// A missing key is reported per request, so startup carries on.
	if err := generator.Initialize(ctx); err != nil {
		logger.Warn("generator not ready", "provider", cfg.LLM.Provider, "error", err)
	}

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	preparer := imageprep.NewPreparer(imageprep.Options{
		MaxEdge:        cfg.Image.MaxEdge,
		MaxConcurrency: cfg.Image.MaxConcurrency,
	})
	a.Relay = relay.New(generator, preparer, relay.Options{
		Pacing: cfg.StreamPacing(),
		Logger: logger.With("component", "relay"),
	})

	var (
		deps       app.ChatDeps
		users      app.UserStore
		imageStore app.ImageStore
		blogStore  app.BlogStore
	)
	var history *cache.HistoryCache
	if a.Redis != nil {
		history = cache.NewHistoryCache(a.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
		deps.History = history
	}
	if a.MySQL != nil {
		users = repository.NewUserRepository(a.MySQL)
		imageStore = repository.NewImageRepository(a.MySQL)
		blogStore = repository.NewBlogRepository(a.MySQL)
		deps.Users = users
		deps.Sessions = repository.NewChatSessionRepository(a.MySQL)
		deps.Messages = repository.NewChatMessageRepository(a.MySQL)
	}
	if a.MQConn != nil && a.MySQL != nil {
		a.RecordPublisher = rabbitmqClient.NewRecordPublisher(a.MQConn, cfg.RabbitMQ.MessagePersistQueue)
		deps.Publisher = a.RecordPublisher

		var settler worker.HistorySettler
		if history != nil {
			settler = history
		}
		a.RecordWorker = worker.NewRecordPersistWorker(
			a.MQConn,
			repository.NewChatMessageRepository(a.MySQL),
			settler,
			cfg.RabbitMQ.MessagePersistQueue,
			logger,
		)
		if err := a.RecordWorker.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("start record worker failed: %w", err)
		}
	} else if a.MQConn != nil {
		logger.Warn("rabbitmq enabled without mysql; chat records are not persisted")
	}

	a.ChatService = app.NewChatService(a.Relay, generator, deps, logger)
	a.ImageService = app.NewImageService(imageStore, users, cfg.Upload.Dir, cfg.Upload.MaxSizeBytes, logger)
	a.BlogService = app.NewBlogService(blogStore, logger)
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.IsDevelopment())
		if err != nil {
			return err
		}
		a.MySQL = db
		a.Logger.Info("mysql connected", "host", cfg.MySQL.Host, "db", cfg.MySQL.DB)
	}
	if cfg.Redis.Enabled {
		cli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.Redis = cli
		a.Logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.MQConn = conn
		a.Logger.Info("rabbitmq connected")
	}
	return nil
}

// Close releases everything New acquired. The worker stops before the
// connection it consumes from.
func (a *App) Close() error {
	var errs []error
	if a.RecordWorker != nil {
		a.RecordWorker.Close()
	}
	if a.RecordPublisher != nil {
		if err := a.RecordPublisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
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
	return errors.Join(errs...)
}
