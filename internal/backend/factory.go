package backend

import (
	"context"
	"fmt"

	"bollette/internal/amqp"
	"bollette/internal/gateway"
	"bollette/internal/log"
	"bollette/internal/notify"
	"bollette/internal/postgrest"
	"bollette/internal/redisbus"
	"bollette/internal/storage"
	"bollette/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config, sessions gateway.SessionSource) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case PostgresBackend:
		return f.createPostgresBackend(ctx, config)
	case PostgRESTBackend:
		return f.createPostgRESTBackend(config, sessions)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.OpenSQLite(ctx, config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend: repo,
		Records: repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createPostgresBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.OpenPostgres(ctx, config.DatabaseURL, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized PostgreSQL backend")

	return &BackendResult{
		Backend: repo,
		Records: repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createPostgRESTBackend(config Config, sessions gateway.SessionSource) (*BackendResult, error) {
	client, err := postgrest.New(postgrest.Config{
		BaseURL:    config.PostgRESTURL,
		APIKey:     config.PostgRESTAPIKey,
		SummaryRPC: config.SummaryRPC,
		Timeout:    config.RequestTimeout,
	}, sessions, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgREST client: %w", err)
	}

	f.logger.Info("Initialized PostgREST backend", "url", config.PostgRESTURL)

	return &BackendResult{
		Backend: client,
		Records: client,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data" // Default directory
	}

	store := memory.NewFromFiles(dataDir, memory.Capabilities{})

	f.logger.Info("Initialized memory backend", "data_directory", dataDir)

	return &BackendResult{
		Backend: store,
		Cleanup: nil, // No cleanup needed for memory backend
	}, nil
}

// CreatePush implements Factory.CreatePush
func (f *DefaultFactory) CreatePush(ctx context.Context, config Config) (*PushResult, error) {
	switch config.Push {
	case PushNone, "":
		return &PushResult{}, nil
	case PushMemory:
		hub := notify.NewHub()
		return &PushResult{Bus: hub, Cleanup: hub.Close}, nil
	case PushAMQP:
		client, err := amqp.NewClient(ctx, config.AMQPURL, config.AMQPExchange, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized AMQP push", "exchange", config.AMQPExchange)
		return &PushResult{Bus: client, Cleanup: client.Close}, nil
	case PushRedis:
		bus, err := redisbus.New(ctx, config.RedisURL, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis push: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Redis push")
		return &PushResult{Bus: bus, Cleanup: bus.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported push type: %s", config.Push)
	}
}
