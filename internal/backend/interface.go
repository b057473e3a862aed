package backend

import (
	"context"
	"time"

	"bollette/internal/attachments"
	"bollette/internal/core"
	"bollette/internal/gateway"
	"bollette/internal/notify"
)

// Categories is the category vocabulary of a backend.
type Categories interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	AddCategory(ctx context.Context, name, userID string) (core.Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

// Backend represents a unified backend interface that provides all necessary operations
type Backend interface {
	gateway.Transport
	Categories
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	// Records is nil for backends without attachment metadata.
	Records attachments.Records
	Cleanup CleanupFunc
}

type PushResult struct {
	Bus     notify.Bus
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a data backend. sessions supplies the bearer
	// token for remote backends.
	CreateBackend(ctx context.Context, config Config, sessions gateway.SessionSource) (*BackendResult, error)
	// CreatePush creates the change notification channel; nil Bus for "none".
	CreatePush(ctx context.Context, config Config) (*PushResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType
	Push PushType

	// SQLite specific
	SQLiteDBPath string

	// PostgreSQL specific
	DatabaseURL string

	// PostgREST specific
	PostgRESTURL    string
	PostgRESTAPIKey string
	SummaryRPC      string
	RequestTimeout  time.Duration

	// Push specific
	AMQPURL      string
	AMQPExchange string
	RedisURL     string

	// Memory backend specific
	DataDirectory string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	SQLiteBackend    BackendType = "sqlite"
	PostgresBackend  BackendType = "postgres"
	PostgRESTBackend BackendType = "postgrest"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend, PostgRESTBackend:
		return true
	default:
		return false
	}
}

type PushType string

const (
	PushNone   PushType = "none"
	PushMemory PushType = "memory"
	PushAMQP   PushType = "amqp"
	PushRedis  PushType = "redis"
)

func (pt PushType) IsValid() bool {
	switch pt {
	case PushNone, PushMemory, PushAMQP, PushRedis:
		return true
	default:
		return false
	}
}
