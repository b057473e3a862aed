package backend

import (
	"fmt"

	"bollette/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}
	pushType := PushType(appConfig.PushBackend)
	if !pushType.IsValid() {
		return Config{}, fmt.Errorf("invalid push type in config: %s", appConfig.PushBackend)
	}

	return Config{
		Type: backendType,
		Push: pushType,

		SQLiteDBPath: appConfig.SQLiteDBPath,
		DatabaseURL:  appConfig.DatabaseURL,

		PostgRESTURL:    appConfig.PostgRESTURL,
		PostgRESTAPIKey: appConfig.PostgRESTAPIKey,
		SummaryRPC:      appConfig.SummaryRPC,
		RequestTimeout:  appConfig.RequestTimeout,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		RedisURL:     appConfig.RedisURL,

		// Memory backend uses default data directory
		DataDirectory: "data",
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Push != "" && !c.Push.IsValid() {
		return fmt.Errorf("invalid push type: %s", c.Push)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres backend")
		}
	case PostgRESTBackend:
		if c.PostgRESTURL == "" {
			return fmt.Errorf("PostgREST URL is required for postgrest backend")
		}
	case MemoryBackend:
		// DataDirectory will default to "data" if empty
	}

	switch c.Push {
	case PushAMQP:
		if c.AMQPURL == "" || c.AMQPExchange == "" {
			return fmt.Errorf("AMQP URL and exchange are required for amqp push")
		}
	case PushRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for redis push")
		}
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend, PostgRESTBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
