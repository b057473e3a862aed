// Package storage implements the bill collection over database/sql. The same
// repository serves SQLite (modernc.org/sqlite) and PostgreSQL (pgx); the
// differences live in Dialect.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"bollette/internal/log"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// billColumns selects a bill with dates rendered as text in both dialects.
func (d Dialect) billColumns() string {
	if d == Postgres {
		return `id, category, billing_month, billing_year, to_char(payment_date, 'YYYY-MM-DD'), amount_cents, note, ` +
			`to_char(inserted_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`
	}
	return "id, category, billing_month, billing_year, payment_date, amount_cents, note, inserted_at"
}

type Repository struct {
	db      *sql.DB
	dialect Dialect
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
}

// SQLiteDSN turns a file path into a modernc DSN with foreign keys enabled.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// OpenSQLite creates the database directory, opens the file and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *log.Logger) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return open(ctx, SQLite, SQLiteDSN(path), logger)
}

// OpenPostgres connects with pgx and migrates the schema.
func OpenPostgres(ctx context.Context, databaseURL string, logger *log.Logger) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("open postgres: empty database url")
	}
	return open(ctx, Postgres, databaseURL, logger)
}

func open(ctx context.Context, dialect Dialect, dsn string, logger *log.Logger) (*Repository, error) {
	if logger == nil {
		logger = log.Discard()
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == Postgres {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	} else {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, err
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.InfoContext(ctx, "Database ready", log.FieldBackend, string(dialect))

	return &Repository{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

func (r *Repository) Dialect() Dialect {
	return r.dialect
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
