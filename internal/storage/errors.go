package storage

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"bollette/internal/core"
)

// wrapErr maps driver failures onto the core taxonomy. Anything it does not
// recognise is returned unchanged.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isNoRows(err):
		return core.ErrNotFound
	case errors.Is(err, driver.ErrBadConn), pgconn.Timeout(err):
		return &core.TransientError{Op: "database", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &core.TransientError{Op: "database", Err: err}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return &core.TransientError{Op: "database", Err: err}
	}
	return err
}
