package postgres

import (
	"context"
	"database/sql"
)

// DBTX is the database handle contract shared by the repositories. Both
// *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}
