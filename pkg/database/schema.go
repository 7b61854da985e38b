package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// Execer is the subset of pgxpool.Pool needed to apply the schema.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Schema returns the DDL for coupons, user_coupons and failed_events.
func Schema() string {
	return schemaSQL
}

// EnsureSchema creates the tables if they do not exist. Safe to run on every start.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
