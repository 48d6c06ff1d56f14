package db

import (
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"chesshelper/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations. Migrations are embedded in
// the binary, so the worker is self-contained and safe to run from any
// working directory. goose tracks applied versions in goose_db_version, so
// running this on every start is idempotent.
func Migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set migration dialect", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply migrations", err)
	}
	return nil
}
