package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// IsPostgresURL reports whether a database URL selects the Postgres backend.
func IsPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// OpenPostgres connects a pool and applies pending Postgres migrations.
func OpenPostgres(ctx context.Context, url string, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migratePostgres(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return pool, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	all, err := loadMigrations(postgresMigrations, "migrations/postgres")
	if err != nil {
		return err
	}
	applied, err := postgresAppliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range pendingMigrations(all, applied) {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("execute migration %s: %w", m.name, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO _migrations (name) VALUES ($1)", m.name); err != nil {
				return fmt.Errorf("record migration %s: %w", m.name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("applied migration", "name", m.name, "driver", "postgres")
		}
	}
	return nil
}

func postgresAppliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	applied := make(map[string]bool)

	var table *string
	if err := pool.QueryRow(ctx, "SELECT to_regclass('_migrations')::text").Scan(&table); err != nil {
		return nil, fmt.Errorf("failed to check migrations table: %w", err)
	}
	if table == nil {
		return applied, nil
	}

	rows, err := pool.Query(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}
