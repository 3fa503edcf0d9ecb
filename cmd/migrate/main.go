// Command migrate applies the SQL files under migrations/ in lexical order,
// tracking applied files in a schema_migrations table.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forgemarket/api/internal/platform/config"
	"github.com/forgemarket/api/internal/platform/observability"
)

const migrationsDir = "migrations"

func main() {
	ctx := context.Background()

	logger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logger = logger.Named("migrate")

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(connectCtx, cfg.Database.DSN)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		logger.Fatal("failed to ensure schema_migrations table", zap.Error(err))
	}

	files, err := listSQLFiles(migrationsDir)
	if err != nil {
		logger.Fatal("failed to list migrations", zap.Error(err))
	}

	for _, file := range files {
		fileLogger := logger.With(zap.String("file", file))

		var applied bool
		row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, file)
		if err := row.Scan(&applied); err != nil {
			fileLogger.Fatal("failed to check migration state", zap.Error(err))
		}
		if applied {
			continue
		}

		data, err := os.ReadFile(file)
		if err != nil {
			fileLogger.Fatal("failed to read migration", zap.Error(err))
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			fileLogger.Fatal("failed to apply migration", zap.Error(err))
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			fileLogger.Fatal("failed to record migration", zap.Error(err))
		}
		fileLogger.Info("applied migration")
	}
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
