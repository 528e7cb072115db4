package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/amirphl/portfolio-sync/internal/utils"
	"github.com/lib/pq"
)

// Migrate creates the database named in connStr if it doesn't exist and
// applies the schema script at schemaPath. connStr must be a postgres:// URL.
func Migrate(ctx context.Context, connStr, schemaPath string) error {
	log := utils.GetLogger().Named("migrate")
	log.Info("Running database migrations...")

	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	admin := *u
	admin.Path = "/postgres"
	baseDB, err := sql.Open("postgres", admin.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		log.Infow("Creating database", "name", dbName)
		if _, err = baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	schemaSQL, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", schemaPath, err)
	}

	if _, err = db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute %s: %w", schemaPath, err)
	}

	log.Info("Database migrations completed successfully")
	return nil
}
