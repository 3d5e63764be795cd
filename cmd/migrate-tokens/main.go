// Package main provides a CLI tool to migrate stored OAuth scope tokens from
// plaintext to encrypted storage.
//
// It encrypts all rows where encryption_version=0 (plaintext) to version=1
// (AES-256-GCM). ENCRYPTION_KEY must be set.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--scope SCOPE]
//
// Flags:
//
//	--dry-run: Show what would be migrated without making changes
//	--scope:   Migrate tokens for one scope only (default: all scopes)
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dotalayer/companion/crypto"
)

type tokenRow struct {
	UserID       int64
	Scope        string
	AccessToken  string
	RefreshToken string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	scope := flag.String("scope", "", "Migrate tokens for one scope only (default: all scopes)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}

	encryptor, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("err", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("err", err))
		os.Exit(1)
	}

	if err := migrateTokens(ctx, database, encryptor, *dryRun, *scope); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

// migrateTokens encrypts all plaintext rows (encryption_version=0).
func migrateTokens(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, dryRun bool, scopeFilter string) error {
	query := `SELECT user_id, scope, COALESCE(access_token, ''), COALESCE(refresh_token, '')
		FROM oauth_scope_tokens
		WHERE COALESCE(encryption_version, 0) = 0`
	args := []any{}
	if scopeFilter != "" {
		query += " AND scope = $1"
		args = append(args, scopeFilter)
	}
	query += " ORDER BY user_id, scope"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query plaintext tokens: %w", err)
	}
	defer rows.Close()

	var tokens []tokenRow
	for rows.Next() {
		var t tokenRow
		if err := rows.Scan(&t.UserID, &t.Scope, &t.AccessToken, &t.RefreshToken); err != nil {
			return fmt.Errorf("failed to scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating token rows: %w", err)
	}

	if len(tokens) == 0 {
		slog.Info("no plaintext tokens found to migrate")
		return nil
	}
	slog.Info("found plaintext tokens to migrate", slog.Int("count", len(tokens)), slog.Bool("dry_run", dryRun))

	migrated, failed := 0, 0
	for i, t := range tokens {
		logger := slog.With(
			slog.Int64("user", t.UserID),
			slog.String("scope", t.Scope),
			slog.Int("index", i+1),
			slog.Int("total", len(tokens)))

		if dryRun {
			logger.Info("would migrate token (dry-run)")
			migrated++
			continue
		}
		if err := migrateToken(ctx, database, encryptor, t); err != nil {
			logger.Error("failed to migrate token", slog.Any("err", err))
			failed++
			continue
		}
		logger.Info("migrated token")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(tokens)),
		slog.Int("migrated", migrated),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))

	if failed > 0 {
		return fmt.Errorf("migration completed with %d errors", failed)
	}
	return nil
}

// migrateToken encrypts one row and updates it atomically. The version guard in
// the WHERE clause makes reruns and concurrent writers safe.
func migrateToken(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, t tokenRow) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is best effort

	var access, refresh string
	if t.AccessToken != "" {
		if access, err = crypto.EncryptString(encryptor, t.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
	}
	if t.RefreshToken != "" {
		if refresh, err = crypto.EncryptString(encryptor, t.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE oauth_scope_tokens
		SET access_token = $1, refresh_token = $2, encryption_version = 1, updated_at = NOW()
		WHERE user_id = $3 AND scope = $4 AND COALESCE(encryption_version, 0) = 0`,
		access, refresh, t.UserID, t.Scope)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (row may have been modified concurrently)", affected)
	}
	return tx.Commit()
}
