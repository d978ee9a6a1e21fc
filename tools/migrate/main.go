package main

// Applies the .sql files in a directory in lexical order, once each,
// recording progress in schema_migrations. Each file runs in its own
// transaction so a failing migration leaves earlier ones applied.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

func main() {
	var (
		databaseURL = flag.String("database-url", getenv("DATABASE_URL", ""), "postgres connection string")
		dir         = flag.String("dir", getenv("MIGRATIONS_DIR", "services/booking-service/migrations"), "directory with .sql migrations")
	)
	flag.Parse()

	if strings.TrimSpace(*databaseURL) == "" {
		fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, *databaseURL)
	if err != nil {
		fatal(err.Error())
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    text PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		fatal(err.Error())
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		fatal(err.Error())
	}
	if len(files) == 0 {
		fatal("no .sql files in " + *dir)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		version := filepath.Base(file)
		done, err := alreadyApplied(ctx, conn, version)
		if err != nil {
			fatal(err.Error())
		}
		if done {
			continue
		}
		if err := apply(ctx, conn, file, version); err != nil {
			fatal(fmt.Sprintf("%s: %v", version, err))
		}
		fmt.Printf("applied %s\n", version)
		applied++
	}
	fmt.Printf("up to date, %d applied, %d known\n", applied, len(files))
}

func alreadyApplied(ctx context.Context, conn *pgx.Conn, version string) (bool, error) {
	var exists bool
	err := conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	return exists, err
}

func apply(ctx context.Context, conn *pgx.Conn, file, version string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(raw)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
