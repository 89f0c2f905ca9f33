package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir = "pkg/migrate/migrations"

	DialectPostgres = "postgres"

	embeddedDir = "migrations"
)

// Embedded carries the SQL files inside the binary, so a deployed API can
// migrate without the source tree next to it.
//
//go:embed migrations/*.sql
var Embedded embed.FS

// source picks the embedded files for the default dir and the local
// filesystem for anything else (e.g. a scratch dir during development).
func source(dir string) (fs.FS, string) {
	if dir == "" || filepath.Clean(dir) == DefaultDir {
		return Embedded, embeddedDir
	}
	return nil, dir
}

func prepare(dir string) (string, error) {
	fsys, resolved := source(dir)
	goose.SetBaseFS(fsys)
	// SQL files use postgres types; sqlite terminals go through AutoMigrateModels.
	if err := goose.SetDialect(DialectPostgres); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	return resolved, nil
}

// Run executes a goose command (up, down, status, ...) against db.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	resolved, err := prepare(dir)
	if err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, resolved, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion walks up or down until the schema sits at targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	resolved, err := prepare(dir)
	if err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, db, resolved, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, resolved, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}
