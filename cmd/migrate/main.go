package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/db"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/migrate"
)

// gooseCommands are passed straight through to goose.
var gooseCommands = map[string]bool{"up": true, "down": true, "status": true}

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.cmd, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&o.dir, "dir", migrate.DefaultDir, "migrations directory (default dir is embedded)")
	flag.StringVar(&o.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&o.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()
	return o
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	// file-only commands run before config so they work without a database env
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			exitf("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		exitf("load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "skewerpos-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer dbClient.Close()

	// terminal-local sqlite files have no goose history; the schema comes from the models
	if dbClient.Dialect() == db.DialectSQLite {
		if opts.cmd != "up" {
			return fmt.Errorf("-cmd=%s is not supported for sqlite, use up", opts.cmd)
		}
		return migrate.AutoMigrateModels(dbClient)
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}

	switch {
	case gooseCommands[opts.cmd]:
		return migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	case opts.cmd == "version":
		if opts.version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
