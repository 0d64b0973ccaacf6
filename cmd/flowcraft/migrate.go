package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/migration"
)

// =============================================================================
// Run History Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runWithMigrator("migrate up", "Migration failed", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		runMigrateDown(subargs)
	case "status":
		runWithMigrator("migrate status", "Failed to get status", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		runWithMigrator("migrate version", "Failed to get version", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		runMigrateGoto(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		runWithMigrator("migrate reset", "Reset failed", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Run History Migration Commands

Manages the schema of the run-history database (history.backend: database).

Usage:
  flowcraft migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database driver: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  flowcraft migrate up
  flowcraft migrate up --config /etc/flowcraft/config.yaml
  flowcraft migrate down
  flowcraft migrate status
  flowcraft migrate goto 1
  flowcraft migrate force 0
  flowcraft migrate reset`)
}

// migrateFlags holds the connection flags shared by every migrate subcommand.
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
}

// register binds the shared flags onto the given FlagSet.
func (mf *migrateFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&mf.configPath, "config", "", "Path to config file")
	fs.StringVar(&mf.dbType, "db-type", "", "Database driver (postgres, mysql, sqlite)")
	fs.StringVar(&mf.dbURL, "db-url", "", "Database connection URL")
}

// migrator builds a migrator from the parsed flags. A direct --db-url wins;
// otherwise the database section of the loaded config is used, with --db-type
// overriding the configured driver.
func (mf *migrateFlags) migrator() (*migration.DefaultMigrator, error) {
	if mf.dbType != "" && mf.dbURL != "" {
		return migration.NewMigratorFromURL(mf.dbType, mf.dbURL)
	}

	loader := config.NewLoader()
	if mf.configPath != "" {
		loader = loader.WithConfigPath(mf.configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if mf.dbType != "" {
		cfg.Database.Driver = mf.dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// runWithMigrator parses the shared flags, builds the migrator, and executes
// the given CLI action against it.
func runWithMigrator(name, failMsg string, args []string, run func(ctx context.Context, cli *migration.CLI) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var mf migrateFlags
	mf.register(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := mf.migrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := run(context.Background(), cli); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", failMsg, err)
		os.Exit(1)
	}
}

// runMigrateDown rolls back the last migration, or every migration with --all.
func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")
	var mf migrateFlags
	mf.register(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := mf.migrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	var runErr error
	if *all {
		runErr = cli.RunDownAll(ctx)
	} else {
		runErr = cli.RunDown(ctx)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", runErr)
		os.Exit(1)
	}
}

// runMigrateGoto migrates to a specific version
func runMigrateGoto(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: flowcraft migrate goto <version>\n")
		os.Exit(1)
	}

	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	runWithMigrator("migrate goto", "Migration failed", args[1:], func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunGoto(ctx, uint(version))
	})
}

// runMigrateForce forces the migration version
func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: flowcraft migrate force <version>\n")
		os.Exit(1)
	}

	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	runWithMigrator("migrate force", "Force failed", args[1:], func(ctx context.Context, cli *migration.CLI) error {
		return cli.RunForce(ctx, int(version))
	})
}
