package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"multikasir/backend/internal/config"
	"multikasir/backend/internal/logger"
	pgstore "multikasir/backend/internal/store/postgres"
)

// migrator is the subset of *postgres.Migrator the commands drive.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
}

var errUsage = errors.New("usage")

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(logger.ConfigFor(cfg.AppEnv, logLevel, "console"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	m, err := pgstore.OpenMigrator(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("failed to open migrator", zap.Error(err))
	}
	runErr := runCommand(m, args, log)
	if err := m.Close(); err != nil {
		log.Warn("close migrator", zap.Error(err))
	}
	if errors.Is(runErr, errUsage) {
		log.Error(runErr.Error())
		printUsage()
		os.Exit(2)
	}
	if runErr != nil {
		log.Fatal("migration command failed", zap.String("command", args[0]), zap.Error(runErr))
	}
}

func runCommand(m migrator, args []string, log *zap.Logger) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		n, err := intArg(args, "step <n>")
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "force":
		version, err := intArg(args, "force <version>")
		if err != nil {
			return err
		}
		return m.Force(version)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("no migrations applied")
			return nil
		}
		log.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func intArg(args []string, usage string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%w: migrate %s", errUsage, usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[1])
	}
	return n, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  migrate [-log-level level] <command> [argument]

Commands:
  up               Apply all pending migrations
  down             Roll back all migrations
  step <n>         Apply n migrations (negative rolls back)
  version          Show the current migration version
  force <version>  Set the version without running anything

Reads DATABASE_URL from the environment or .env.`)
}
