package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/config"
	"github.com/susubank/ledger/internal/database"
	"github.com/susubank/ledger/internal/logger"
)

const usage = `Usage: migrate [-env FILE] <command>

Commands:
  up         apply all pending migrations
  down       roll back all migrations
  steps N    apply N migrations (negative N rolls back)
  version    print the current schema version
`

func main() {
	envFile := flag.String("env", ".env", "path to the .env file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	defer log.Sync()

	db, err := database.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	m, err := database.NewMigrator(db, log)
	if err != nil {
		log.Fatal("Failed to prepare migrations", zap.Error(err))
	}
	defer m.Close()

	if err := run(m, flag.Args()); err != nil {
		log.Error("Migration failed", zap.Error(err))
		m.Close()
		os.Exit(1)
	}
}

func run(m *database.Migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps":
		if len(args) < 2 {
			return fmt.Errorf("steps requires a count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n == 0 {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		return m.Steps(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
