// Command anastasis-dbinit creates (and optionally resets) the
// provider's database schema. Exit codes: 0 success, 1 failure, 77
// configuration/plugin load failure.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/anastasis-sarl/anastasis-provider/internal/config"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 77
)

func main() {
	os.Exit(run())
}

func run() int {
	reset := flag.Bool("r", false, "drop all tables before creating them")
	gc := flag.Bool("g", false, "run garbage collection after table creation")
	flag.Parse()

	logger := log.New(log.Writer(), "[anastasis-dbinit] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("loading configuration: %v", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		logger.Printf("invalid configuration: %v", err)
		return exitConfigError
	}

	client, err := storage.NewClient(cfg, storage.WithLogger(logger))
	if err != nil {
		logger.Printf("connecting to database: %v", err)
		return exitConfigError
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *reset {
		if err := client.DropTables(ctx); err != nil {
			logger.Printf("dropping tables: %v", err)
			return exitFailure
		}
		logger.Printf("dropped existing tables")
	}

	if err := client.CreateTables(ctx); err != nil {
		logger.Printf("creating tables: %v", err)
		return exitFailure
	}
	logger.Printf("created tables")

	if *gc {
		repos := storage.NewRepositories(client, cfg.TransientAccountLifetime)
		now := time.Now()
		result, err := repos.GC.GC(ctx, now, now)
		if err != nil {
			logger.Printf("running gc: %v", err)
			return exitFailure
		}
		logger.Printf("gc: accounts=%d truths=%d recdoc_payments=%d challenge_payments=%d challenge_codes=%d",
			result.AccountsExpired, result.TruthsExpired, result.RecdocPaymentsExpired,
			result.ChallengePaymentsExpired, result.ChallengeCodesExpired)
	}

	return exitOK
}
