// Command helper-authorization-iban runs the wire-transfer ingestion
// loop for the iban authorization method: it long-polls the
// configured bank account for incoming credit transfers and records
// each one, notifying any challenge suspended waiting for a matching
// wire subject. Exit 0 on a clean end (-t mode finishing, or shutdown
// on SIGINT/SIGTERM), non-zero on a fatal error.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/anastasis-sarl/anastasis-provider/internal/config"
	"github.com/anastasis-sarl/anastasis-provider/internal/ingester"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	testMode := flag.Bool("t", false, "import currently pending transfers, then exit")
	flag.Parse()

	logger := log.New(log.Writer(), "[helper-authorization-iban] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("loading configuration: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Printf("invalid configuration: %v", err)
		return 1
	}
	if err := cfg.ValidateForIBAN(); err != nil {
		logger.Printf("invalid configuration: %v", err)
		return 1
	}

	client, err := storage.NewClient(cfg, storage.WithLogger(logger))
	if err != nil {
		logger.Printf("connecting to database: %v", err)
		return 1
	}
	defer client.Close()

	wire := storage.NewWireRepository(client.DB())
	bank := ingester.NewHTTPBankClient(cfg.BankAPIURL, cfg.BankAuthToken)

	opts := []ingester.Option{}
	if *testMode {
		opts = append(opts, ingester.WithTestMode())
	}
	g := ingester.New(bank, wire, logger, "payto://iban/"+cfg.CreditIBAN, cfg.IngestBatchSize, cfg.LongPollTimeout, cfg.IdleSleepInterval, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !*testMode {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			logger.Printf("shutting down")
			cancel()
		}()
	}

	if err := g.Run(ctx); err != nil {
		if *testMode && ctx.Err() == nil {
			logger.Printf("ingestion failed: %v", err)
			return 1
		}
		if ctx.Err() != nil {
			logger.Printf("stopped: %v", ctx.Err())
			return 0
		}
		logger.Printf("ingestion failed: %v", err)
		return 1
	}
	return 0
}
