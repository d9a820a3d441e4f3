// Command anastasis-httpd is the provider's HTTP service: it serves
// the truth/policy routes (including iban challenges, whose wire
// transfers are ingested by helper-authorization-iban) and
// periodically garbage-collects expired accounts, truths and payment
// records.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anastasis-sarl/anastasis-provider/internal/amount"
	"github.com/anastasis-sarl/anastasis-provider/internal/authorization"
	"github.com/anastasis-sarl/anastasis-provider/internal/catalog"
	"github.com/anastasis-sarl/anastasis-provider/internal/config"
	"github.com/anastasis-sarl/anastasis-provider/internal/gate"
	"github.com/anastasis-sarl/anastasis-provider/internal/httpapi"
	"github.com/anastasis-sarl/anastasis-provider/internal/metrics"
	"github.com/anastasis-sarl/anastasis-provider/internal/storage"
)

func main() {
	configOnly := flag.Bool("c", false, "validate configuration and exit")
	flag.Parse()

	logger := log.New(log.Writer(), "[anastasis-httpd] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if *configOnly {
		logger.Printf("configuration OK")
		return
	}

	client, err := storage.NewClient(cfg, storage.WithLogger(logger))
	if err != nil {
		logger.Fatalf("connecting to database: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := client.CreateTables(ctx); err != nil {
		cancel()
		logger.Fatalf("applying migrations: %v", err)
	}
	cancel()

	repos := storage.NewRepositories(client, cfg.TransientAccountLifetime)

	m := metrics.New()
	storage.SetRetryObserver(m.RetryObserver())

	registry, err := buildRegistry(cfg, repos, client.Events(), logger)
	if err != nil {
		logger.Fatalf("building authorization registry: %v", err)
	}

	g := gate.New(repos.RecdocPayments, repos.ChallengePayments, repos.Accounts)

	recdocCost, err := amount.Parse(cfg.RecdocUploadCost)
	if err != nil {
		logger.Fatalf("parsing ANASTASIS_RECDOC_COST: %v", err)
	}

	handlers := httpapi.NewHandlers(repos, registry, g, logger, recdocCost, uint32(cfg.DefaultPostCounter), cfg.PaidAccountLifetime).
		WithMetrics(m)

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, err := client.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil || !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	runCtx, runCancel := context.WithCancel(context.Background())

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.GCInterval), func() {
		runGC(runCtx, repos.GC, m, logger)
	}); err != nil {
		logger.Fatalf("scheduling gc: %v", err)
	}
	c.Start()

	go func() {
		if err := m.Serve(runCtx, cfg.MetricsAddr, logger); err != nil {
			logger.Printf("metrics server: %v", err)
		}
	}()

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	runCancel()
	c.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown: %v", err)
	}
	logger.Printf("stopped")
}

func runGC(ctx context.Context, gc *storage.GCRepository, m *metrics.Metrics, logger *log.Logger) {
	start := time.Now()
	now := time.Now()
	result, err := gc.GC(ctx, now, now)
	if err != nil {
		logger.Printf("gc sweep failed: %v", err)
		return
	}
	m.ObserveGCResult(result, time.Since(start))
	logger.Printf("gc: accounts=%d truths=%d recdoc_payments=%d challenge_payments=%d challenge_codes=%d",
		result.AccountsExpired, result.TruthsExpired, result.RecdocPaymentsExpired,
		result.ChallengePaymentsExpired, result.ChallengeCodesExpired)
}

// buildRegistry wires one plugin per configured authorization method.
// A method whose required configuration (a helper command, a credit
// IBAN) is missing is simply left out of the registry; truths stored
// under that method_name fail lookup at challenge time rather than at
// startup, matching the teacher's tolerant-degradation style.
func buildRegistry(cfg *config.Config, repos *storage.Repositories, events *storage.EventBus, logger *log.Logger) (*authorization.Registry, error) {
	plugins := map[string]authorization.Plugin{
		"file":     authorization.NewFilePlugin(repos.ChallengeCodes),
		"question": authorization.NewQuestionPlugin(amount.Zero(cfg.Currency)),
	}

	totpCost, err := amount.Parse(cfg.TOTPCost)
	if err != nil {
		return nil, fmt.Errorf("parsing AUTHORIZATION_TOTP_COST: %w", err)
	}
	plugins["totp"] = authorization.NewTOTPPlugin(totpCost, cfg.TOTPWindow, repos.ChallengeCodes)

	var cat *catalog.Catalog
	if cfg.CatalogFile != "" {
		cat, err = catalog.Load(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("loading message catalog: %w", err)
		}
	}

	if cfg.SMSCommand != "" {
		cost, err := amount.Parse(cfg.RecdocUploadCost)
		if err != nil {
			return nil, err
		}
		plugins["sms"] = authorization.NewSMSPlugin(cfg.SMSCommand, cfg.HelperTimeout, cost, logger, cat)
	}
	if cfg.EmailCommand != "" {
		cost, err := amount.Parse(cfg.RecdocUploadCost)
		if err != nil {
			return nil, err
		}
		plugins["email"] = authorization.NewEmailPlugin(cfg.EmailCommand, cfg.HelperTimeout, cost, logger, cat)
	}
	if cfg.PostCommand != "" {
		cost, err := amount.Parse(cfg.RecdocUploadCost)
		if err != nil {
			return nil, err
		}
		plugins["post"] = authorization.NewPostPlugin(cfg.PostCommand, cfg.HelperTimeout, cost, logger, cat)
	}
	if cfg.CreditIBAN != "" {
		ibanCost, err := amount.Parse(cfg.IBANChallengeCost)
		if err != nil {
			return nil, fmt.Errorf("parsing AUTHORIZATION_IBAN_COST: %w", err)
		}
		plugins["iban"] = authorization.NewIBANPlugin(repos.Wire, events, repos.ChallengeCodes, cfg.CreditIBAN, cfg.BusinessName, ibanCost)
	}

	return authorization.NewRegistry(plugins), nil
}
