// Package config loads the Anastasis provider's configuration from
// environment variables, following the section/key layout of spec.md §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Anastasis provider core.
type Config struct {
	// [anastasis] section
	DatabaseBackend string // "postgres" — only backend currently supported

	// Server
	ListenAddr  string
	MetricsAddr string

	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds

	// Lifetimes
	TransientAccountLifetime time.Duration // one week per spec §3
	PaidAccountLifetime      time.Duration // extended on confirmed recdoc payment

	// Upload quotas
	DefaultPostCounter int
	RecdocUploadCost   string // TALER amount string, e.g. "EUR:1"

	// [taler]
	Currency string

	// [authorization-iban]
	CreditIBAN         string
	BusinessName       string
	IBANChallengeCost  string
	WireSubjectKeyword string
	BankAPIURL         string
	BankAuthToken      string

	// [authorization-email] / [authorization-sms] / [authorization-post]
	EmailCommand  string
	SMSCommand    string
	PostCommand   string
	HelperTimeout time.Duration
	CatalogFile   string // optional YAML message-catalog path; "" uses built-in templates

	// [authorization-totp]
	TOTPWindow int
	TOTPCost   string

	// GC
	GCInterval time.Duration

	// Ingester
	IdleSleepInterval time.Duration
	LongPollTimeout   time.Duration
	IngestBatchSize   int
}

// Load reads configuration from environment variables.
//
// This service only reads the specific variable names below; other
// *_URL style variants are ignored.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseBackend: getEnv("ANASTASIS_DB", "postgres"),

		ListenAddr:  getEnv("ANASTASIS_LISTEN_ADDR", "0.0.0.0:8086"),
		MetricsAddr: getEnv("ANASTASIS_METRICS_ADDR", "0.0.0.0:9086"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),

		TransientAccountLifetime: getEnvDuration("ANASTASIS_TRANSIENT_LIFETIME", 7*24*time.Hour),
		PaidAccountLifetime:      getEnvDuration("ANASTASIS_PAID_LIFETIME", 365*24*time.Hour),

		DefaultPostCounter: getEnvInt("ANASTASIS_POST_COUNTER", 3),
		RecdocUploadCost:   getEnv("ANASTASIS_RECDOC_COST", "EUR:1"),

		Currency: getEnv("TALER_CURRENCY", "EUR"),

		CreditIBAN:         getEnv("AUTHORIZATION_IBAN_CREDIT_IBAN", ""),
		BusinessName:       getEnv("AUTHORIZATION_IBAN_BUSINESS_NAME", "Anastasis SARL"),
		IBANChallengeCost:  getEnv("AUTHORIZATION_IBAN_COST", "EUR:0"),
		WireSubjectKeyword: getEnv("AUTHORIZATION_IBAN_SUBJECT_KEYWORD", "anastasis"),
		BankAPIURL:         getEnv("AUTHORIZATION_IBAN_BANK_API_URL", ""),
		BankAuthToken:      getEnv("AUTHORIZATION_IBAN_BANK_AUTH_TOKEN", ""),

		EmailCommand:  getEnv("AUTHORIZATION_EMAIL_COMMAND", ""),
		SMSCommand:    getEnv("AUTHORIZATION_SMS_COMMAND", ""),
		PostCommand:   getEnv("AUTHORIZATION_POST_COMMAND", ""),
		HelperTimeout: getEnvDuration("AUTHORIZATION_HELPER_TIMEOUT", 30*time.Second),
		CatalogFile:   getEnv("ANASTASIS_CATALOG_FILE", ""),

		TOTPWindow: getEnvInt("AUTHORIZATION_TOTP_WINDOW", 2),
		TOTPCost:   getEnv("AUTHORIZATION_TOTP_COST", "EUR:0"),

		GCInterval: getEnvDuration("ANASTASIS_GC_INTERVAL", time.Hour),

		IdleSleepInterval: getEnvDuration("AUTHORIZATION_IBAN_IDLE_SLEEP", time.Minute),
		LongPollTimeout:   getEnvDuration("AUTHORIZATION_IBAN_LONGPOLL_TIMEOUT", time.Hour),
		IngestBatchSize:   getEnvInt("AUTHORIZATION_IBAN_BATCH_SIZE", 1024),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseBackend != "postgres" {
		errs = append(errs, fmt.Sprintf("unsupported anastasis.db backend %q (only \"postgres\" is supported)", c.DatabaseBackend))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.Currency == "" {
		errs = append(errs, "TALER_CURRENCY is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForIBAN checks that the configuration is sufficient to run the
// wire-transfer ingester (cmd/helper-authorization-iban).
func (c *Config) ValidateForIBAN() error {
	var errs []string
	if c.CreditIBAN == "" {
		errs = append(errs, "AUTHORIZATION_IBAN_CREDIT_IBAN is required but not set")
	}
	if c.BankAPIURL == "" {
		errs = append(errs, "AUTHORIZATION_IBAN_BANK_API_URL is required but not set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
