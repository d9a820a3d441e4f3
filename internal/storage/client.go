package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/anastasis-sarl/anastasis-provider/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled Postgres connection plus the notification
// listener backing the event bus (§4.1, §5).
type Client struct {
	db     *sql.DB
	cfg    *config.Config
	logger *log.Logger

	events *EventBus
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient opens a pooled connection to Postgres and starts the
// notification listener.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage: config cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("storage: DATABASE_URL cannot be empty")
	}

	client := &Client{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[Storage] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMinConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.DatabaseMaxIdleTime) * time.Second)
	db.SetConnMaxLifetime(time.Duration(cfg.DatabaseMaxLifetime) * time.Second)
	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to ping database: %w", err)
	}

	listener := pq.NewListener(cfg.DatabaseURL, 10*time.Second, time.Minute, client.listenerEventCallback)
	client.events = NewEventBus(listener, client.logger)

	client.logger.Printf("connected to database (max_conns=%d, min_conns=%d)", cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	return client, nil
}

func (c *Client) listenerEventCallback(ev pq.ListenerEventType, err error) {
	if err != nil {
		c.logger.Printf("listener event %v: %v", ev, err)
	}
}

// DB returns the underlying *sql.DB for direct access by repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Events returns the event bus used by event_listen/event_notify.
func (c *Client) Events() *EventBus {
	return c.events
}

// Close closes the database connection and the notification listener.
func (c *Client) Close() error {
	if c.events != nil {
		c.events.Close()
	}
	if c.db != nil {
		c.logger.Println("closing database connection")
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthStatus reports database health for the /health admin endpoint.
type HealthStatus struct {
	Healthy            bool          `json:"healthy"`
	Error              string        `json:"error,omitempty"`
	Version            string        `json:"version,omitempty"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxOpenConnections int           `json:"max_open_connections"`
	CheckedAt          time.Time     `json:"checked_at"`
}

// Health returns database health information.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{CheckedAt: time.Now()}

	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status, nil
	}

	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.WaitCount = stats.WaitCount
	status.WaitDuration = stats.WaitDuration
	status.MaxOpenConnections = stats.MaxOpenConnections

	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
		status.Version = version
	}
	return status, nil
}

// CreateTables runs every embedded migration in lexical order.
func (c *Client) CreateTables(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: reading migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("storage: reading migration %s: %w", name, err)
		}
		if _, err := c.db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("storage: applying migration %s: %w", name, err)
		}
		c.logger.Printf("applied migration %s", name)
	}
	return nil
}

// DropTables drops every table created by CreateTables. Used by
// `dbinit -r` and by tests.
func (c *Client) DropTables(ctx context.Context) error {
	const drop = `
DROP TABLE IF EXISTS inbound_wire_transfers CASCADE;
DROP TABLE IF EXISTS challenge_codes CASCADE;
DROP TABLE IF EXISTS challenge_payments CASCADE;
DROP TABLE IF EXISTS recdoc_payments CASCADE;
DROP TABLE IF EXISTS truth_upload_payments CASCADE;
DROP TABLE IF EXISTS recovery_documents CASCADE;
DROP TABLE IF EXISTS truths CASCADE;
DROP TABLE IF EXISTS accounts CASCADE;
`
	_, err := c.db.ExecContext(ctx, drop)
	if err != nil {
		return fmt.Errorf("storage: dropping tables: %w", err)
	}
	return nil
}
