package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planwatch/planwatch-engine/pkg/retry"
)

// requiredExtensions back accent-insensitive entity matching and the
// Levenshtein distance used by fuzzy entity search.
var requiredExtensions = []string{"unaccent", "fuzzystrmatch"}

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL            string
	MaxConnections int32
	// ApplicationName is reported in pg_stat_activity.
	ApplicationName string
	// ConnectAttempts bounds how often the first ping is tried while the
	// server is still starting. Zero means a single attempt.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// NewConnection creates a connection pool and waits until the server answers.
// Sessions run in UTC so meeting timestamps compare the same way everywhere.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	params := poolConfig.ConnConfig.RuntimeParams
	params["timezone"] = "UTC"
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	backoff := cfg.ConnectBackoff
	if backoff == 0 {
		backoff = time.Second
	}
	if err := retry.Do(ctx, retry.LinearConfig(cfg.ConnectAttempts, backoff), func() error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// CheckExtensions reports the extensions the schema depends on that are not
// installed in the current database.
func (db *DB) CheckExtensions(ctx context.Context) error {
	rows, err := db.Query(ctx, `SELECT extname FROM pg_extension WHERE extname = ANY($1)`, requiredExtensions)
	if err != nil {
		return fmt.Errorf("failed to list extensions: %w", err)
	}
	defer rows.Close()

	installed := make(map[string]bool, len(requiredExtensions))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan extension: %w", err)
		}
		installed[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, ext := range requiredExtensions {
		if !installed[ext] {
			missing = append(missing, ext)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing postgres extensions: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
