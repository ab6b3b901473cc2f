package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	RetryDelay      time.Duration `json:"retry_delay"`
	// MigrationsPath overrides the embedded migrations with a directory on disk.
	MigrationsPath string `json:"migrations_path"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: reads are concurrent under WAL; writes are funnelled
// through one goroutine, so a small pool is enough
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/boardhub.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    30 * time.Second,
		RetryDelay:      5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// DSN is the go-sqlite3 connection string for the configured path.
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Open opens the database and applies connection pool settings and pragmas.
func Open(c *Config) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	if err := ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	return db, nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// ApplySQLiteOptimizations applies the WAL/cache/foreign-key pragmas.
// TECHNICAL DISCOVERY: foreign_keys is per connection; the DSN flag covers
// pooled connections opened later
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
