package database

import (
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds journal database configuration
// ARCHITECTURAL DISCOVERY: an empty MigrationsPath means the schema compiled
// into the binary is used, so a deployed client needs no migrations directory
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	MigrationsPath  string        `json:"migrations_path,omitempty"`
}

// DefaultConfig returns the journal defaults for a single instructor client
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/liveattend.db",
		MaxConnections:  4,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
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
	return nil
}

// DSN returns the go-sqlite3 connection string
// TECHNICAL DISCOVERY: pragmas passed in the DSN apply to every pooled
// connection; a one-off PRAGMA exec only reaches one of them
func (c *Config) DSN() string {
	return "file:" + c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL"
}
