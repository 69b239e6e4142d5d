package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds the sandbox store's SQLite settings
// ARCHITECTURAL DISCOVERY: Migrations ship inside the binary, so only the file path
// and pool limits vary between deployments
type Config struct {
	DatabasePath    string        `json:"database_path" validate:"required"`
	MaxConnections  int           `json:"max_connections" validate:"gt=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" validate:"gt=0"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" validate:"gt=0"`
}

var validate = validator.New()

// DefaultConfig returns settings sized for a single classroom sandbox
// FUNCTIONAL DISCOVERY: 10 connections cover concurrent roster reads from a lecturer
// and a burst of student check-ins
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./rollcall-sandbox.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("database config: %s failed %q validation", fieldErrs[0].Field(), fieldErrs[0].Tag())
	}
	return err
}

// DSN returns the go-sqlite3 connection string for the configured file
// TECHNICAL DISCOVERY: busy_timeout and foreign_keys are per-connection settings, so
// they go in the DSN where every pooled connection picks them up
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// SQLite pragmas applied once after opening
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -16000;
	PRAGMA temp_store = MEMORY;
`

// ApplySQLiteOptimizations tunes a freshly opened database
func ApplySQLiteOptimizations(db *sql.DB) error {
	if _, err := db.Exec(sqliteOptimizations); err != nil {
		return fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}
	return nil
}
