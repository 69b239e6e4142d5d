package database

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	config := DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, "DatabasePath"},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, "MaxConnections"},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, "ConnMaxLifetime"},
		{"negative idle time", func(c *Config) { c.ConnMaxIdleTime = -time.Second }, "ConnMaxIdleTime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	config := &Config{DatabasePath: "/tmp/x.db"}
	dsn := config.DSN()
	if !strings.HasPrefix(dsn, "/tmp/x.db?") || !strings.Contains(dsn, "_foreign_keys=on") {
		t.Errorf("Unexpected DSN %s", dsn)
	}
}

func TestMigrationManager_ApplyEmbedded(t *testing.T) {
	db := openTestDB(t)
	if err := ApplySQLiteOptimizations(db); err != nil {
		t.Fatalf("ApplySQLiteOptimizations failed: %v", err)
	}

	mgr := NewMigrationManager(db, Migrations())
	if err := mgr.ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail on empty database")
	}

	applied, err := mgr.ApplyMigrations()
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("Expected 2 migrations applied, got %d", applied)
	}

	// Second run is a no-op
	applied, err = mgr.ApplyMigrations()
	if err != nil {
		t.Fatalf("Second ApplyMigrations failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("Expected no migrations on second run, got %d", applied)
	}

	if err := mgr.ValidateSchema(); err != nil {
		t.Errorf("ValidateSchema failed after migration: %v", err)
	}
}

func TestMigrationManager_OrderAndFailure(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE things ADD COLUMN label TEXT;`)},
		"001_things.sql":     {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
		"README.md":          {Data: []byte(`not a migration`)},
		"003_broken.sql":     {Data: []byte(`CREATE TABLE oops (`)},
	}

	mgr := NewMigrationManager(db, source)
	applied, err := mgr.ApplyMigrations()
	if err == nil {
		t.Fatal("Expected broken migration to fail")
	}
	if !strings.Contains(err.Error(), "003") {
		t.Errorf("Expected error to name migration 003, got %v", err)
	}
	if applied != 2 {
		t.Errorf("Expected 2 migrations applied before failure, got %d", applied)
	}

	var versions []string
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		t.Fatalf("Failed to query migrations: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		versions = append(versions, v)
	}
	if strings.Join(versions, ",") != "001,002" {
		t.Errorf("Expected versions 001,002 recorded, got %v", versions)
	}
}

func TestSchemaValidator(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}

	if _, err := NewMigrationManager(db, Migrations()).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := validator.ValidateTablesExist(); err != nil {
		t.Errorf("ValidateTablesExist failed: %v", err)
	}
	if err := validator.ValidateIndexes(); err != nil {
		t.Errorf("ValidateIndexes failed: %v", err)
	}
	if err := validator.ValidateTableStructure(); err != nil {
		t.Errorf("ValidateTableStructure failed: %v", err)
	}
	if err := validator.ValidateConstraints(); err != nil {
		t.Errorf("ValidateConstraints failed: %v", err)
	}

	// The probe rows were rolled back
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM lecturers").Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected constraint probe to leave no rows, found %d lecturers", count)
	}
}
