package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the store expects
// ARCHITECTURAL DISCOVERY: Separate from the migration manager so startup and tests
// can verify a database file that was migrated by an older binary
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a validator for db
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Tables the store reads and writes, in dependency order
var requiredTables = []string{
	"schema_migrations",
	"lecturers",
	"students",
	"student_groups",
	"enrollments",
	"attendance_sessions",
	"attendance_records",
}

var requiredIndexes = []string{
	"idx_groups_lecturer",
	"idx_sessions_group_created",
	"idx_sessions_code",
	"idx_records_session",
}

// ValidateTablesExist verifies every required table is present
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateIndexes verifies the lookup indexes are present
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateTableStructure verifies the columns of the attendance tables
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":           "INTEGER",
		"group_id":     "INTEGER",
		"code":         "TEXT",
		"created_at":   "DATETIME",
		"expires_at":   "DATETIME",
		"cancelled_at": "DATETIME",
	}
	if err := v.validateColumns("attendance_sessions", sessionColumns); err != nil {
		return fmt.Errorf("attendance_sessions table structure invalid: %w", err)
	}

	recordColumns := map[string]string{
		"id":          "INTEGER",
		"session_id":  "INTEGER",
		"student_id":  "INTEGER",
		"attended_at": "DATETIME",
		"marked_by":   "TEXT",
	}
	if err := v.validateColumns("attendance_records", recordColumns); err != nil {
		return fmt.Errorf("attendance_records table structure invalid: %w", err)
	}
	return nil
}

// ValidateConstraints verifies foreign keys and checks are enforced
// FUNCTIONAL DISCOVERY: Runs inside a transaction that is always rolled back, so
// probing a live database leaves no rows behind
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO attendance_records (session_id, student_id, attended_at, marked_by)
		VALUES (-1, -1, CURRENT_TIMESTAMP, 'lecturer')
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: attendance_records.session_id")
	}

	if _, err := tx.Exec(`INSERT INTO lecturers (id, username) VALUES (-1, '__probe_lecturer')`); err != nil {
		return fmt.Errorf("failed to create probe lecturer: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO students (id, username) VALUES (-1, '__probe_student')`); err != nil {
		return fmt.Errorf("failed to create probe student: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO student_groups (id, name, lecturer_id) VALUES (-1, 'probe', -1)`); err != nil {
		return fmt.Errorf("failed to create probe group: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO attendance_sessions (id, group_id, code, created_at, expires_at)
		VALUES (-1, -1, 'PROBE', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`); err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO attendance_records (session_id, student_id, attended_at, marked_by)
		VALUES (-1, -1, CURRENT_TIMESTAMP, 'robot')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: attendance_records.marked_by")
	}

	insert := `INSERT INTO attendance_records (session_id, student_id, attended_at, marked_by)
		VALUES (-1, -1, CURRENT_TIMESTAMP, 'lecturer')`
	if _, err := tx.Exec(insert); err != nil {
		return fmt.Errorf("failed to create probe record: %w", err)
	}
	if _, err := tx.Exec(insert); err == nil {
		return fmt.Errorf("unique constraint not enforced: attendance_records(session_id, student_id)")
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, kind   string
			notNull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &kind, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = kind
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, kind := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if got != kind {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, kind)
		}
	}
	return nil
}
