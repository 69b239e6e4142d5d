// Package database is the SQLite store behind the sandbox attendance service.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	dbconfig "rollcall/pkg/database"
	"rollcall/pkg/types"
)

const (
	writeQueueSize = 100
	writeTimeout   = 30 * time.Second
	busyRetryDelay = 100 * time.Millisecond
)

// Session is a stored attendance session with its owner
type Session struct {
	ID          int64
	GroupID     int64
	GroupName   string
	LecturerID  int64
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CancelledAt *time.Time
}

// Active reports whether students can still check in at now
func (s *Session) Active(now time.Time) bool {
	return s.CancelledAt == nil && now.Before(s.ExpiresAt)
}

// Remaining returns the whole seconds left at now, 0 once inactive
func (s *Session) Remaining(now time.Time) int {
	if !s.Active(now) {
		return 0
	}
	return int(s.ExpiresAt.Sub(now) / time.Second)
}

// Wire renders the session the way the attendance API returns it
func (s *Session) Wire(now time.Time) *types.AttendanceSession {
	return &types.AttendanceSession{
		ID:               s.ID,
		GroupID:          s.GroupID,
		GroupName:        s.GroupName,
		Code:             s.Code,
		IsActive:         s.Active(now),
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		RemainingSeconds: s.Remaining(now),
	}
}

// Manager owns the sandbox database
// ARCHITECTURAL DISCOVERY: Reads go straight to the pool; every write funnels through
// one goroutine so SQLite never sees two writers
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// Migrate applies pending migrations and verifies the resulting schema
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.Migrations())
	applied, err := migrations.ApplyMigrations()
	if err != nil {
		return err
	}
	if applied > 0 {
		log.Printf("database: applied %d migrations", applied)
	}
	if err := migrations.ValidateSchema(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Only lock contention from a second process is
			// retried; constraint violations are answers, not failures
			err := op.operation(m.db)
			if isBusy(err) {
				log.Printf("database: write busy, retrying: %v", err)
				time.Sleep(busyRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("database: write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// withTx runs fn inside a transaction on the writer goroutine
func (m *Manager) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		return nil
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `
	s.id, s.group_id, g.name, g.lecturer_id, s.code, s.created_at, s.expires_at, s.cancelled_at
	FROM attendance_sessions s
	JOIN student_groups g ON g.id = s.group_id`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		session   Session
		cancelled sql.NullTime
	)
	err := row.Scan(
		&session.ID,
		&session.GroupID,
		&session.GroupName,
		&session.LecturerID,
		&session.Code,
		&session.CreatedAt,
		&session.ExpiresAt,
		&cancelled,
	)
	if err != nil {
		return nil, err
	}
	if cancelled.Valid {
		t := cancelled.Time
		session.CancelledAt = &t
	}
	return &session, nil
}

func getSession(ctx context.Context, q queryer, sessionID int64) (*Session, error) {
	session, err := scanSession(q.QueryRowContext(ctx, "SELECT"+sessionColumns+" WHERE s.id = ?", sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %d: %w", sessionID, err)
	}
	return session, nil
}

// GetSession returns a session with its group and owner
func (m *Manager) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	return getSession(ctx, m.db, sessionID)
}

// SessionOwner returns the lecturer who owns sessionID
func (m *Manager) SessionOwner(ctx context.Context, sessionID int64) (int64, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return session.LecturerID, nil
}

// GroupOwner returns the lecturer who teaches groupID
func (m *Manager) GroupOwner(ctx context.Context, groupID int64) (int64, error) {
	var lecturerID int64
	err := m.db.QueryRowContext(ctx, "SELECT lecturer_id FROM student_groups WHERE id = ?", groupID).Scan(&lecturerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query group %d: %w", groupID, err)
	}
	return lecturerID, nil
}

// CreateSession opens a session for groupID lasting length from now
// Fails with ErrActiveSessionExists while the group's latest session is still active.
func (m *Manager) CreateSession(ctx context.Context, groupID int64, code string, now time.Time, length time.Duration) (*Session, error) {
	now = now.UTC()
	var created *Session

	err := m.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM student_groups WHERE id = ?", groupID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to query group %d: %w", groupID, err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
		}

		// TECHNICAL DISCOVERY: Expiry is compared in Go; only the newest uncancelled
		// session of a group can still be running
		latest, err := scanSession(tx.QueryRowContext(ctx,
			"SELECT"+sessionColumns+" WHERE s.group_id = ? AND s.cancelled_at IS NULL ORDER BY s.id DESC LIMIT 1",
			groupID))
		switch {
		case err == nil && latest.Active(now):
			return fmt.Errorf("%w: session %d", ErrActiveSessionExists, latest.ID)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to query latest session: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_sessions (group_id, code, created_at, expires_at)
			VALUES (?, ?, ?, ?)
		`, groupID, code, now, now.Add(length))
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read session id: %w", err)
		}

		created, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ExtendSession pushes an active session's expiry back by d
func (m *Manager) ExtendSession(ctx context.Context, sessionID int64, d time.Duration, now time.Time) (*Session, error) {
	var extended *Session
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		session, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.Active(now) {
			return fmt.Errorf("%w: %d", ErrSessionNotActive, sessionID)
		}

		session.ExpiresAt = session.ExpiresAt.Add(d).UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE attendance_sessions SET expires_at = ? WHERE id = ?",
			session.ExpiresAt, sessionID); err != nil {
			return fmt.Errorf("failed to extend session: %w", err)
		}
		extended = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extended, nil
}

// CancelSession ends an active session immediately
func (m *Manager) CancelSession(ctx context.Context, sessionID int64, now time.Time) (*Session, error) {
	var cancelled *Session
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		session, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.Active(now) {
			return fmt.Errorf("%w: %d", ErrSessionNotActive, sessionID)
		}

		at := now.UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE attendance_sessions SET cancelled_at = ? WHERE id = ?",
			at, sessionID); err != nil {
			return fmt.Errorf("failed to cancel session: %w", err)
		}
		session.CancelledAt = &at
		cancelled = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// FindActiveSessionByCode resolves a check-in code to its running session
func (m *Manager) FindActiveSessionByCode(ctx context.Context, code string, now time.Time) (*Session, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT"+sessionColumns+" WHERE s.code = ? AND s.cancelled_at IS NULL ORDER BY s.id DESC",
		code)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by code: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if session.Active(now) {
			return session, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return nil, fmt.Errorf("%w: no active session for code %q", ErrSessionNotFound, code)
}

// MarkPresent records studentID as present; changed is false when already present
func (m *Manager) MarkPresent(ctx context.Context, sessionID, studentID int64, markedBy string, now time.Time) (changed bool, err error) {
	err = m.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkEnrolled(ctx, tx, sessionID, studentID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO attendance_records (session_id, student_id, attended_at, marked_by)
			VALUES (?, ?, ?, ?)
		`, sessionID, studentID, now.UTC(), markedBy)
		if err != nil {
			return fmt.Errorf("failed to insert attendance record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

// UnmarkPresent deletes studentID's record; changed is false when it was absent
func (m *Manager) UnmarkPresent(ctx context.Context, sessionID, studentID int64) (changed bool, err error) {
	err = m.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkEnrolled(ctx, tx, sessionID, studentID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM attendance_records WHERE session_id = ? AND student_id = ?",
			sessionID, studentID)
		if err != nil {
			return fmt.Errorf("failed to delete attendance record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

func checkEnrolled(ctx context.Context, tx *sql.Tx, sessionID, studentID int64) error {
	if _, err := getSession(ctx, tx, sessionID); err != nil {
		return err
	}
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments e
		JOIN attendance_sessions s ON s.group_id = e.group_id
		WHERE s.id = ? AND e.student_id = ?
	`, sessionID, studentID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check enrollment: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: student %d, session %d", ErrNotEnrolled, studentID, sessionID)
	}
	return nil
}

// ListEnrolledStudents returns the students of groupID in id order
func (m *Manager) ListEnrolledStudents(ctx context.Context, groupID int64) ([]types.Student, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT st.id, st.first_name, st.last_name, st.email, st.username, st.profile_picture_url
		FROM students st
		JOIN enrollments e ON e.student_id = st.id
		WHERE e.group_id = ?
		ORDER BY st.id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrolled students: %w", err)
	}
	defer func() { _ = rows.Close() }()

	students := []types.Student{}
	for rows.Next() {
		var (
			s       types.Student
			picture sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.FirstName, &s.LastName, &s.Email, &s.Username, &picture); err != nil {
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		if picture.Valid {
			url := picture.String
			s.ProfilePictureURL = &url
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating student rows: %w", err)
	}
	return students, nil
}

// ListPresentStudents returns who has attended sessionID, earliest first
func (m *Manager) ListPresentStudents(ctx context.Context, sessionID int64) ([]types.PresentEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT r.student_id, st.first_name, st.last_name, r.attended_at
		FROM attendance_records r
		JOIN students st ON st.id = r.student_id
		WHERE r.session_id = ?
		ORDER BY r.attended_at, r.id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query present students: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := []types.PresentEntry{}
	for rows.Next() {
		var (
			entry       types.PresentEntry
			first, last string
		)
		if err := rows.Scan(&entry.StudentID, &first, &last, &entry.AttendedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		entry.StudentName = types.Student{FirstName: first, LastName: last}.FullName()
		present = append(present, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return present, nil
}

// ListGroups returns the groups lecturerID teaches with their enrolment counts
func (m *Manager) ListGroups(ctx context.Context, lecturerID int64) ([]types.Group, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, g.class_id, g.class_name,
			(SELECT COUNT(*) FROM enrollments e WHERE e.group_id = g.id)
		FROM student_groups g
		WHERE g.lecturer_id = ?
		ORDER BY g.id
	`, lecturerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := []types.Group{}
	for rows.Next() {
		var g types.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.ClassID, &g.ClassName, &g.CurrentStudents); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group rows: %w", err)
	}
	return groups, nil
}

// ListGroupSessions returns every session of groupID, newest first
func (m *Manager) ListGroupSessions(ctx context.Context, groupID int64, now time.Time) ([]types.AttendanceSession, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT"+sessionColumns+" WHERE s.group_id = ? ORDER BY s.id DESC",
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []types.AttendanceSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *session.Wire(now))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance_sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying pool
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool; safe to call twice
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
