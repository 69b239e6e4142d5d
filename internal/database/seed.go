package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Seed identities used by the sandbox and its tests
const (
	SeedLecturerID      int64 = 1
	SeedOtherLecturerID int64 = 2
	SeedGroupID         int64 = 10
	SeedSecondGroupID   int64 = 11
	SeedOtherGroupID    int64 = 20
)

type seedStudent struct {
	id                    int64
	first, last, username string
}

type statement struct {
	query string
	args  []any
}

// FUNCTIONAL DISCOVERY: Names include a lowercase first name and a duplicate so the
// client's byte-wise, stable roster ordering is visible against real data
var seedStudents = []seedStudent{
	{101, "Amara", "Okafor", "amara.okafor"},
	{102, "Bilal", "Hussain", "bilal.hussain"},
	{103, "Chen", "Wei", "chen.wei"},
	{104, "Dina", "Haddad", "dina.haddad"},
	{105, "Amara", "Bello", "amara.bello"},
	{106, "eva", "Novak", "eva.novak"},
	{107, "Farid", "Karimov", "farid.karimov"},
	{108, "Grace", "Mensah", "grace.mensah"},
}

var seedEnrollments = map[int64][]int64{
	SeedGroupID:       {101, 102, 103, 104, 105, 106},
	SeedSecondGroupID: {103, 107, 108},
	SeedOtherGroupID:  {101, 108},
}

// Seed fills an empty database with two lecturers, three groups and eight students
// It reports false and writes nothing when any lecturer already exists.
func (m *Manager) Seed(ctx context.Context) (bool, error) {
	seeded := false
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM lecturers").Scan(&count); err != nil {
			return fmt.Errorf("failed to count lecturers: %w", err)
		}
		if count > 0 {
			return nil
		}

		stmts := []statement{
			{"INSERT INTO lecturers (id, username, first_name, last_name) VALUES (?, ?, ?, ?)",
				[]any{SeedLecturerID, "lecturer", "Nadia", "Rahman"}},
			{"INSERT INTO lecturers (id, username, first_name, last_name) VALUES (?, ?, ?, ?)",
				[]any{SeedOtherLecturerID, "guest", "Tomas", "Lind"}},
			{"INSERT INTO student_groups (id, name, description, class_id, class_name, lecturer_id) VALUES (?, ?, ?, ?, ?, ?)",
				[]any{SeedGroupID, "CS101 Group A", "Morning lab", 1, "Introduction to Programming", SeedLecturerID}},
			{"INSERT INTO student_groups (id, name, description, class_id, class_name, lecturer_id) VALUES (?, ?, ?, ?, ?, ?)",
				[]any{SeedSecondGroupID, "CS101 Group B", "Afternoon lab", 1, "Introduction to Programming", SeedLecturerID}},
			{"INSERT INTO student_groups (id, name, description, class_id, class_name, lecturer_id) VALUES (?, ?, ?, ?, ?, ?)",
				[]any{SeedOtherGroupID, "MATH200 Seminar", "", 2, "Linear Algebra", SeedOtherLecturerID}},
		}
		for _, s := range seedStudents {
			stmts = append(stmts, statement{
				"INSERT INTO students (id, username, first_name, last_name, email) VALUES (?, ?, ?, ?, ?)",
				[]any{s.id, s.username, s.first, s.last, s.username + "@students.example.edu"},
			})
		}
		for groupID, studentIDs := range seedEnrollments {
			for _, studentID := range studentIDs {
				stmts = append(stmts, statement{
					"INSERT INTO enrollments (group_id, student_id) VALUES (?, ?)",
					[]any{groupID, studentID},
				})
			}
		}

		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
				return fmt.Errorf("failed to seed: %w", err)
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if seeded {
		log.Printf("database: seeded %d students in %d groups", len(seedStudents), len(seedEnrollments))
	}
	return seeded, nil
}
