// Package roster merges enrolled and present students and records presence changes.
package roster

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"rollcall/internal/events"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Merge annotates every enrolled student with membership in present and sorts
// the result for display. The inputs are not modified.
func Merge(enrolled []types.Student, present []types.PresentEntry) []types.Student {
	ids := types.PresentIDs(present)

	merged := make([]types.Student, len(enrolled))
	for i, s := range enrolled {
		_, ok := ids[s.ID]
		s.IsPresent = ok
		merged[i] = s
	}
	Sort(merged)
	return merged
}

// Sort orders students present first, then by first name
// FUNCTIONAL DISCOVERY: First names compare byte-wise and case-sensitively; equal
// keys keep their enrolled order
func Sort(students []types.Student) {
	slices.SortStableFunc(students, func(a, b types.Student) int {
		if a.IsPresent != b.IsPresent {
			if a.IsPresent {
				return -1
			}
			return 1
		}
		return strings.Compare(a.FirstName, b.FirstName)
	})
}

// pendingToggle is a presence write that has not settled yet
type pendingToggle struct {
	sessionID int64
	present   bool
}

// Sync owns the displayed roster of the current session
// ARCHITECTURAL DISCOVERY: Every Load bumps a generation; results of a load whose
// generation was superseded never reach the roster. Toggles are tracked per student
// instead, so a reload of the same session neither drops an unsettled flip nor
// stops a rejected one from being reverted
type Sync struct {
	api interfaces.RosterAPI
	bus *events.Bus

	mu         sync.RWMutex
	generation uint64
	session    *types.AttendanceSession
	students   []types.Student
	pending    map[int64]*pendingToggle
}

// NewSync creates a roster bound to api; bus may be nil
func NewSync(api interfaces.RosterAPI, bus *events.Bus) *Sync {
	return &Sync{
		api:      api,
		bus:      bus,
		students: []types.Student{},
		pending:  make(map[int64]*pendingToggle),
	}
}

// Load rebuilds the roster for session, or clears it when session is nil
// Returns ErrStaleLoad when another load began before this one finished.
func (s *Sync) Load(ctx context.Context, session *types.AttendanceSession) error {
	return s.Begin(session)(ctx)
}

// Begin switches the roster to session and returns the fetch that fills it
// The switch takes effect immediately, so a later Begin supersedes this fetch
// even if the fetch has not started yet.
func (s *Sync) Begin(session *types.AttendanceSession) func(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if session == nil || s.session == nil || s.session.ID != session.ID {
		clear(s.pending)
	}
	s.session = session
	if session == nil {
		s.students = []types.Student{}
		s.mu.Unlock()
		s.publish()
		return func(context.Context) error { return nil }
	}
	s.mu.Unlock()

	return func(ctx context.Context) error {
		return s.fetch(ctx, gen, session)
	}
}

func (s *Sync) fetch(ctx context.Context, gen uint64, session *types.AttendanceSession) error {
	var (
		enrolled []types.Student
		present  []types.PresentEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		enrolled, err = s.api.ListEnrolledStudents(gctx, session.GroupID)
		if err != nil {
			return fmt.Errorf("failed to list enrolled students: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		present, err = s.api.ListPresentStudents(gctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to list present students: %w", err)
		}
		return nil
	})
	fetchErr := g.Wait()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrStaleLoad
	}
	if fetchErr != nil {
		s.mu.Unlock()
		return fetchErr
	}
	s.students = Merge(enrolled, present)
	if s.overlayPendingLocked(session.ID) {
		Sort(s.students)
	}
	count := len(s.students)
	s.mu.Unlock()

	log.Printf("roster: loaded session=%d students=%d present=%d", session.ID, count, len(present))
	s.publish()
	return nil
}

// Toggle flips a student's presence immediately, then records it remotely
// currentlyPresent is authoritative: the flip and any revert are computed from it,
// not from the roster's own value. On failure only that student is restored to
// currentlyPresent and the error is returned. The roster is not re-sorted so rows
// do not jump under the cursor.
func (s *Sync) Toggle(ctx context.Context, studentID int64, currentlyPresent bool) error {
	newStatus := !currentlyPresent

	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if !s.setLocked(studentID, newStatus) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownStudent, studentID)
	}
	sessionID := s.session.ID
	toggle := &pendingToggle{sessionID: sessionID, present: newStatus}
	s.pending[studentID] = toggle
	s.mu.Unlock()
	s.publish()

	var err error
	if newStatus {
		err = s.api.MarkPresent(ctx, sessionID, studentID)
	} else {
		err = s.api.UnmarkPresent(ctx, sessionID, studentID)
	}

	s.mu.Lock()
	latest := s.pending[studentID] == toggle
	if latest {
		delete(s.pending, studentID)
	}
	reverted := false
	if err != nil && latest && s.session != nil && s.session.ID == sessionID &&
		s.presentLocked(studentID) == newStatus {
		reverted = s.setLocked(studentID, currentlyPresent)
	}
	s.mu.Unlock()

	if err == nil {
		return nil
	}
	if reverted {
		s.publish()
	}
	return fmt.Errorf("failed to update presence of student %d: %w", studentID, err)
}

// ApplyPresence applies a server-pushed presence change for the current session
// It reports whether the roster changed.
func (s *Sync) ApplyPresence(event types.PresenceEvent) bool {
	s.mu.Lock()
	if s.session == nil || s.session.ID != event.SessionID {
		s.mu.Unlock()
		return false
	}
	changed := false
	for i := range s.students {
		if s.students[i].ID == event.StudentID && s.students[i].IsPresent != event.Present() {
			s.students[i].IsPresent = event.Present()
			changed = true
			break
		}
	}
	s.mu.Unlock()

	if changed {
		s.publish()
	}
	return changed
}

// Students returns a copy of the displayed roster
func (s *Sync) Students() []types.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.students)
}

// SessionID returns the session the roster belongs to, or 0
func (s *Sync) SessionID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return 0
	}
	return s.session.ID
}

// overlayPendingLocked reapplies unsettled toggles of sessionID on top of freshly
// merged server data and reports whether any student changed
func (s *Sync) overlayPendingLocked(sessionID int64) bool {
	changed := false
	for id, toggle := range s.pending {
		if toggle.sessionID != sessionID || s.presentLocked(id) == toggle.present {
			continue
		}
		if s.setLocked(id, toggle.present) {
			changed = true
		}
	}
	return changed
}

func (s *Sync) presentLocked(studentID int64) bool {
	for _, st := range s.students {
		if st.ID == studentID {
			return st.IsPresent
		}
	}
	return false
}

func (s *Sync) setLocked(studentID int64, present bool) bool {
	for i := range s.students {
		if s.students[i].ID == studentID {
			s.students[i].IsPresent = present
			return true
		}
	}
	return false
}

func (s *Sync) publish() {
	if s.bus == nil {
		return
	}
	s.mu.RLock()
	snapshot := events.RosterSnapshot{Students: slices.Clone(s.students)}
	if s.session != nil {
		snapshot.SessionID = s.session.ID
	}
	s.mu.RUnlock()

	if err := events.Publish(s.bus, events.Rosters, snapshot); err != nil {
		log.Printf("roster: snapshot not published: %v", err)
	}
}
