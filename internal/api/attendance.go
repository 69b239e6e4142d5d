package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"rollcall/internal/auth"
	"rollcall/internal/database"
	"rollcall/pkg/types"
)

const (
	codeLength   = 6
	codeAttempts = 5
)

// Request bodies; gin validates the binding tags with validator/v10
type createSessionRequest struct {
	Group int64 `json:"group" binding:"required,gt=0"`
}

type studentRequest struct {
	StudentID int64 `json:"student_id" binding:"required,gt=0"`
}

type checkInRequest struct {
	Code string `json:"code" binding:"required"`
}

// storeError maps store failures onto the statuses the attendance clients expect
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "Attendance session not found")
	case errors.Is(err, database.ErrGroupNotFound):
		sendError(c, http.StatusNotFound, "Group not found")
	case errors.Is(err, database.ErrSessionNotActive):
		sendError(c, http.StatusBadRequest, "Attendance session is no longer active")
	case errors.Is(err, database.ErrActiveSessionExists):
		sendError(c, http.StatusBadRequest, "An active attendance session already exists for this group")
	case errors.Is(err, database.ErrNotEnrolled):
		sendError(c, http.StatusBadRequest, "Student is not enrolled in this group")
	default:
		log.Printf("api: %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		sendError(c, http.StatusInternalServerError, "Internal server error")
	}
}

func claimsOrAbort(c *gin.Context) (*auth.Claims, bool) {
	claims, err := auth.FromContext(c)
	if err != nil {
		sendError(c, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return claims, true
}

// ownedSession loads the :id session and checks the caller teaches its group
func (s *Server) ownedSession(c *gin.Context) (*database.Session, *auth.Claims, bool) {
	claims, ok := claimsOrAbort(c)
	if !ok {
		return nil, nil, false
	}
	id, ok := pathID(c)
	if !ok {
		return nil, nil, false
	}
	session, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return nil, nil, false
	}
	if session.LecturerID != claims.UserID {
		sendError(c, http.StatusForbidden, "You do not have permission to access this session")
		return nil, nil, false
	}
	return session, claims, true
}

// ownedGroup checks the caller teaches groupID
func (s *Server) ownedGroup(c *gin.Context, groupID int64) bool {
	claims, ok := claimsOrAbort(c)
	if !ok {
		return false
	}
	owner, err := s.store.GroupOwner(c.Request.Context(), groupID)
	if err != nil {
		storeError(c, err)
		return false
	}
	if owner != claims.UserID {
		sendError(c, http.StatusForbidden, "You do not have permission to access this group")
		return false
	}
	return true
}

// newCode draws a check-in code no running session uses
func (s *Server) newCode(c *gin.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:codeLength])
		_, err := s.store.FindActiveSessionByCode(c.Request.Context(), code, s.opts.Now())
		if errors.Is(err, database.ErrSessionNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrCodeExhausted
}

// FUNCTIONAL DISCOVERY: POST group-attendance/ - 201 with the session and its countdown
func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "A valid group is required")
		return
	}
	if !s.ownedGroup(c, req.Group) {
		return
	}

	code, err := s.newCode(c)
	if err != nil {
		storeError(c, err)
		return
	}
	session, err := s.store.CreateSession(c.Request.Context(), req.Group, code, s.opts.Now(), s.opts.SessionLength)
	if err != nil {
		storeError(c, err)
		return
	}

	log.Printf("api: started session %d for group %d (code %s)", session.ID, session.GroupID, session.Code)
	c.JSON(http.StatusCreated, session.Wire(s.opts.Now()))
}

func (s *Server) extendSession(c *gin.Context) {
	session, _, ok := s.ownedSession(c)
	if !ok {
		return
	}

	now := s.opts.Now()
	extended, err := s.store.ExtendSession(c.Request.Context(), session.ID, s.opts.ExtendBy, now)
	if err != nil {
		storeError(c, err)
		return
	}

	log.Printf("api: extended session %d to %s", extended.ID, extended.ExpiresAt.Format("15:04:05"))
	c.JSON(http.StatusOK, types.Extension{
		ExpiresAt:        extended.ExpiresAt,
		RemainingSeconds: extended.Remaining(now),
	})
}

// FUNCTIONAL DISCOVERY: Cancelling also ends every live feed of the session
func (s *Server) cancelSession(c *gin.Context) {
	session, _, ok := s.ownedSession(c)
	if !ok {
		return
	}

	if _, err := s.store.CancelSession(c.Request.Context(), session.ID, s.opts.Now()); err != nil {
		storeError(c, err)
		return
	}
	closed := s.registry.CloseSession(session.ID, "attendance session cancelled")

	log.Printf("api: cancelled session %d (%d feeds closed)", session.ID, closed)
	c.JSON(http.StatusOK, gin.H{"message": "Attendance session cancelled"})
}

func (s *Server) listPresent(c *gin.Context) {
	session, _, ok := s.ownedSession(c)
	if !ok {
		return
	}
	present, err := s.store.ListPresentStudents(c.Request.Context(), session.ID)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, present)
}

func (s *Server) markPresent(c *gin.Context) {
	s.setPresence(c, true)
}

func (s *Server) unmarkPresent(c *gin.Context) {
	s.setPresence(c, false)
}

// setPresence handles lecturer mark and unmark
// FUNCTIONAL DISCOVERY: Lecturers may correct attendance after the session ended;
// only students are held to the active window
func (s *Server) setPresence(c *gin.Context, present bool) {
	session, claims, ok := s.ownedSession(c)
	if !ok {
		return
	}
	if !s.limiter.Allow(strconv.FormatInt(claims.UserID, 10)) {
		sendError(c, http.StatusTooManyRequests, "Too many attendance updates, please slow down")
		return
	}

	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "A valid student_id is required")
		return
	}

	var (
		changed bool
		err     error
	)
	if present {
		changed, err = s.store.MarkPresent(c.Request.Context(), session.ID, req.StudentID, auth.RoleLecturer, s.opts.Now())
	} else {
		changed, err = s.store.UnmarkPresent(c.Request.Context(), session.ID, req.StudentID)
	}
	if err != nil {
		storeError(c, err)
		return
	}

	if changed {
		s.broadcast(session.ID, req.StudentID, present)
	}
	if present {
		c.JSON(http.StatusOK, gin.H{"message": "Student marked present"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Student marked absent"})
}

func (s *Server) broadcast(sessionID, studentID int64, present bool) {
	event := types.PresenceEvent{
		Type:      types.PresenceUnmarked,
		SessionID: sessionID,
		StudentID: studentID,
		At:        s.opts.Now(),
	}
	if present {
		event.Type = types.PresenceMarked
	}
	if n := s.registry.Broadcast(event); n > 0 {
		log.Printf("api: %s for student %d pushed to %d feeds", event.Type, studentID, n)
	}
}

func (s *Server) listGroups(c *gin.Context) {
	claims, ok := claimsOrAbort(c)
	if !ok {
		return
	}
	groups, err := s.store.ListGroups(c.Request.Context(), claims.UserID)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) listEnrolled(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok || !s.ownedGroup(c, groupID) {
		return
	}
	students, err := s.store.ListEnrolledStudents(c.Request.Context(), groupID)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

func (s *Server) listGroupSessions(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok || !s.ownedGroup(c, groupID) {
		return
	}
	sessions, err := s.store.ListGroupSessions(c.Request.Context(), groupID, s.opts.Now())
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// FUNCTIONAL DISCOVERY: POST student/group-attendance/check-in/ - codes are case-insensitive
// and only resolve while their session is running
func (s *Server) checkIn(c *gin.Context) {
	claims, ok := claimsOrAbort(c)
	if !ok {
		return
	}
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "An attendance code is required")
		return
	}

	now := s.opts.Now()
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	session, err := s.store.FindActiveSessionByCode(c.Request.Context(), code, now)
	if errors.Is(err, database.ErrSessionNotFound) {
		sendError(c, http.StatusNotFound, "Invalid or expired attendance code")
		return
	}
	if err != nil {
		storeError(c, err)
		return
	}

	changed, err := s.store.MarkPresent(c.Request.Context(), session.ID, claims.UserID, auth.RoleStudent, now)
	switch {
	case errors.Is(err, database.ErrNotEnrolled):
		sendError(c, http.StatusForbidden, "You are not enrolled in this group")
		return
	case err != nil:
		storeError(c, err)
		return
	case !changed:
		sendError(c, http.StatusBadRequest, "Attendance already recorded for this session")
		return
	}

	s.broadcast(session.ID, claims.UserID, true)
	c.JSON(http.StatusCreated, gin.H{
		"message":    "Attendance recorded",
		"session":    session.ID,
		"group_name": session.GroupName,
	})
}
