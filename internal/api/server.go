// Package api serves the sandbox attendance REST API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"rollcall/internal/auth"
	"rollcall/internal/database"
	"rollcall/internal/websocket"
	"rollcall/pkg/types"
)

// Store is the persistence the API needs
type Store interface {
	HealthCheck(ctx context.Context) error
	GetSession(ctx context.Context, sessionID int64) (*database.Session, error)
	GroupOwner(ctx context.Context, groupID int64) (int64, error)
	CreateSession(ctx context.Context, groupID int64, code string, now time.Time, length time.Duration) (*database.Session, error)
	ExtendSession(ctx context.Context, sessionID int64, d time.Duration, now time.Time) (*database.Session, error)
	CancelSession(ctx context.Context, sessionID int64, now time.Time) (*database.Session, error)
	FindActiveSessionByCode(ctx context.Context, code string, now time.Time) (*database.Session, error)
	MarkPresent(ctx context.Context, sessionID, studentID int64, markedBy string, now time.Time) (bool, error)
	UnmarkPresent(ctx context.Context, sessionID, studentID int64) (bool, error)
	ListEnrolledStudents(ctx context.Context, groupID int64) ([]types.Student, error)
	ListPresentStudents(ctx context.Context, sessionID int64) ([]types.PresentEntry, error)
	ListGroups(ctx context.Context, lecturerID int64) ([]types.Group, error)
	ListGroupSessions(ctx context.Context, groupID int64, now time.Time) ([]types.AttendanceSession, error)
}

// Options tunes session timing; Now defaults to time.Now
type Options struct {
	SessionLength time.Duration
	ExtendBy      time.Duration
	Now           func() time.Time
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between clients and the store
// Business rules (one active session per group, enrollment) live in the store; handlers
// only authorize, translate errors and fan presence changes out to live feeds
type Server struct {
	store    Store
	registry *websocket.Registry
	issuer   *auth.Issuer
	limiter  *RateLimiter
	feed     *websocket.Handler
	opts     Options
	engine   *gin.Engine
}

// NewServer wires the handlers and sets up routing
func NewServer(store Store, registry *websocket.Registry, issuer *auth.Issuer, limiter *RateLimiter, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		store:    store,
		registry: registry,
		issuer:   issuer,
		limiter:  limiter,
		feed:     websocket.NewHandler(registry, store, issuer, opts.Now),
		opts:     opts,
		engine:   gin.New(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Routes mirror the attendance service under /accounts/ with
// trailing slashes; lecturer and student routes sit behind role-checked bearer auth
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Logger(), gin.Recovery(), corsMiddleware())

	s.engine.GET("/health", s.healthCheck)

	accounts := s.engine.Group("/accounts")

	lecturer := accounts.Group("/lecturer", auth.Middleware(s.issuer, auth.RoleLecturer))
	lecturer.POST("/group-attendance/", s.createSession)
	lecturer.POST("/group-attendance/:id/extend/", s.extendSession)
	lecturer.POST("/group-attendance/:id/cancel/", s.cancelSession)
	lecturer.GET("/group-attendance/:id/students/", s.listPresent)
	lecturer.POST("/group-attendance/:id/mark/", s.markPresent)
	lecturer.POST("/group-attendance/:id/unmark/", s.unmarkPresent)
	lecturer.GET("/groups/", s.listGroups)
	lecturer.GET("/groups/:id/enrolled-students/", s.listEnrolled)
	lecturer.GET("/groups/:id/attendance/", s.listGroupSessions)

	student := accounts.Group("/student", auth.Middleware(s.issuer, auth.RoleStudent))
	student.POST("/group-attendance/check-in/", s.checkIn)

	accounts.GET("/ws/attendance/:id/", s.feed.HandleFeed)
}

// ServeHTTP makes the server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// FUNCTIONAL DISCOVERY: GET /health - 503 when the database is unreachable
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   s.opts.Now(),
		Database:    "healthy",
		Connections: s.registry.GetStats(),
	}
	code := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// sendError writes the {"error": message} body the attendance clients read
func sendError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		sendError(c, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in the sandbox
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
