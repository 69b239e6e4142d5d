package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"rollcall/internal/auth"
	"rollcall/internal/database"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Native lecturer clients send no Origin; the bearer token
		// in the query is what authorizes the feed
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// SessionStore looks up the session a feed is requested for
type SessionStore interface {
	GetSession(ctx context.Context, sessionID int64) (*database.Session, error)
}

// Handler upgrades authorized lecturers onto a session's presence feed
// ARCHITECTURAL DISCOVERY: Multi-stage validation (token -> session -> owner -> upgrade
// -> registration) answers plain HTTP errors before any socket resources are spent
type Handler struct {
	registry     *Registry
	sessions     SessionStore
	issuer       *auth.Issuer
	now          func() time.Time
	pingInterval time.Duration
	pongWait     time.Duration
}

// NewHandler creates a feed handler; now defaults to time.Now
func NewHandler(registry *Registry, sessions SessionStore, issuer *auth.Issuer, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		registry:     registry,
		sessions:     sessions,
		issuer:       issuer,
		now:          now,
		pingInterval: 30 * time.Second,
		pongWait:     60 * time.Second,
	}
}

// HandleFeed serves GET .../ws/attendance/:id/?token=
// Browsers cannot set headers on websocket requests, so the token travels in the query.
func (h *Handler) HandleFeed(c *gin.Context) {
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}

	token := c.Query("token")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token query parameter is required"})
		return
	}
	claims, err := h.issuer.Parse(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	if claims.Role != auth.RoleLecturer {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only lecturers can follow attendance"})
		return
	}

	session, err := h.sessions.GetSession(c.Request.Context(), sessionID)
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Attendance session not found"})
		return
	case err != nil:
		log.Printf("websocket: session lookup failed: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Session validation failed"})
		return
	case session.LecturerID != claims.UserID:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not authorized to follow this session"})
		return
	case !session.Active(h.now()):
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "Attendance session has ended"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, sessionID, claims.UserID)
	if err := h.registry.RegisterConnection(conn); err != nil {
		log.Printf("websocket: failed to register connection: %v", err)
		_ = conn.Close()
		return
	}
	log.Printf("websocket: lecturer %d following session %d", claims.UserID, sessionID)

	go h.handleConnection(conn)
}

// handleConnection runs the heartbeat and read pump until the socket dies
// FUNCTIONAL DISCOVERY: The feed is one-way; client frames are read only so pongs and
// close frames are processed
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.pongWait)); err != nil {
		log.Printf("websocket: failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket: feed of user %d closed: %v", conn.UserID(), err)
			}
			return
		}
	}
}
