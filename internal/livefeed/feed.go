// Package livefeed follows server-pushed presence changes over a websocket.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

const (
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 64 << 10
	dialTimeout  = 10 * time.Second
	feedPathTmpl = "accounts/ws/attendance/%d/"
)

// Feed implements interfaces.PresenceFeed against the attendance service
// ARCHITECTURAL DISCOVERY: One websocket per followed session; the read loop is the
// only reader and close control frames are the only writes, so no write pump is needed
type Feed struct {
	baseURL *url.URL
	tokens  interfaces.TokenSource
	dialer  *websocket.Dialer
}

// New creates a feed rooted at the service base URL (the same root the API client uses)
func New(baseURL string, tokens interfaces.TokenSource) (*Feed, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return &Feed{
		baseURL: u,
		tokens:  tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
	}, nil
}

// URL returns the websocket endpoint for sessionID with token attached
func (f *Feed) URL(sessionID int64, token string) string {
	u := *f.baseURL
	u.Path += fmt.Sprintf(feedPathTmpl, sessionID)
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Follow streams presence events for sessionID into onEvent until ctx is done
// Malformed or foreign events are logged and skipped. A nil error means ctx ended.
func (f *Feed) Follow(ctx context.Context, sessionID int64, onEvent func(types.PresenceEvent)) error {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return err
	}

	conn, resp, err := f.dialer.DialContext(ctx, f.URL(sessionID, token), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to open live feed for session %d: status %d: %w", sessionID, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to open live feed for session %d: %w", sessionID, err)
	}
	log.Printf("livefeed: following session %d", sessionID)

	// TECHNICAL DISCOVERY: Closing the socket is the only way to unblock ReadMessage,
	// so a watcher closes it when ctx ends and closeOnce keeps the two paths apart
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		})
	}
	defer closeConn()

	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	conn.SetReadLimit(readLimit)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}
	// Server pings keep the read deadline moving
	conn.SetPingHandler(func(data string) error {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: session %d", ErrFeedClosed, sessionID)
			}
			return fmt.Errorf("live feed for session %d failed: %w", sessionID, err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := decode(data)
		if err != nil {
			log.Printf("livefeed: dropping message for session %d: %v", sessionID, err)
			continue
		}
		if event.SessionID != sessionID {
			log.Printf("livefeed: dropping event for session %d on feed %d", event.SessionID, sessionID)
			continue
		}
		onEvent(event)
	}
}

func decode(data []byte) (types.PresenceEvent, error) {
	var event types.PresenceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("%w: %v", types.ErrInvalidEvent, err)
	}
	if err := event.Validate(); err != nil {
		return event, err
	}
	return event, nil
}
