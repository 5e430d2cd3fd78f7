// Package push delivers server-initiated events to connected clients over
// WebSocket: live availability snapshots and forced-logout notices.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	msgAvailability       = "availability"
	msgAvailabilityError  = "availability_error"
	msgSessionInvalidated = "session_invalidated"
)

// PushMessage is the envelope for every server-to-client event.
type PushMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// pushConn serializes writes; the websocket library allows only one
// concurrent writer per connection.
type pushConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type WebSocketServer struct {
	auth         services.AuthService
	availability ports.AvailabilityService
	metrics      *services.MetricsService

	connections map[domain.UserID]*pushConn
	mu          sync.RWMutex

	sessionCheckInterval time.Duration
	pingInterval         time.Duration
	readTimeout          time.Duration
	writeTimeout         time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	auth services.AuthService,
	availability ports.AvailabilityService,
	metrics *services.MetricsService,
	sessionCheckInterval time.Duration,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		auth:                 auth,
		availability:         availability,
		metrics:              metrics,
		connections:          make(map[domain.UserID]*pushConn),
		sessionCheckInterval: sessionCheckInterval,
		pingInterval:         30 * time.Second,
		readTimeout:          60 * time.Second,
		writeTimeout:         10 * time.Second,
		logger:               logger,
	}
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects, the token's device session is superseded, or the
// server shuts down. Authentication rides in the token query parameter;
// browsers cannot set headers on WebSocket upgrades.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()
	conn := &pushConn{conn: raw}

	// A reconnect supersedes the previous socket for the same user.
	s.mu.Lock()
	if prior := s.connections[userID]; prior != nil {
		prior.conn.Close()
		s.logger.Infow("closing old push connection", "user_id", userID)
	}
	s.connections[userID] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.connections[userID] == conn {
			delete(s.connections, userID)
		}
		s.mu.Unlock()
		s.logger.Infow("push connection closed", "user_id", userID)
	}()

	s.logger.Infow("push connection opened", "user_id", userID, "role", claims.Role)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(s.readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	// Reader goroutine: the client sends nothing meaningful, but reads are
	// required to process pongs and notice disconnects.
	errorChan := make(chan error, 1)
	go func() {
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				errorChan <- err
				return
			}
			raw.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
	}()

	// Subscribers get the live availability feed; other roles keep the
	// socket for notices only.
	var (
		updates <-chan *domain.AvailabilitySnapshot
		errs    <-chan error
	)
	if claims.Role == domain.RoleSubscriber {
		feed, err := s.availability.Watch(ctx, userID)
		if err != nil {
			s.logger.Errorw("failed to open availability feed",
				"user_id", userID,
				"error", err,
			)
			return
		}
		defer feed.Stop()
		updates = feed.Updates()
		errs = feed.Errs()
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()
	sessionTicker := time.NewTicker(s.sessionCheckInterval)
	defer sessionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case snapshot := <-updates:
			if err := s.send(conn, msgAvailability, snapshot); err != nil {
				s.logger.Infow("failed to push availability", "user_id", userID, "error", err)
				return
			}

		case feedErr := <-errs:
			payload := map[string]string{"error": feedErr.Error()}
			if err := s.send(conn, msgAvailabilityError, payload); err != nil {
				return
			}

		case <-sessionTicker.C:
			err := s.auth.CheckDeviceSession(ctx, userID, claims.DeviceSessionID)
			if err == nil {
				continue
			}
			if errors.Is(err, domain.ErrSessionSuperseded) || errors.Is(err, domain.ErrUserInactive) {
				payload := map[string]string{"reason": err.Error()}
				if sendErr := s.send(conn, msgSessionInvalidated, payload); sendErr != nil {
					s.logger.Infow("failed to push session invalidation", "user_id", userID, "error", sendErr)
				}
				s.logger.Infow("forcing logout over push channel",
					"user_id", userID,
					"reason", err,
				)
				return
			}
			// Transient lookup failure: keep the connection, try again on
			// the next tick.
			s.logger.Warnw("device session check failed", "user_id", userID, "error", err)

		case <-pingTicker.C:
			if err := conn.ping(s.writeTimeout); err != nil {
				s.logger.Infow("ping failed", "user_id", userID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("push connection read error", "user_id", userID, "error", err)
			}
			return
		}
	}
}

// NotifyUser pushes a one-off message to a connected user. Returns false
// when the user holds no push connection.
func (s *WebSocketServer) NotifyUser(userID domain.UserID, msgType string, payload interface{}) bool {
	s.mu.RLock()
	conn := s.connections[userID]
	s.mu.RUnlock()
	if conn == nil {
		return false
	}
	if err := s.send(conn, msgType, payload); err != nil {
		s.logger.Infow("failed to notify user", "user_id", userID, "error", err)
		return false
	}
	return true
}

// ConnectionCount reports the number of open push connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *WebSocketServer) send(conn *pushConn, msgType string, payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	conn.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.conn.WriteJSON(PushMessage{Type: msgType, Payload: encoded})
}

func (c *pushConn) ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}
