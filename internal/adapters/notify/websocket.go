package notify

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
)

const closeGrace = time.Second

// WebSocketSession is a Session over a websocket connection.
type WebSocketSession struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	state   atomic.Int32
}

// NewWebSocketSession wraps an upgraded connection. The session starts in
// the connecting state until MarkOpen is called.
func NewWebSocketSession(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSession {
	if writeTimeout <= 0 {
		writeTimeout = DefaultSendTimeout
	}
	s := &WebSocketSession{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
	s.state.Store(int32(model.SessionConnecting))
	return s
}

// ID returns the session identifier.
func (s *WebSocketSession) ID() string { return s.id }

// State returns the lifecycle state.
func (s *WebSocketSession) State() model.SessionState {
	return model.SessionState(s.state.Load())
}

// MarkOpen moves a connecting session to open. It has no effect once closed.
func (s *WebSocketSession) MarkOpen() {
	s.state.CompareAndSwap(int32(model.SessionConnecting), int32(model.SessionOpen))
}

// Send writes payload as one text frame. A failed write closes the session.
func (s *WebSocketSession) Send(ctx context.Context, payload []byte) error {
	if s.State() == model.SessionClosed {
		return ErrSessionClosed
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		s.markClosed()
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.markClosed()
		return err
	}
	return nil
}

// Close sends a close frame and closes the connection. It is idempotent.
func (s *WebSocketSession) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// markClosed reports whether this call performed the transition.
func (s *WebSocketSession) markClosed() bool {
	return model.SessionState(s.state.Swap(int32(model.SessionClosed))) != model.SessionClosed
}

// Handler upgrades requests to websocket sessions registered under the
// subject named by the "email" query parameter.
type Handler struct {
	registry     *Registry
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	param        string
	logger       logger.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAllowedOrigins restricts the Origin header. Empty allows any origin.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a websocket endpoint feeding r.
func NewHandler(r *Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry:     r,
		writeTimeout: DefaultSendTimeout,
		param:        "email",
		logger:       logger.Nop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP registers the session and reads until the client goes away.
// Inbound frames are discarded; reading only detects closure.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := model.Subject(r.URL.Query().Get(h.param))
	if subject == "" {
		http.Error(w, ErrMissingSubject.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s := NewWebSocketSession(conn, h.writeTimeout)
	h.registry.Connect(subject, s)
	s.MarkOpen()
	h.logger.Debug(ctx, "session opened", logger.String("subject", string(subject)), logger.String("session", s.ID()))

	defer func() {
		h.registry.Disconnect(subject, s)
		_ = s.Close()
		h.logger.Debug(ctx, "session closed", logger.String("subject", string(subject)), logger.String("session", s.ID()))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
