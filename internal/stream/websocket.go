package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robbarto2/AgenticOps/internal/config"
)

const (
	writeTimeout = 10 * time.Second

	// maxMessageSize bounds one inbound client message.
	maxMessageSize = 64 << 10
)

// Handler serves the chat protocol over websocket. Each connection gets
// its own Controller.
type Handler struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler returns a websocket handler. Origins are checked like the
// REST API's CORS list, except that an empty list accepts any origin.
// Requests without an Origin header are not from a browser and are
// always accepted.
func NewHandler(cfg Config, allowedOrigins []string) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{cfg: cfg, logger: cfg.Logger.With("component", "websocket")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			ok, _ := config.OriginAllowed(allowedOrigins, origin)
			return ok
		},
	}
	return h
}

// wsSink serialises writes; frames come from both the read loop and the
// query goroutine.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log := h.logger.With("remote", r.RemoteAddr)
	log.Info("websocket connected")

	sink := &wsSink{conn: conn}
	ctrl := NewController(h.cfg, sink)
	defer ctrl.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "error", err)
			} else {
				log.Info("websocket disconnected")
			}
			return
		}
		if f, ok := h.dispatch(r, ctrl, raw); ok {
			if err := sink.Send(f); err != nil {
				log.Debug("frame not delivered", "type", f.Type, "error", err)
			}
		}
	}
}

// dispatch handles one inbound message. A returned frame is a protocol
// error for the client.
func (h *Handler) dispatch(r *http.Request, ctrl *Controller, raw []byte) (Frame, bool) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorFrame("Invalid JSON"), true
	}
	switch msg.Type {
	case TypeStop:
		if ctrl.Stop() {
			h.logger.Info("stop requested")
		}
	case TypeUserMessage:
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			return Frame{}, false
		}
		ctrl.Submit(r.Context(), msg.SessionID, content)
	default:
		return errorFrame(fmt.Sprintf("Unknown message type: %s", msg.Type)), true
	}
	return Frame{}, false
}
