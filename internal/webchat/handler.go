// Package webchat is the browser chat transport: a WebSocket for live
// sessions plus an HTTP send/poll fallback.
package webchat

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

//go:embed widget.js
var defaultWidgetJS []byte

// ConversationPrefix marks conversation ids owned by the web chat.
const ConversationPrefix = "webchat:"

const (
	maxOutbox        = 50
	msgEnqueueFailed = "Lo siento, hubo un problema al recibir tu mensaje. Por favor intenta de nuevo."
)

// Enqueuer hands inbound messages to the conversation workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg conversation.InboundMessage) (string, error)
}

// Handler owns the live sockets and the per-session outbox used when the
// visitor is not connected.
type Handler struct {
	publisher Enqueuer
	logger    *logging.Logger
	widgetJS  []byte

	mu       sync.Mutex
	sessions map[string]*websocket.Conn
	outbox   map[string][]OutboundMessage
}

// ClientMessage is what the widget sends over the socket.
type ClientMessage struct {
	Type  string `json:"type"` // "message", "audio", "ping"
	Text  string `json:"text,omitempty"`
	Audio []byte `json:"audio,omitempty"`
}

// OutboundMessage is what the widget receives.
type OutboundMessage struct {
	Type      string `json:"type"` // "session", "message", "document", "typing", "pong", "error"
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Filename  string `json:"filename,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewHandler builds a handler. A nil widget serves the bundled script.
func NewHandler(publisher Enqueuer, widgetJS []byte, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if len(widgetJS) == 0 {
		widgetJS = defaultWidgetJS
	}
	return &Handler{
		publisher: publisher,
		logger:    logger,
		widgetJS:  widgetJS,
		sessions:  make(map[string]*websocket.Conn),
		outbox:    make(map[string][]OutboundMessage),
	}
}

// ConversationID is the session key the state machine sees for a browser
// session.
func ConversationID(sessionID string) string {
	return ConversationPrefix + sessionID
}

// IsConversation reports whether id belongs to this transport.
func IsConversation(id string) bool {
	return strings.HasPrefix(id, ConversationPrefix)
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(b)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// HandleWebSocket upgrades the request and serves one visitor.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	convID := ConversationID(sessionID)

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	h.mu.Lock()
	h.sessions[convID] = conn
	pending := h.outbox[convID]
	delete(h.outbox, convID)
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[convID] == conn {
			delete(h.sessions, convID)
		}
		h.mu.Unlock()
	}()
	for _, msg := range pending {
		_ = websocket.JSON.Send(conn, msg)
	}

	h.logger.Info("webchat: connection opened", "session_id", sessionID)
	for {
		var msg ClientMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "session_id", sessionID, "error", err)
			return
		}
		switch msg.Type {
		case "ping":
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
		case "message":
			if strings.TrimSpace(msg.Text) != "" {
				h.enqueue(r.Context(), conversation.InboundMessage{From: convID, Text: msg.Text})
			}
		case "audio":
			h.enqueue(r.Context(), conversation.InboundMessage{From: convID, IsAudio: true, Audio: msg.Audio})
		}
	}
}

func (h *Handler) enqueue(ctx context.Context, msg conversation.InboundMessage) bool {
	msg.ID = uuid.NewString()
	msg.Channel = conversation.ChannelWebChat
	h.Deliver(msg.From, OutboundMessage{Type: "typing"})
	if _, err := h.publisher.Enqueue(ctx, msg); err != nil {
		h.logger.Error("webchat: failed to enqueue message", "error", err, "conversation_id", msg.From)
		h.Deliver(msg.From, OutboundMessage{Type: "error", Text: msgEnqueueFailed, Timestamp: now()})
		return false
	}
	return true
}

// Deliver pushes msg to the live socket for convID, or keeps it in the
// outbox until the visitor reconnects or polls. Typing hints are never kept.
func (h *Handler) Deliver(convID string, msg OutboundMessage) {
	h.mu.Lock()
	conn, live := h.sessions[convID]
	h.mu.Unlock()
	if live {
		if err := websocket.JSON.Send(conn, msg); err == nil {
			return
		}
	}
	if msg.Type == "typing" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	box := append(h.outbox[convID], msg)
	if len(box) > maxOutbox {
		box = box[len(box)-maxOutbox:]
	}
	h.outbox[convID] = box
}

// HandleMessage is the HTTP fallback for sending a message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}
	if !h.enqueue(r.Context(), conversation.InboundMessage{From: ConversationID(req.SessionID), Text: req.Text}) {
		http.Error(w, "failed to queue message", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "session_id": req.SessionID})
}

// HandleReplies drains the outbox for a polling visitor.
func (h *Handler) HandleReplies(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	convID := ConversationID(sessionID)
	h.mu.Lock()
	msgs := h.outbox[convID]
	delete(h.outbox, convID)
	h.mu.Unlock()
	if msgs == nil {
		msgs = []OutboundMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleWidgetJS serves the embeddable widget script.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(h.widgetJS)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
