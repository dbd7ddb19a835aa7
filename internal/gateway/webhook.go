package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

const (
	headerTimestamp = "X-Gateway-Timestamp"
	headerSignature = "X-Gateway-Signature"
	maxWebhookBody  = 1 << 20
)

type signatureVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

type mediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, error)
}

// Enqueuer hands inbound messages to the conversation workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg conversation.InboundMessage) (string, error)
}

// WebhookHandler accepts inbound message events from the gateway. It only
// validates and queues; the conversation itself runs on the workers.
type WebhookHandler struct {
	verifier  signatureVerifier
	media     mediaDownloader
	publisher Enqueuer
	logger    *logging.Logger
}

type WebhookConfig struct {
	Verifier  signatureVerifier
	Media     mediaDownloader
	Publisher Enqueuer
	Logger    *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Publisher == nil {
		panic("gateway: publisher cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		verifier:  cfg.Verifier,
		media:     cfg.Media,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}

type webhookEvent struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data webhookMessage `json:"data"`
}

type webhookMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	FromMe    bool   `json:"from_me"`
	Kind      string `json:"kind"` // "text", "audio"
	Text      string `json:"text"`
	MediaID   string `json:"media_id"`
}

// HandleMessages processes POST /webhooks/gateway.
func (h *WebhookHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if h.verifier != nil {
		if err := h.verifier.VerifyWebhookSignature(r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body); err != nil {
			h.logger.Warn("invalid gateway webhook signature", "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if evt.Type != "message.received" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	msg, ok := h.toInbound(r.Context(), evt)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, err := h.publisher.Enqueue(r.Context(), msg); err != nil {
		h.logger.Error("failed to enqueue gateway message", "error", err, "message_id", msg.ID)
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// toInbound drops echoes of our own messages, group chats and status
// broadcasts.
func (h *WebhookHandler) toInbound(ctx context.Context, evt webhookEvent) (conversation.InboundMessage, bool) {
	data := evt.Data
	from := strings.TrimSpace(data.From)
	if data.FromMe || from == "" || from == "status@broadcast" || strings.HasSuffix(from, "@g.us") {
		return conversation.InboundMessage{}, false
	}
	id := data.MessageID
	if id == "" {
		id = evt.ID
	}
	msg := conversation.InboundMessage{ID: id, From: from, Channel: conversation.ChannelGateway}

	switch data.Kind {
	case "audio":
		msg.IsAudio = true
		msg.Audio = h.download(ctx, data.MediaID, id)
	case "text", "":
		msg.Text = data.Text
		if strings.TrimSpace(msg.Text) == "" {
			return conversation.InboundMessage{}, false
		}
	default:
		h.logger.Debug("ignoring unsupported gateway message", "kind", data.Kind, "message_id", id)
		return conversation.InboundMessage{}, false
	}
	return msg, true
}

// download returns nil on failure; the conversation then asks the user to
// resend.
func (h *WebhookHandler) download(ctx context.Context, mediaID, messageID string) []byte {
	if h.media == nil {
		h.logger.Warn("voice note received without a media downloader", "message_id", messageID)
		return nil
	}
	audio, err := h.media.DownloadMedia(ctx, mediaID)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			h.logger.Warn("gateway rejected media download", "status", apiErr.StatusCode, "message_id", messageID)
		} else {
			h.logger.Warn("media download failed", "error", err, "message_id", messageID)
		}
		return nil
	}
	return audio
}
