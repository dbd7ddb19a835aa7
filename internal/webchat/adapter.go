package webchat

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// ReplyMessenger sends the state machine's replies to browser sessions.
type ReplyMessenger struct {
	handler *Handler
	logger  *logging.Logger
}

var _ conversation.Messenger = (*ReplyMessenger)(nil)

func NewReplyMessenger(handler *Handler, logger *logging.Logger) *ReplyMessenger {
	if handler == nil {
		panic("webchat: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyMessenger{handler: handler, logger: logger}
}

func (m *ReplyMessenger) SendText(_ context.Context, to, text string) error {
	if !IsConversation(to) {
		return errors.New("webchat: recipient is not a web chat session")
	}
	m.handler.Deliver(to, OutboundMessage{Type: "message", Text: text, Timestamp: now()})
	m.logger.Debug("webchat: reply sent", "conversation_id", to, "length", len(text))
	return nil
}

func (m *ReplyMessenger) SendDocument(_ context.Context, to string, doc conversation.Document) error {
	if !IsConversation(to) {
		return errors.New("webchat: recipient is not a web chat session")
	}
	m.handler.Deliver(to, OutboundMessage{
		Type:      "document",
		Filename:  doc.Filename,
		MIMEType:  doc.MIMEType,
		Data:      doc.Bytes,
		Timestamp: now(),
	})
	return nil
}
