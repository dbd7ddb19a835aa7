package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-intake/internal/scheduling"
)

// Channels an inbound message can arrive on.
const (
	ChannelGateway = "gateway"
	ChannelWebChat = "webchat"
)

// InboundMessage is one message delivered by a chat transport.
type InboundMessage struct {
	// ID is the transport's message id, used to drop redelivered messages.
	ID      string `json:"id,omitempty"`
	From    string `json:"from"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	IsAudio bool   `json:"is_audio,omitempty"`
	Audio   []byte `json:"audio,omitempty"`
}

// Document is a file attachment sent back to a user.
type Document struct {
	Bytes    []byte
	Filename string
	MIMEType string
}

// Messenger delivers outbound messages to a chat user.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
	SendDocument(ctx context.Context, to string, doc Document) error
}

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// EmergencyNotifier alerts clinic staff about a reported emergency.
type EmergencyNotifier interface {
	NotifyEmergency(ctx context.Context, rec scheduling.StoredRequest) error
}

// Deduper reports whether a transport message id is seen for the first time.
type Deduper interface {
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
}

// Generator produces the assistant's raw reply for a history.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []ChatMessage) (string, error)
}

// Allocator is the scheduling surface the executor needs.
type Allocator interface {
	Allocate(ctx context.Context, req scheduling.SlotRequest) (scheduling.AllocationResult, error)
	RecordEmergency(ctx context.Context, report scheduling.EmergencyReport) (scheduling.StoredRequest, error)
}

// RoutedMessenger sends each message through the transport that owns the
// recipient's conversation id prefix, falling back to a default transport.
type RoutedMessenger struct {
	fallback Messenger
	routes   []messengerRoute
}

type messengerRoute struct {
	prefix    string
	messenger Messenger
}

func NewRoutedMessenger(fallback Messenger) *RoutedMessenger {
	return &RoutedMessenger{fallback: fallback}
}

// Route registers m for conversation ids starting with prefix.
func (r *RoutedMessenger) Route(prefix string, m Messenger) *RoutedMessenger {
	r.routes = append(r.routes, messengerRoute{prefix: prefix, messenger: m})
	return r
}

func (r *RoutedMessenger) pick(to string) (Messenger, error) {
	for _, route := range r.routes {
		if strings.HasPrefix(to, route.prefix) {
			return route.messenger, nil
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("conversation: no transport for recipient %q", to)
	}
	return r.fallback, nil
}

func (r *RoutedMessenger) SendText(ctx context.Context, to, text string) error {
	m, err := r.pick(to)
	if err != nil {
		return err
	}
	return m.SendText(ctx, to, text)
}

func (r *RoutedMessenger) SendDocument(ctx context.Context, to string, doc Document) error {
	m, err := r.pick(to)
	if err != nil {
		return err
	}
	return m.SendDocument(ctx, to, doc)
}
