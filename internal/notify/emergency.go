// Package notify alerts clinic staff when a patient reports an emergency.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/clinic-intake/internal/scheduling"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// ChatSender pushes a text to a staff chat, for example a WhatsApp group
// reachable through the gateway.
type ChatSender interface {
	SendText(ctx context.Context, to, text string) error
}

// EmergencyAlerter fans an emergency out to the configured staff channels.
// Each channel is attempted even if another fails.
type EmergencyAlerter struct {
	email   EmailSender
	emailTo string
	chat    ChatSender
	chatTo  string
	loc     *time.Location
	logger  *logging.Logger
}

type EmergencyAlerterConfig struct {
	Email    EmailSender
	EmailTo  string
	Chat     ChatSender
	ChatTo   string
	Location *time.Location
	Logger   *logging.Logger
}

func NewEmergencyAlerter(cfg EmergencyAlerterConfig) *EmergencyAlerter {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &EmergencyAlerter{
		email:   cfg.Email,
		emailTo: strings.TrimSpace(cfg.EmailTo),
		chat:    cfg.Chat,
		chatTo:  strings.TrimSpace(cfg.ChatTo),
		loc:     cfg.Location,
		logger:  cfg.Logger,
	}
}

// Enabled reports whether any staff channel is configured.
func (a *EmergencyAlerter) Enabled() bool {
	return (a.email != nil && a.emailTo != "") || (a.chat != nil && a.chatTo != "")
}

func (a *EmergencyAlerter) NotifyEmergency(ctx context.Context, rec scheduling.StoredRequest) error {
	var errs []error
	if a.email != nil && a.emailTo != "" {
		if err := a.email.Send(ctx, EmailMessage{
			To:      a.emailTo,
			Subject: fmt.Sprintf("🚨 Emergencia reportada (%s)", rec.TurnNumber),
			Body:    a.formatBody(rec),
			HTML:    a.formatHTML(rec),
		}); err != nil {
			errs = append(errs, err)
		}
	}
	if a.chat != nil && a.chatTo != "" {
		if err := a.chat.SendText(ctx, a.chatTo, "🚨 *Emergencia reportada*\n"+a.formatBody(rec)); err != nil {
			errs = append(errs, fmt.Errorf("notify: staff chat: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Info("emergency alert sent", "turn", rec.TurnNumber, "conversation_id", rec.ConversationID)
	return nil
}

func (a *EmergencyAlerter) reportedAt(rec scheduling.StoredRequest) string {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return at.In(a.loc).Format("02/01/2006 15:04")
}

func (a *EmergencyAlerter) formatBody(rec scheduling.StoredRequest) string {
	return fmt.Sprintf("Registro: %s\nHora: %s\nMotivo: %s\nConversación: %s",
		rec.TurnNumber, a.reportedAt(rec), rec.Motive, rec.ConversationID)
}

func (a *EmergencyAlerter) formatHTML(rec scheduling.StoredRequest) string {
	return fmt.Sprintf("<h2>Emergencia reportada</h2><p><strong>Registro:</strong> %s<br><strong>Hora:</strong> %s<br><strong>Motivo:</strong> %s<br><strong>Conversación:</strong> %s</p>",
		html.EscapeString(rec.TurnNumber), a.reportedAt(rec), html.EscapeString(rec.Motive), html.EscapeString(rec.ConversationID))
}
