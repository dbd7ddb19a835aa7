package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/internal/gateway"
	"github.com/wolfman30/clinic-intake/internal/notify"
	"github.com/wolfman30/clinic-intake/internal/webchat"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// Transports groups the inbound handlers and the outbound messenger that
// routes replies back to whichever transport owns the conversation.
type Transports struct {
	Gateway   *gateway.Client
	Webhooks  *gateway.WebhookHandler
	WebChat   *webchat.Handler
	Messenger *conversation.RoutedMessenger
}

// BuildTransports wires the chat gateway (when GATEWAY_OUTBOUND_URL is set)
// and the web chat. Gateway webhooks are only verified when a secret is set.
func BuildTransports(cfg *appconfig.Config, publisher *conversation.Publisher, logger *logging.Logger) (*Transports, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("bootstrap: publisher is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	t := &Transports{
		WebChat: webchat.NewHandler(publisher, nil, logger.Component("webchat")),
	}

	var fallback conversation.Messenger
	if strings.TrimSpace(cfg.GatewayOutboundURL) != "" {
		client, err := gateway.New(gateway.Config{
			BaseURL:       cfg.GatewayOutboundURL,
			APIKey:        cfg.GatewayAPIKey,
			WebhookSecret: cfg.GatewayWebhookSecret,
			MaxRetries:    2,
			Logger:        logger.Component("gateway"),
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gateway client: %w", err)
		}
		t.Gateway = client
		fallback = client

		webhookCfg := gateway.WebhookConfig{
			Media:     client,
			Publisher: publisher,
			Logger:    logger.Component("gateway"),
		}
		if strings.TrimSpace(cfg.GatewayWebhookSecret) != "" {
			webhookCfg.Verifier = client
		} else {
			logger.Warn("GATEWAY_WEBHOOK_SECRET not set; gateway webhooks are not verified")
		}
		t.Webhooks = gateway.NewWebhookHandler(webhookCfg)
	} else {
		logger.Warn("GATEWAY_OUTBOUND_URL not set; only the web chat is available")
	}

	t.Messenger = conversation.NewRoutedMessenger(fallback).
		Route(webchat.ConversationPrefix, webchat.NewReplyMessenger(t.WebChat, logger.Component("webchat")))
	return t, nil
}

// BuildEmailSender selects SendGrid or SES from EMAIL_PROVIDER. A stub that
// only logs is returned when the selected provider is not configured.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, aws *awsLoader, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "ses":
		if strings.TrimSpace(cfg.SESFromEmail) == "" {
			break
		}
		awsCfg, err := aws.get(ctx)
		if err != nil {
			logger.Error("ses disabled: failed to load aws config", "error", err)
			break
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger.Component("email"))
	default:
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger.Component("email")); sender != nil {
			return sender
		}
	}
	logger.Warn("email provider not configured; emergency emails will only be logged", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger.Component("email"))
}

// BuildEmergencyAlerter returns nil when no staff channel is configured.
// Staff chat alerts go out through the gateway, so they need one.
func BuildEmergencyAlerter(cfg *appconfig.Config, email notify.EmailSender, gw *gateway.Client, loc *time.Location, logger *logging.Logger) *notify.EmergencyAlerter {
	alertCfg := notify.EmergencyAlerterConfig{
		Email:    email,
		EmailTo:  cfg.EmergencyAlertEmail,
		ChatTo:   cfg.EmergencyAlertChat,
		Location: loc,
		Logger:   logger,
	}
	if gw != nil {
		alertCfg.Chat = gw
	} else if strings.TrimSpace(cfg.EmergencyAlertChat) != "" {
		logger.Warn("EMERGENCY_ALERT_CHAT set without a gateway; staff chat alerts disabled")
	}
	alerter := notify.NewEmergencyAlerter(alertCfg)
	if !alerter.Enabled() {
		return nil
	}
	return alerter
}
