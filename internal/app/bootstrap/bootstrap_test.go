package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/notify"
	"github.com/wolfman30/clinic-intake/internal/scheduling"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

func baseConfig() *appconfig.Config {
	return &appconfig.Config{
		UseMemoryQueue:            true,
		WorkerCount:               2,
		ClinicTimezone:            "America/Caracas",
		ServiceCutoffHour:         14,
		SearchWindowDays:          7,
		CapacityConsulta:          20,
		CapacityConsultaWednesday: 10,
		CapacityReembolso:         15,
		TurnInsertRetries:         5,
		AIPrimaryMaxAttempts:      1,
		AIRetryDelay:              time.Millisecond,
		AIAttemptTimeout:          5 * time.Second,
		MessageDeadline:           10 * time.Second,
		SecondaryAIProvider:       "openrouter",
		EmergencyPhone:            "0265-8053063",
	}
}

// fakeOpenRouter answers every chat completion with reply.
func fakeOpenRouter(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildRequiresAnAIProvider(t *testing.T) {
	_, err := Build(context.Background(), baseConfig(), logging.New("error"))
	assert.True(t, errors.Is(err, ErrNoAIProvider), "got %v", err)

	_, err = Build(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownSecondary(t *testing.T) {
	cfg := baseConfig()
	cfg.SecondaryAIProvider = "cohere"
	_, err := Build(context.Background(), cfg, logging.New("error"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cohere")
}

func TestBuildServesWebChatTurnEndToEnd(t *testing.T) {
	ai := fakeOpenRouter(t, "¡Hola! ¿Deseas agendar una consulta o solicitar un reembolso?")
	cfg := baseConfig()
	cfg.OpenRouterAPIKey = "or-key"
	cfg.OpenRouterBaseURL = ai.URL

	app, err := Build(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.Worker.Start(ctx)

	rr := httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(`{"session_id":"e2e","text":"hola"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	var replies []string
	require.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/replies?session=e2e", nil))
		var resp struct {
			Messages []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"messages"`
		}
		if json.Unmarshal(rr.Body.Bytes(), &resp) != nil {
			return false
		}
		for _, m := range resp.Messages {
			if m.Type == "message" {
				replies = append(replies, m.Text)
			}
		}
		return len(replies) > 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "¡Hola! ¿Deseas agendar una consulta o solicitar un reembolso?", replies[0])

	cancel()
	app.Worker.Wait()

	rr = httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "clinic_conversation_inbound_total")
}

func TestBuildWithoutGatewayHasNoWebhookRoute(t *testing.T) {
	ai := fakeOpenRouter(t, "hola")
	cfg := baseConfig()
	cfg.OpenRouterAPIKey = "or-key"
	cfg.OpenRouterBaseURL = ai.URL

	app, err := Build(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	defer app.Close()

	rr := httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildTransportsWithGateway(t *testing.T) {
	cfg := baseConfig()
	cfg.GatewayOutboundURL = "http://gateway.local"
	cfg.GatewayWebhookSecret = "s3cret"

	ai := fakeOpenRouter(t, "hola")
	cfg.OpenRouterAPIKey = "or-key"
	cfg.OpenRouterBaseURL = ai.URL
	app, err := Build(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	defer app.Close()

	// Unsigned webhooks are rejected once a secret is configured.
	rr := httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{"type":"message.received"}`)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestConfiguredLimits(t *testing.T) {
	cfg := baseConfig()
	cfg.CapacityConsultaWednesday = 3
	limits := configuredLimits(cfg)
	assert.Equal(t, scheduling.Limits{"consulta": 20, "consulta_miercoles": 3, "reembolso": 15}, limits)
	assert.Equal(t, scheduling.DefaultLimits(), configuredLimits(nil))
}

func TestBuildTranscriber(t *testing.T) {
	cfg := baseConfig()
	assert.Nil(t, BuildTranscriber(cfg, logging.New("error")))

	cfg.OpenAIAPIKey = "sk-test"
	cfg.HuggingFaceToken = "hf-test"
	chain := BuildTranscriber(cfg, logging.New("error"))
	require.NotNil(t, chain)
	assert.Equal(t, 2, chain.Len())
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	cfg := baseConfig()
	cfg.EmailProvider = "sendgrid"
	sender := BuildEmailSender(context.Background(), cfg, &awsLoader{cfg: cfg}, logging.New("error"))
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	cfg.SendGridAPIKey = "SG.test"
	sender = BuildEmailSender(context.Background(), cfg, &awsLoader{cfg: cfg}, logging.New("error"))
	assert.IsType(t, &notify.SendGridSender{}, sender)
}

func TestBuildEmergencyAlerter(t *testing.T) {
	cfg := baseConfig()
	logger := logging.New("error")
	email := notify.NewStubEmailSender(logger)
	assert.Nil(t, BuildEmergencyAlerter(cfg, email, nil, nil, logger))

	cfg.EmergencyAlertChat = "584140000000"
	assert.Nil(t, BuildEmergencyAlerter(cfg, email, nil, nil, logger), "chat alerts need a gateway")

	cfg.EmergencyAlertEmail = "guardia@clinica.example"
	alerter := BuildEmergencyAlerter(cfg, email, nil, nil, logger)
	require.NotNil(t, alerter)
	assert.True(t, alerter.Enabled())
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, ConnectPostgresPool(context.Background(), "", logging.New("error")))
}

func TestBuildRedisClientDisabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), baseConfig(), logging.New("error"), true))
}

func TestMessageDeadlineCoversAIBudget(t *testing.T) {
	assert.Equal(t, 144*time.Second, messageDeadline(90*time.Second, 124*time.Second))
	assert.Equal(t, 150*time.Second, messageDeadline(150*time.Second, 124*time.Second))
	assert.Zero(t, messageDeadline(0, 124*time.Second))
}
