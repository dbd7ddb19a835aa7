package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/conversation"
	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/internal/transcription"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// ErrNoAIProvider is returned when neither the primary nor the secondary
// provider has credentials.
var ErrNoAIProvider = errors.New("bootstrap: no ai provider configured")

// BuildOrchestrator is buildOrchestrator with its own AWS config loader, for
// binaries that only need the AI stack.
func BuildOrchestrator(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, mm *metrics.ConversationMetrics) (*conversation.Orchestrator, func(), error) {
	return buildOrchestrator(ctx, cfg, &awsLoader{cfg: cfg}, logger, mm)
}

// buildOrchestrator wires Gemini as the primary provider and OpenRouter or
// Bedrock as the secondary. When Gemini has no key the secondary is promoted
// and the orchestrator runs without failover. The returned cleanup closes
// the Gemini client.
func buildOrchestrator(ctx context.Context, cfg *appconfig.Config, aws *awsLoader, logger *logging.Logger, mm *metrics.ConversationMetrics) (*conversation.Orchestrator, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cleanup := func() {}

	var primary conversation.LLMClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini: %w", err)
		}
		primary = gemini
		cleanup = func() { _ = gemini.Close() }
	}

	secondary, err := buildSecondaryProvider(ctx, cfg, aws)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if primary == nil {
		if secondary == nil {
			return nil, nil, ErrNoAIProvider
		}
		logger.Warn("GEMINI_API_KEY not set; secondary provider promoted to primary", "provider", secondary.Name())
		primary, secondary = secondary, nil
	}

	opts := []conversation.OrchestratorOption{
		conversation.WithPrimaryAttempts(cfg.AIPrimaryMaxAttempts),
		conversation.WithRetryDelay(cfg.AIRetryDelay),
		conversation.WithAttemptTimeout(cfg.AIAttemptTimeout),
		conversation.WithOrchestratorLogger(logger.Component("orchestrator")),
		conversation.WithOrchestratorMetrics(mm),
	}
	secondaryName := "none"
	if secondary != nil {
		secondaryName = secondary.Name()
	} else {
		logger.Warn("no secondary ai provider configured; failover disabled")
	}
	logger.Info("ai providers configured", "primary", primary.Name(), "secondary", secondaryName)
	return conversation.NewOrchestrator(primary, secondary, opts...), cleanup, nil
}

// buildSecondaryProvider returns nil, nil when the selected provider has no
// credentials.
func buildSecondaryProvider(ctx context.Context, cfg *appconfig.Config, aws *awsLoader) (conversation.LLMClient, error) {
	switch cfg.SecondaryAIProvider {
	case "", "none":
		return nil, nil
	case "openrouter":
		if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
			return nil, nil
		}
		client, err := conversation.NewOpenRouterLLMClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: openrouter: %w", err)
		}
		return client, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, nil
		}
		awsCfg, err := aws.get(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown AI_SECONDARY_PROVIDER %q", cfg.SecondaryAIProvider)
	}
}

// BuildTranscriber chains the hosted Hugging Face model ahead of Whisper.
// It returns nil when neither is configured, so voice notes get the
// "could not process audio" reply.
func BuildTranscriber(cfg *appconfig.Config, logger *logging.Logger) *transcription.Chain {
	if logger == nil {
		logger = logging.Default()
	}
	var providers []transcription.Provider
	if strings.TrimSpace(cfg.HuggingFaceToken) != "" {
		hf, err := transcription.NewHuggingFaceTranscriber(cfg.HuggingFaceToken, cfg.HuggingFaceASRURL, nil)
		if err != nil {
			logger.Warn("huggingface transcriber disabled", "error", err)
		} else {
			providers = append(providers, hf)
		}
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		whisper, err := transcription.NewWhisperTranscriber(cfg.OpenAIAPIKey, cfg.TranscriptionBaseURL, cfg.TranscriptionModel)
		if err != nil {
			logger.Warn("whisper transcriber disabled", "error", err)
		} else {
			providers = append(providers, whisper)
		}
	}
	if len(providers) == 0 {
		logger.Warn("no transcription provider configured; voice notes will be declined")
		return nil
	}
	return transcription.NewChain(logger.Component("transcription"), providers...)
}
