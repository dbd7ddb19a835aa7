package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	DedupeTTL      time.Duration

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	ConversationQueueURL string

	// AI providers
	GeminiAPIKey         string
	GeminiModel          string
	SecondaryAIProvider  string
	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterModel      string
	BedrockModelID       string
	AIPrimaryMaxAttempts int
	AIRetryDelay         time.Duration
	AIAttemptTimeout     time.Duration
	MessageDeadline      time.Duration

	// Transcription
	OpenAIAPIKey         string
	TranscriptionModel   string
	TranscriptionBaseURL string
	HuggingFaceToken     string
	HuggingFaceASRURL    string

	// Scheduling
	ClinicTimezone            string
	ServiceCutoffHour         int
	SearchWindowDays          int
	CapacityConsulta          int
	CapacityConsultaWednesday int
	CapacityReembolso         int
	TurnInsertRetries         int

	// Emergencies
	EmergencyPhone      string
	EmergencyAlertEmail string
	EmergencyAlertChat  string

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	// Chat gateway transport
	GatewayOutboundURL   string
	GatewayAPIKey        string
	GatewayWebhookSecret string

	// HTTP surface
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 4),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		DedupeTTL:      getEnvAsDuration("DEDUPE_TTL", 24*time.Hour),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),

		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-flash-latest"),
		SecondaryAIProvider:  strings.ToLower(strings.TrimSpace(getEnv("AI_SECONDARY_PROVIDER", "openrouter"))),
		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:      getEnv("OPENROUTER_MODEL", "nvidia/nemotron-nano-12b-v2-vl:free"),
		BedrockModelID:       getEnv("BEDROCK_MODEL_ID", ""),
		AIPrimaryMaxAttempts: getEnvAsInt("AI_PRIMARY_MAX_ATTEMPTS", 3),
		AIRetryDelay:         getEnvAsDuration("AI_RETRY_DELAY", 2*time.Second),
		AIAttemptTimeout:     getEnvAsDuration("AI_ATTEMPT_TIMEOUT", 30*time.Second),
		MessageDeadline:      getEnvAsDuration("MESSAGE_DEADLINE", 150*time.Second),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		TranscriptionModel:   getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
		TranscriptionBaseURL: getEnv("TRANSCRIPTION_BASE_URL", ""),
		HuggingFaceToken:     getEnv("HUGGINGFACE_TOKEN", ""),
		HuggingFaceASRURL:    getEnv("HUGGINGFACE_ASR_URL", ""),

		ClinicTimezone:            getEnv("CLINIC_TIMEZONE", "America/Caracas"),
		ServiceCutoffHour:         getEnvAsInt("SERVICE_CUTOFF_HOUR", 14),
		SearchWindowDays:          getEnvAsInt("SEARCH_WINDOW_DAYS", 7),
		CapacityConsulta:          getEnvAsInt("CAPACITY_CONSULTA", 20),
		CapacityConsultaWednesday: getEnvAsInt("CAPACITY_CONSULTA_WEDNESDAY", 10),
		CapacityReembolso:         getEnvAsInt("CAPACITY_REEMBOLSO", 15),
		TurnInsertRetries:         getEnvAsInt("TURN_INSERT_RETRIES", 5),

		EmergencyPhone:      getEnv("EMERGENCY_PHONE", "0265-8053063"),
		EmergencyAlertEmail: getEnv("EMERGENCY_ALERT_EMAIL", ""),
		EmergencyAlertChat:  getEnv("EMERGENCY_ALERT_CHAT", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Asistente Virtual Clínica"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		GatewayOutboundURL:   getEnv("GATEWAY_OUTBOUND_URL", ""),
		GatewayAPIKey:        getEnv("GATEWAY_API_KEY", ""),
		GatewayWebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// getEnvAsList splits a comma-separated variable, dropping blank entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
