package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-intake/internal/api/router"
	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-intake/internal/http/middleware"
	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/internal/scheduling"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// turnOverhead covers transcription, allocation and delivery on top of the
// AI budget within one message deadline.
const turnOverhead = 20 * time.Second

// App is the fully wired intake service: HTTP surface, queue workers and
// the resources they hold.
type App struct {
	Handler   http.Handler
	Worker    *conversation.Worker
	Publisher *conversation.Publisher
	Machine   *conversation.Machine
	Engine    *scheduling.Engine

	closers []func()
}

// Close releases pools and clients. Call it after the workers have stopped.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// SetupMetrics registers the conversation metrics on a fresh registry
// together with the Go and process collectors.
func SetupMetrics() (http.Handler, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewConversationMetrics(reg)
}

// Build wires every component from cfg. Optional backends (Postgres, Redis,
// SQS, email, gateway, transcription) degrade to in-process fallbacks when
// unset; only an AI provider is mandatory.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{}
	aws := &awsLoader{cfg: cfg}
	loc := conversation.ClinicLocation(cfg.ClinicTimezone)
	metricsHandler, mm := SetupMetrics()
	healthChecks := map[string]router.HealthCheck{}

	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	// Persistence
	pool := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		app.closers = append(app.closers, pool.Close)
		healthChecks["postgres"] = pingPostgres(pool)
	} else if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return fail(fmt.Errorf("bootstrap: postgres unavailable"))
	}
	store := BuildSchedulingStore(pool, cfg, logger)
	app.Engine = scheduling.NewEngine(store,
		scheduling.WithLocation(loc),
		scheduling.WithCutoffHour(cfg.ServiceCutoffHour),
		scheduling.WithSearchWindow(cfg.SearchWindowDays),
		scheduling.WithInsertRetries(cfg.TurnInsertRetries),
		scheduling.WithLogger(logger.Component("scheduling")),
		scheduling.WithMetrics(mm),
	)

	// AI
	orchestrator, closeAI, err := buildOrchestrator(ctx, cfg, aws, logger, mm)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, closeAI)

	// Queue
	var newWorker func(conversation.InboundHandler) *conversation.Worker
	workerOpts := []conversation.WorkerOption{conversation.WithWorkerCount(cfg.WorkerCount)}
	workerLogger := logger.Component("worker")
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		if !cfg.UseMemoryQueue {
			logger.Warn("CONVERSATION_QUEUE_URL not set; falling back to the in-memory queue")
		}
		queue := conversation.NewMemoryQueue(0)
		app.Publisher = conversation.NewPublisher(queue, logger)
		newWorker = func(h conversation.InboundHandler) *conversation.Worker {
			return conversation.NewWorker(h, queue, workerLogger, workerOpts...)
		}
	} else {
		awsCfg, err := aws.get(ctx)
		if err != nil {
			return fail(fmt.Errorf("bootstrap: load aws config: %w", err))
		}
		queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL)
		app.Publisher = conversation.NewPublisher(queue, logger)
		newWorker = func(h conversation.InboundHandler) *conversation.Worker {
			return conversation.NewWorker(h, queue, workerLogger,
				append(workerOpts, conversation.WithReceiveWaitSeconds(20), conversation.WithReceiveBatchSize(10))...)
		}
	}

	// Transports
	transports, err := BuildTransports(cfg, app.Publisher, logger)
	if err != nil {
		return fail(err)
	}

	// Conversation
	opts := []conversation.MachineOption{
		conversation.WithEmergencyPhone(cfg.EmergencyPhone),
		conversation.WithMessageDeadline(messageDeadline(cfg.MessageDeadline, orchestrator.Budget())),
		conversation.WithClinicClock(loc, nil),
		conversation.WithMachineLogger(logger.Component("conversation")),
		conversation.WithMachineMetrics(mm),
	}
	if transcriber := BuildTranscriber(cfg, logger); transcriber != nil {
		opts = append(opts, conversation.WithTranscriber(transcriber))
	}
	if rdb := BuildRedisClient(ctx, cfg, logger, true); rdb != nil {
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		healthChecks["redis"] = pingRedis(rdb)
		opts = append(opts, conversation.WithDeduper(conversation.NewRedisDeduper(rdb, cfg.DedupeTTL)))
	}
	email := BuildEmailSender(ctx, cfg, aws, logger)
	if alerter := BuildEmergencyAlerter(cfg, email, transports.Gateway, loc, logger.Component("emergency")); alerter != nil {
		opts = append(opts, conversation.WithEmergencyNotifier(alerter))
	}
	app.Machine = conversation.NewMachine(conversation.NewMemorySessionStore(), orchestrator, app.Engine, transports.Messenger, opts...)
	app.Worker = newWorker(app.Machine)

	// HTTP
	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
		app.closers = append(app.closers, limiter.Stop)
	}
	app.Handler = router.New(&router.Config{
		Logger:             logger.Component("http"),
		GatewayWebhooks:    transports.Webhooks,
		WebChat:            transports.WebChat,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		HealthChecks:       healthChecks,
	})
	return app, nil
}

func pingPostgres(pool *pgxpool.Pool) router.HealthCheck {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func pingRedis(client *redis.Client) router.HealthCheck {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// messageDeadline never lets a turn expire before the AI providers have had
// their full budget, so the fallback menu is reached with time to deliver it.
func messageDeadline(configured, aiBudget time.Duration) time.Duration {
	floor := aiBudget + turnOverhead
	if configured <= 0 || configured >= floor {
		return configured
	}
	return floor
}
