package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

const (
	defaultPrimaryAttempts = 3
	defaultRetryDelay      = 2 * time.Second
	defaultAttemptTimeout  = 30 * time.Second
	defaultTemperature     = 0.2
)

// Orchestrator calls the primary provider with bounded retries and fails
// over to the secondary provider at most once.
type Orchestrator struct {
	primary        LLMClient
	secondary      LLMClient
	maxAttempts    int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	temperature    float32
	policy         map[ErrorKind]Decision
	logger         *logging.Logger
	metrics        *metrics.ConversationMetrics
	sleep          func(ctx context.Context, d time.Duration) error
}

var _ LLMClient = (*Orchestrator)(nil)

type OrchestratorOption func(*Orchestrator)

func WithPrimaryAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.retryDelay = d
		}
	}
}

func WithAttemptTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithPolicy replaces the error kind policy table. Kinds missing from the
// table fail over.
func WithPolicy(policy map[ErrorKind]Decision) OrchestratorOption {
	return func(o *Orchestrator) {
		if policy != nil {
			o.policy = policy
		}
	}
}

func WithOrchestratorLogger(logger *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithOrchestratorMetrics(m *metrics.ConversationMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator wires a primary provider and an optional secondary.
func NewOrchestrator(primary, secondary LLMClient, opts ...OrchestratorOption) *Orchestrator {
	if primary == nil {
		panic("conversation: primary llm client cannot be nil")
	}
	o := &Orchestrator{
		primary:        primary,
		secondary:      secondary,
		maxAttempts:    defaultPrimaryAttempts,
		retryDelay:     defaultRetryDelay,
		attemptTimeout: defaultAttemptTimeout,
		temperature:    defaultTemperature,
		policy:         DefaultPolicy(),
		logger:         logging.Default(),
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs one AI turn over the full history.
func (o *Orchestrator) Generate(ctx context.Context, systemPrompt string, history []ChatMessage) (string, error) {
	resp, err := o.Complete(ctx, LLMRequest{
		System:      []string{systemPrompt},
		Messages:    history,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Complete implements LLMClient. Any failure it returns wraps ErrAIUnavailable.
func (o *Orchestrator) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	primaryName := providerName(o.primary)
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		resp, err := o.attempt(ctx, o.primary, req)
		if err == nil {
			o.metrics.ObserveAIAttempt(primaryName, "success")
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return LLMResponse{}, fmt.Errorf("%w: %v", ErrAIUnavailable, ctx.Err())
		}

		kind := KindOf(err)
		o.metrics.ObserveAIAttempt(primaryName, kind.String())
		decision, ok := o.policy[kind]
		if !ok {
			decision = DecisionFailover
		}
		o.logger.Warn("primary llm attempt failed",
			"provider", primaryName,
			"attempt", attempt,
			"kind", kind.String(),
			"error", err,
		)
		if decision != DecisionRetry || attempt == o.maxAttempts {
			break
		}
		if err := o.sleep(ctx, o.retryDelay); err != nil {
			return LLMResponse{}, fmt.Errorf("%w: %v", ErrAIUnavailable, err)
		}
	}

	if o.secondary == nil {
		o.metrics.ObserveAIUnavailable()
		return LLMResponse{}, fmt.Errorf("%w: %v", ErrAIUnavailable, lastErr)
	}

	secondaryName := providerName(o.secondary)
	o.metrics.ObserveFailover()
	o.logger.Info("failing over to secondary llm", "provider", secondaryName)
	resp, err := o.attempt(ctx, o.secondary, req)
	if err != nil {
		o.metrics.ObserveAIAttempt(secondaryName, KindOf(err).String())
		o.metrics.ObserveAIUnavailable()
		o.logger.Error("secondary llm failed", "provider", secondaryName, "error", err, "primary_error", lastErr)
		return LLMResponse{}, fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	o.metrics.ObserveAIAttempt(secondaryName, "success")
	return resp, nil
}

// Budget is the longest Complete can run: every primary attempt with its
// retry delays, then one secondary attempt.
func (o *Orchestrator) Budget() time.Duration {
	budget := time.Duration(o.maxAttempts)*o.attemptTimeout + time.Duration(o.maxAttempts-1)*o.retryDelay
	if o.secondary != nil {
		budget += o.attemptTimeout
	}
	return budget
}

func (o *Orchestrator) attempt(ctx context.Context, client LLMClient, req LLMRequest) (LLMResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()
	return client.Complete(attemptCtx, req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
