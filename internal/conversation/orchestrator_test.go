package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

type scriptedResult struct {
	text string
	err  error
}

// scriptedLLM returns queued results in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	name     string
	results  []scriptedResult
	requests []LLMRequest
}

func (s *scriptedLLM) Name() string { return s.name }

func (s *scriptedLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.results) == 0 {
		return LLMResponse{}, errors.New("no scripted result")
	}
	next := s.results[0]
	s.results = s.results[1:]
	if next.err != nil {
		return LLMResponse{}, next.err
	}
	return LLMResponse{Text: next.text, Provider: s.name}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func providerErr(name string, kind ErrorKind) error {
	return &ProviderError{Provider: name, Kind: kind, Err: errors.New(kind.String())}
}

func newTestOrchestrator(primary, secondary LLMClient, sleeps *[]time.Duration, opts ...OrchestratorOption) *Orchestrator {
	o := NewOrchestrator(primary, secondary, append([]OrchestratorOption{WithOrchestratorLogger(logging.New("error"))}, opts...)...)
	o.sleep = func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	return o
}

func TestOrchestratorRetriesOverloadThenSucceeds(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{
		{err: providerErr("gemini", KindOverload)},
		{text: "segunda respuesta"},
	}}
	secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{text: "no debería usarse"}}}
	var sleeps []time.Duration
	o := newTestOrchestrator(primary, secondary, &sleeps)

	text, err := o.Generate(context.Background(), "prompt", []ChatMessage{{Role: ChatRoleUser, Content: "hola"}})
	require.NoError(t, err)
	assert.Equal(t, "segunda respuesta", text)
	assert.Equal(t, 2, primary.calls())
	assert.Zero(t, secondary.calls())
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps)
}

func TestOrchestratorQuotaFailsOverImmediately(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{{err: providerErr("gemini", KindQuota)}}}
	secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{text: "respuesta secundaria"}}}
	var sleeps []time.Duration
	o := newTestOrchestrator(primary, secondary, &sleeps)

	text, err := o.Generate(context.Background(), "prompt", []ChatMessage{{Role: ChatRoleUser, Content: "hola"}})
	require.NoError(t, err)
	assert.Equal(t, "respuesta secundaria", text)
	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, 1, secondary.calls())
	assert.Empty(t, sleeps)
}

func TestOrchestratorAuthAndOtherFailOver(t *testing.T) {
	for _, kind := range []ErrorKind{KindAuth, KindOther} {
		t.Run(kind.String(), func(t *testing.T) {
			primary := &scriptedLLM{name: "gemini", results: []scriptedResult{{err: providerErr("gemini", kind)}}}
			secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{text: "ok"}}}
			o := newTestOrchestrator(primary, secondary, nil)

			_, err := o.Generate(context.Background(), "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
			require.NoError(t, err)
			assert.Equal(t, 1, primary.calls())
			assert.Equal(t, 1, secondary.calls())
		})
	}
}

func TestOrchestratorExhaustsRetriesThenFailsOver(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{
		{err: providerErr("gemini", KindOverload)},
		{err: providerErr("gemini", KindOverload)},
		{err: providerErr("gemini", KindOverload)},
	}}
	secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{text: "rescate"}}}
	var sleeps []time.Duration
	o := newTestOrchestrator(primary, secondary, &sleeps)

	text, err := o.Generate(context.Background(), "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "rescate", text)
	assert.Equal(t, 3, primary.calls())
	assert.Len(t, sleeps, 2)
}

func TestOrchestratorBothFail(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{{err: providerErr("gemini", KindAuth)}}}
	secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{err: providerErr("openrouter", KindOverload)}}}
	o := newTestOrchestrator(primary, secondary, nil)

	_, err := o.Generate(context.Background(), "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrAIUnavailable)
	assert.Equal(t, 1, secondary.calls(), "secondary is never retried")
}

func TestOrchestratorWithoutSecondary(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{{err: providerErr("gemini", KindQuota)}}}
	o := newTestOrchestrator(primary, nil, nil)

	_, err := o.Generate(context.Background(), "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrAIUnavailable)
}

func TestOrchestratorCustomPolicy(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{
		{err: providerErr("gemini", KindQuota)},
		{text: "ok"},
	}}
	o := newTestOrchestrator(primary, nil, nil, WithPolicy(map[ErrorKind]Decision{KindQuota: DecisionRetry}))

	text, err := o.Generate(context.Background(), "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestOrchestratorPassesPromptAndHistory(t *testing.T) {
	primary := &scriptedLLM{name: "gemini", results: []scriptedResult{{text: "ok"}}}
	o := newTestOrchestrator(primary, nil, nil)
	history := []ChatMessage{
		{Role: ChatRoleUser, Content: "hola"},
		{Role: ChatRoleAssistant, Content: "buenas"},
		{Role: ChatRoleUser, Content: "quiero una cita"},
	}

	_, err := o.Generate(context.Background(), "sistema", history)
	require.NoError(t, err)
	require.Len(t, primary.requests, 1)
	assert.Equal(t, []string{"sistema"}, primary.requests[0].System)
	assert.Equal(t, history, primary.requests[0].Messages)
	assert.InDelta(t, 0.2, primary.requests[0].Temperature, 0.0001)
}

type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, _ LLMRequest) (LLMResponse, error) {
	<-ctx.Done()
	return LLMResponse{}, ctx.Err()
}

func TestOrchestratorAttemptTimeoutCountsAsOverload(t *testing.T) {
	secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{text: "ok"}}}
	var sleeps []time.Duration
	o := newTestOrchestrator(blockingLLM{}, secondary, &sleeps, WithAttemptTimeout(5*time.Millisecond), WithPrimaryAttempts(2))

	text, err := o.Generate(context.Background(), "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, sleeps, 1)
}

func TestOrchestratorStopsWhenCallerCancels(t *testing.T) {
	secondary := &scriptedLLM{name: "openrouter", results: []scriptedResult{{text: "ok"}}}
	o := newTestOrchestrator(blockingLLM{}, secondary, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Generate(ctx, "", []ChatMessage{{Role: ChatRoleUser, Content: "x"}})
	require.ErrorIs(t, err, ErrAIUnavailable)
	assert.Zero(t, secondary.calls())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestOrchestratorBudget(t *testing.T) {
	primary := &scriptedLLM{name: "gemini"}
	o := NewOrchestrator(primary, nil, WithPrimaryAttempts(3), WithAttemptTimeout(30*time.Second), WithRetryDelay(2*time.Second))
	assert.Equal(t, 94*time.Second, o.Budget())

	o = NewOrchestrator(primary, &scriptedLLM{name: "openrouter"}, WithPrimaryAttempts(3), WithAttemptTimeout(30*time.Second), WithRetryDelay(2*time.Second))
	assert.Equal(t, 124*time.Second, o.Budget())
}
