package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/internal/textnorm"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

const (
	defaultEmergencyPhone  = "0265-8053063"
	defaultMessageDeadline = 150 * time.Second
	deliveryTimeout        = 10 * time.Second
	menuEmergencyMotive    = "Emergencia seleccionada en el menú de respaldo"
)

var closingWords = []string{"no", "gracias", "listo"}

// Machine drives each session through the intake flow. Turns for one
// session run one at a time; distinct sessions run in parallel.
type Machine struct {
	sessions    SessionStore
	locks       *KeyedMutex
	ai          Generator
	allocator   Allocator
	messenger   Messenger
	transcriber Transcriber
	deduper     Deduper
	notifier    EmergencyNotifier

	systemPrompt   string
	emergencyPhone string
	deadline       time.Duration
	loc            *time.Location
	now            func() time.Time

	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
}

type MachineOption func(*Machine)

func WithTranscriber(t Transcriber) MachineOption {
	return func(m *Machine) { m.transcriber = t }
}

func WithDeduper(d Deduper) MachineOption {
	return func(m *Machine) { m.deduper = d }
}

func WithEmergencyNotifier(n EmergencyNotifier) MachineOption {
	return func(m *Machine) { m.notifier = n }
}

func WithSystemPrompt(prompt string) MachineOption {
	return func(m *Machine) {
		if strings.TrimSpace(prompt) != "" {
			m.systemPrompt = prompt
		}
	}
}

func WithEmergencyPhone(phone string) MachineOption {
	return func(m *Machine) {
		if strings.TrimSpace(phone) != "" {
			m.emergencyPhone = phone
		}
	}
}

// WithMessageDeadline bounds the handling of one inbound message. Zero
// disables the deadline.
func WithMessageDeadline(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d >= 0 {
			m.deadline = d
		}
	}
}

// WithClinicClock sets the clinic time zone and clock used for
// registration times shown to patients.
func WithClinicClock(loc *time.Location, now func() time.Time) MachineOption {
	return func(m *Machine) {
		if loc != nil {
			m.loc = loc
		}
		if now != nil {
			m.now = now
		}
	}
}

func WithMachineLogger(logger *logging.Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMachineMetrics(mm *metrics.ConversationMetrics) MachineOption {
	return func(m *Machine) { m.metrics = mm }
}

func NewMachine(sessions SessionStore, ai Generator, allocator Allocator, messenger Messenger, opts ...MachineOption) *Machine {
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if ai == nil {
		panic("conversation: ai generator cannot be nil")
	}
	if allocator == nil {
		panic("conversation: allocator cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	m := &Machine{
		sessions:       sessions,
		locks:          NewKeyedMutex(),
		ai:             ai,
		allocator:      allocator,
		messenger:      messenger,
		systemPrompt:   defaultSystemPrompt,
		emergencyPhone: defaultEmergencyPhone,
		deadline:       defaultMessageDeadline,
		loc:            time.UTC,
		now:            time.Now,
		logger:         logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleInbound processes one inbound message to completion.
func (m *Machine) HandleInbound(ctx context.Context, msg InboundMessage) error {
	if strings.TrimSpace(msg.From) == "" {
		return errors.New("conversation: inbound message without sender")
	}
	if m.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.deadline)
		defer cancel()
	}

	if msg.ID != "" && m.deduper != nil {
		first, err := m.deduper.FirstDelivery(ctx, msg.ID)
		if err != nil {
			m.logger.Warn("dedupe check failed, processing anyway", "message_id", msg.ID, "error", err)
		} else if !first {
			m.logger.Debug("dropping duplicate delivery", "message_id", msg.ID)
			m.metrics.ObserveInbound(msg.Channel, "duplicate")
			return nil
		}
	}
	m.metrics.ObserveInbound(msg.Channel, "accepted")

	unlock := m.locks.Lock(msg.From)
	defer unlock()

	started := time.Now()
	session, err := m.loadSession(ctx, msg.From)
	if err != nil {
		return err
	}
	step := session.Step
	defer func() {
		m.metrics.ObserveTurnLatency(string(step), time.Since(started).Seconds())
	}()

	text := strings.TrimSpace(msg.Text)
	if msg.IsAudio {
		transcript, ok := m.transcribe(ctx, msg)
		if !ok {
			return nil
		}
		text = transcript
	}

	if strings.EqualFold(text, restartCommand) {
		return m.startMenu(ctx, newSession(msg.From), prefixRestart)
	}

	switch session.Step {
	case StepAwaitingFinalConfirmation:
		if textnorm.ContainsWord(text, closingWords...) {
			if err := m.sessions.Delete(ctx, session.ID); err != nil {
				m.logger.Error("failed to clear session", "conversation_id", session.ID, "error", err)
			}
			return m.send(ctx, session.ID, msgClosing)
		}
		session = newSession(msg.From)
	case StepMenuFallback:
		return m.handleMenu(ctx, session, text)
	}

	if text == "" {
		return nil
	}
	return m.runAI(ctx, session, text)
}

func (m *Machine) loadSession(ctx context.Context, id string) (*Session, error) {
	session, ok, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}
	if !ok {
		return newSession(id), nil
	}
	return session, nil
}

func (m *Machine) save(ctx context.Context, session *Session) {
	ctx, cancel := deliveryContext(ctx)
	defer cancel()
	session.UpdatedAt = m.now()
	if err := m.sessions.Put(ctx, session); err != nil {
		m.logger.Error("failed to save session", "conversation_id", session.ID, "error", err)
	}
}

func (m *Machine) clear(ctx context.Context, id string) {
	ctx, cancel := deliveryContext(ctx)
	defer cancel()
	if err := m.sessions.Delete(ctx, id); err != nil {
		m.logger.Error("failed to clear session", "conversation_id", id, "error", err)
	}
}

// transcribe returns the voice note's text, or false after telling the user
// why it could not be used. History is left untouched on failure.
func (m *Machine) transcribe(ctx context.Context, msg InboundMessage) (string, bool) {
	_ = m.send(ctx, msg.From, msgAudioProcessing)
	if len(msg.Audio) == 0 {
		_ = m.send(ctx, msg.From, msgAudioEmpty)
		return "", false
	}
	if m.transcriber == nil {
		m.logger.Warn("voice note received without a transcriber", "conversation_id", msg.From)
		_ = m.send(ctx, msg.From, msgAudioFailed)
		return "", false
	}
	text, err := m.transcriber.Transcribe(ctx, msg.Audio)
	if err != nil || strings.TrimSpace(text) == "" {
		m.logger.Warn("transcription failed", "conversation_id", msg.From, "error", err)
		_ = m.send(ctx, msg.From, msgAudioFailed)
		return "", false
	}
	return strings.TrimSpace(text), true
}

func (m *Machine) runAI(ctx context.Context, session *Session, text string) error {
	session.appendTurn(ChatRoleUser, text)
	session.Step = StepAwaitingAI
	m.save(ctx, session)

	raw, err := m.ai.Generate(ctx, m.systemPrompt, session.History)
	if err != nil {
		m.logger.Warn("ai unavailable, opening fallback menu", "conversation_id", session.ID, "error", err)
		session.popLastUserTurn()
		return m.startMenu(ctx, session, prefixAIUnavailable)
	}

	switch c := Classify(raw).(type) {
	case Reply:
		if c.Text == "" {
			m.logger.Warn("ai returned an empty reply", "conversation_id", session.ID)
			session.popLastUserTurn()
			return m.startMenu(ctx, session, prefixAIProblem)
		}
		session.appendTurn(ChatRoleAssistant, c.Text)
		session.Step = StepIdle
		m.save(ctx, session)
		return m.send(ctx, session.ID, c.Text)
	case Action:
		m.logger.Info("executing action", "conversation_id", session.ID, "action", string(c.Name))
		return m.execute(ctx, session, c, text)
	default:
		session.popLastUserTurn()
		return m.startMenu(ctx, session, prefixAIProblem)
	}
}

func (m *Machine) startMenu(ctx context.Context, session *Session, prefix string) error {
	session.Step = StepMenuFallback
	m.save(ctx, session)
	return m.send(ctx, session.ID, fallbackMenu(prefix))
}

func (m *Machine) handleMenu(ctx context.Context, session *Session, text string) error {
	switch strings.TrimSpace(text) {
	case "1":
		return m.reportEmergency(ctx, session, menuEmergencyMotive)
	case "2":
		m.clear(ctx, session.ID)
		return m.send(ctx, session.ID, menuInstructions("reembolso"))
	case "3":
		m.clear(ctx, session.ID)
		return m.send(ctx, session.ID, menuInstructions("consulta"))
	default:
		return m.send(ctx, session.ID, msgInvalidMenuOption)
	}
}

func (m *Machine) send(ctx context.Context, to, text string) error {
	ctx, cancel := deliveryContext(ctx)
	defer cancel()
	if err := m.messenger.SendText(ctx, to, text); err != nil {
		m.metrics.ObserveOutbound("text", "error")
		m.logger.Error("failed to send message", "conversation_id", to, "error", err)
		return fmt.Errorf("conversation: send reply: %w", err)
	}
	m.metrics.ObserveOutbound("text", "sent")
	return nil
}

// deliveryContext returns ctx while it is live. Once the turn deadline has
// expired it returns a short detached context so the user still gets the
// reply that matches the saved session step.
func deliveryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
}
