package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/clinic-intake/internal/scheduling"
)

func (m *Machine) execute(ctx context.Context, session *Session, action Action, userText string) error {
	switch action.Name {
	case ActionReportEmergency:
		return m.reportEmergency(ctx, session, userText)
	case ActionScheduleAppointment:
		return m.schedule(ctx, session, scheduling.TypeConsulta, action.Args)
	case ActionRequestReimbursement:
		return m.schedule(ctx, session, scheduling.TypeReembolso, action.Args)
	default:
		session.popLastUserTurn()
		return m.startMenu(ctx, session, prefixAIProblem)
	}
}

// reportEmergency always sends the contact number, even when the incident
// record or the staff alert fails.
func (m *Machine) reportEmergency(ctx context.Context, session *Session, motive string) error {
	rec, err := m.allocator.RecordEmergency(ctx, scheduling.EmergencyReport{Motive: motive, ConversationID: session.ID})
	if err != nil {
		m.logger.Error("failed to record emergency", "conversation_id", session.ID, "error", err)
	} else if m.notifier != nil {
		if err := m.notifier.NotifyEmergency(ctx, rec); err != nil {
			m.logger.Error("failed to alert staff about emergency", "conversation_id", session.ID, "error", err)
		}
	}
	m.clear(ctx, session.ID)
	return m.send(ctx, session.ID, emergencyMessage(m.emergencyPhone))
}

func (m *Machine) schedule(ctx context.Context, session *Session, reqType scheduling.RequestType, args map[string]string) error {
	session.PendingData = args
	req := slotRequestFromArgs(reqType, args, session.ID)

	res, err := m.allocator.Allocate(ctx, req)
	var dup *scheduling.DuplicateAppointmentError
	switch {
	case err == nil:
		m.logger.Info("request allocated",
			"conversation_id", session.ID,
			"turn", res.TurnNumber,
			"date", scheduling.DateKey(res.AssignedDate),
		)
		done := newSession(session.ID)
		done.Step = StepAwaitingFinalConfirmation
		m.save(ctx, done)
		return m.send(ctx, session.ID, allocationSuccess(res.TurnNumber, res.AssignedDate, m.now().In(m.loc)))
	case errors.Is(err, scheduling.ErrNoCapacityInWindow):
		m.clear(ctx, session.ID)
		return m.send(ctx, session.ID, noCapacity(strings.TrimSpace(args["dia_semana_deseado"])))
	case errors.As(err, &dup):
		m.clear(ctx, session.ID)
		return m.send(ctx, session.ID, duplicateAppointment(dup.Date))
	default:
		m.logger.Error("allocation failed", "conversation_id", session.ID, "error", err)
		session.popLastUserTurn()
		session.PendingData = map[string]string{}
		session.Step = StepIdle
		m.save(ctx, session)
		return m.send(ctx, session.ID, msgPersistenceError)
	}
}

func slotRequestFromArgs(reqType scheduling.RequestType, args map[string]string, conversationID string) scheduling.SlotRequest {
	subtype := strings.TrimSpace(args["tipo_consulta_detalle"])
	if reqType == scheduling.TypeConsulta && scheduling.IsEcorSubtype(subtype) {
		reqType = scheduling.TypeEcor
	}
	return scheduling.SlotRequest{
		Type:           reqType,
		DesiredWeekday: scheduling.ParseDesiredWeekday(args["dia_semana_deseado"]),
		Subtype:        subtype,
		Patient: scheduling.Patient{
			FirstName:   strings.TrimSpace(args["nombre_paciente"]),
			LastName:    strings.TrimSpace(args["apellido_paciente"]),
			ID:          strings.TrimSpace(args["cedula"]),
			PayrollType: strings.TrimSpace(args["nomina"]),
			Department:  strings.TrimSpace(args["gerencia"]),
		},
		ConversationID: conversationID,
	}
}
