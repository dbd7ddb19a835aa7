package conversation

import (
	"fmt"
	"time"
)

// Every user-visible text the bot sends lives here.
const (
	msgClosing           = "Estamos para servirle, que tenga un gran día."
	msgInvalidMenuOption = "Opción no válida. Por favor, responde con 1, 2 o 3."
	msgPersistenceError  = "Hubo un error al registrar tu solicitud en la base de datos."
	msgNoCapacityWindow  = "Lo sentimos, no hemos encontrado cupos disponibles en los próximos 7 días. Por favor, intenta de nuevo más tarde."

	msgAudioProcessing = "Procesando tu nota de voz, un momento..."
	msgAudioEmpty      = "Hubo un error al descargar el audio. Por favor intenta de nuevo."
	msgAudioFailed     = "Lo siento, no pude procesar tu nota de voz. Por favor, ¿podrías escribir tu solicitud?"

	prefixAIUnavailable = "Lo siento, nuestro asistente inteligente no está disponible en este momento."
	prefixAIProblem     = "Hubo un problema con el asistente."
	prefixRestart       = "Ok, empecemos de nuevo."

	menuBody = "\n\nNuestro asistente inteligente no está disponible. Por favor, responde con el número de tu solicitud:\n\n" +
		"*-1-* 🚨 Emergencia\n*-2-* 💸 Solicitar Reembolso\n*-3-* 🩺 Agendar Consulta"

	restartCommand = "menu"
)

func emergencyMessage(phone string) string {
	return fmt.Sprintf("Detecté una emergencia. Por favor, comunícate directamente al siguiente número:\n*%s*", phone)
}

func fallbackMenu(prefix string) string {
	if prefix == "" {
		prefix = "¡Hola!"
	}
	return prefix + menuBody
}

func menuInstructions(requestType string) string {
	return fmt.Sprintf("Para procesar tu *%s*, por favor, indica toda la información en un solo mensaje. Ejemplo:\n\n"+
		"Nombre: Juan Pérez\nCédula: 12345678\nNómina: Contractual Mensual\nGerencia: Operaciones\nTipo de Consulta: Reposo Médico", requestType)
}

func allocationSuccess(turn string, assigned, registeredAt time.Time) string {
	return fmt.Sprintf("¡Registro exitoso!\n\nTu solicitud ha sido agendada con el número de turno: *%s*.\n\n"+
		"*Fecha Asignada:* %s\n*Hora del Registro:* %s\n\n"+
		"_Te recordamos que el horario de atención en la clínica es de 8:00 AM a 2:00 PM._\n\n¿En qué más puedo ayudarte?",
		turn, FormatLongDate(assigned), FormatClockTime(registeredAt))
}

func duplicateAppointment(date time.Time) string {
	return fmt.Sprintf("Lo siento, ya tienes una cita registrada para el %s. No es posible agendar dos citas el mismo día.", FormatLongDate(date))
}

func noCapacity(desiredDay string) string {
	if desiredDay == "" {
		return msgNoCapacityWindow
	}
	return fmt.Sprintf("Lo sentimos, no hay cupos disponibles para el %s ni en los días siguientes. Por favor, intenta para otra fecha.", desiredDay)
}
