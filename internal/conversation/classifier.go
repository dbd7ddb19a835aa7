package conversation

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ActionName is the closed set of actions the assistant can request.
type ActionName string

const (
	ActionScheduleAppointment  ActionName = "agendar_solicitud"
	ActionRequestReimbursement ActionName = "solicitar_reembolso"
	ActionReportEmergency      ActionName = "informar_emergencia"
)

func (a ActionName) valid() bool {
	switch a {
	case ActionScheduleAppointment, ActionRequestReimbursement, ActionReportEmergency:
		return true
	}
	return false
}

// Classification is either a Reply or an Action.
type Classification interface {
	isClassification()
}

// Reply is free text to relay to the user.
type Reply struct {
	Text string
}

// Action is a structured command embedded in the assistant's output.
type Action struct {
	Name ActionName
	Args map[string]string
}

func (Reply) isClassification()  {}
func (Action) isClassification() {}

type actionEnvelope struct {
	Action string                     `json:"accion"`
	Data   map[string]json.RawMessage `json:"datos"`
}

// Classify turns raw assistant output into a Reply or an Action. Anything
// that is not a well-formed object naming a known action is a Reply.
func Classify(raw string) Classification {
	text := strings.TrimSpace(raw)
	object, ok := extractObject(text)
	if !ok {
		return Reply{Text: text}
	}

	var env actionEnvelope
	if err := json.Unmarshal([]byte(object), &env); err != nil {
		return Reply{Text: text}
	}
	name := ActionName(strings.TrimSpace(env.Action))
	if !name.valid() {
		return Reply{Text: text}
	}

	args := make(map[string]string, len(env.Data))
	for key, value := range env.Data {
		if s, ok := scalarString(value); ok {
			args[key] = s
		}
	}
	return Action{Name: name, Args: args}
}

// extractObject returns the text from the first '{' to its balanced closing
// brace. Braces inside JSON strings are ignored.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// scalarString stringifies JSON scalars. Numbers keep their literal form;
// null, objects and arrays are dropped.
func scalarString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '{', '[', 'n':
		return "", false
	default:
		return string(trimmed), true
	}
}
