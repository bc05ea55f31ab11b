package responder

import "github.com/KafClaw/tenka/internal/mode"

// EventType discriminates Event.
type EventType string

const (
	TypeTextDelta   EventType = "text_delta"
	TypeToolStatus  EventType = "tool_status"
	TypeToolResult  EventType = "tool_result"
	TypeModeChanged EventType = "mode_changed"
	TypeArtifact    EventType = "artifact"
	TypeError       EventType = "error"
)

// Event is one item of a turn's output stream.
type Event struct {
	Type       EventType `json:"type"`
	Text       string    `json:"text,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	Result     string    `json:"result,omitempty"`
	Mode       mode.Mode `json:"mode,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	Artifact   *Artifact `json:"artifact,omitempty"`
}

// Artifact is structured output produced alongside text, such as the
// figures behind a cost analysis.
type Artifact struct {
	Kind  string `json:"kind"`
	Title string `json:"title,omitempty"`
	Data  any    `json:"data"`
}

func TextDelta(s string) Event { return Event{Type: TypeTextDelta, Text: s} }

func ToolStatus(name string) Event { return Event{Type: TypeToolStatus, Tool: name} }

func ToolResult(name, result string) Event {
	return Event{Type: TypeToolResult, Tool: name, Result: result}
}

func ModeChanged(m mode.Mode, reason string, confidence float64) Event {
	return Event{Type: TypeModeChanged, Mode: m, Reason: reason, Confidence: confidence}
}

func ErrorEvent(msg string) Event { return Event{Type: TypeError, Error: msg} }

func ArtifactEvent(a *Artifact) Event { return Event{Type: TypeArtifact, Artifact: a} }
