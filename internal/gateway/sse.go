package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/KafClaw/tenka/internal/responder"
)

// sseEvent is the JSON payload of one "data:" line.
type sseEvent struct {
	Type       string              `json:"type"`
	SessionID  string              `json:"session_id,omitempty"`
	Status     string              `json:"status,omitempty"`
	Tool       string              `json:"tool,omitempty"`
	Message    *string             `json:"message,omitempty"`
	Mode       string              `json:"mode,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Data       string              `json:"data,omitempty"`
	Content    *string             `json:"content,omitempty"`
	Error      string              `json:"error,omitempty"`
	Artifact   *responder.Artifact `json:"artifact,omitempty"`
}

func strPtr(s string) *string { return &s }

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func (s *sseWriter) send(ev sseEvent) bool {
	if s.failed {
		return false
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("SSE encode failed", "type", ev.Type, "error", err)
		return true
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.failed = true
		return false
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return true
}

// handleChat runs one turn and streams it. A client disconnect cancels the
// request context, which ends the turn with its partial text persisted.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.orch.CreateSession("", nil).ID
	} else {
		s.orch.GetOrCreateSession(sessionID, nil)
	}

	events, err := s.orch.Stream(r.Context(), sessionID, req.Message)
	if err != nil {
		writeOrchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	out := &sseWriter{w: w, flusher: flusher}

	out.send(sseEvent{Type: "session", SessionID: sessionID})
	out.send(sseEvent{Type: "status", Status: "thinking", Message: strPtr("processing...")})

	var full strings.Builder
	for ev := range events {
		switch ev.Type {
		case responder.TypeModeChanged:
			out.send(sseEvent{Type: "mode_update", Mode: string(ev.Mode), Reason: ev.Reason, Confidence: ev.Confidence})
		case responder.TypeToolStatus:
			out.send(sseEvent{Type: "status", Status: "tool_use", Tool: ev.Tool, Message: strPtr(ev.Tool + " running...")})
		case responder.TypeToolResult:
			out.send(sseEvent{Type: "status", Status: "thinking", Tool: ev.Tool, Message: strPtr("processing...")})
		case responder.TypeTextDelta:
			full.WriteString(ev.Text)
			out.send(sseEvent{Type: "content", Data: responder.CleanDisplayText(full.String())})
		case responder.TypeArtifact:
			out.send(sseEvent{Type: "artifact", Artifact: ev.Artifact})
		case responder.TypeError:
			out.send(sseEvent{Type: "error", Error: ev.Error})
		}
	}
	if r.Context().Err() != nil {
		return
	}

	out.send(sseEvent{Type: "status", Status: "none", Message: strPtr("")})
	out.send(sseEvent{Type: "done", Content: strPtr(responder.CleanDisplayText(full.String()))})
}
