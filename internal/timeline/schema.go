package timeline

import (
	"time"
)

// Schema creates the turn audit tables.
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	prev_mode TEXT NOT NULL DEFAULT '',
	classified TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	degraded BOOLEAN NOT NULL DEFAULT 0,
	cancelled BOOLEAN NOT NULL DEFAULT 0,
	user_text TEXT NOT NULL DEFAULT '',
	assistant_text TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at);
CREATE INDEX IF NOT EXISTS idx_turns_trace ON turns(trace_id);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SchemaVersion is stamped into settings when a database is created.
const SchemaVersion = 1

// Setting keys.
const (
	SettingSchemaVersion = "schema_version"
	SettingRouterPolicy  = "router_policy"
)

// TurnEvent is one stored orchestrator turn.
type TurnEvent struct {
	ID            int64     `json:"id"`
	TraceID       string    `json:"trace_id"`
	SessionID     string    `json:"session_id"`
	Kind          string    `json:"kind"`
	Mode          string    `json:"mode"`
	PrevMode      string    `json:"prev_mode"`
	Classified    string    `json:"classified,omitempty"`
	Confidence    float64   `json:"confidence"`
	Degraded      bool      `json:"degraded"`
	Cancelled     bool      `json:"cancelled"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	ErrorText     string    `json:"error_text,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
}

// KindCount is the number of turns of one kind.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}
