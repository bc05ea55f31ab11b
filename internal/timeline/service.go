package timeline

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KafClaw/tenka/internal/bus"
)

type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	svc := &TimelineService{db: db}
	if err := svc.checkSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

// checkSchemaVersion stamps a new database and refuses one written by a
// newer release.
func (s *TimelineService) checkSchemaVersion() error {
	v, err := s.GetSetting(SettingSchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return s.SetSetting(SettingSchemaVersion, strconv.Itoa(SchemaVersion))
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid timeline schema version %q", v)
	}
	if n > SchemaVersion {
		return fmt.Errorf("timeline schema v%d is newer than supported v%d", n, SchemaVersion)
	}
	return nil
}

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// AddTurn stores one turn record.
func (s *TimelineService) AddTurn(rec *bus.TurnRecord) error {
	query := `
	INSERT INTO turns (trace_id, session_id, kind, mode, prev_mode, classified, confidence, degraded, cancelled, user_text, assistant_text, error_text, started_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.db.Exec(query,
		rec.TraceID,
		rec.SessionID,
		rec.Kind,
		rec.Mode,
		rec.PrevMode,
		rec.Classified,
		rec.Confidence,
		rec.Degraded,
		rec.Cancelled,
		rec.UserText,
		rec.AssistantText,
		rec.Error,
		startedAt.UTC(),
		rec.DurationMs,
	)
	return err
}

// RecordTurn stores rec and logs failures. It is meant as a bus turn
// subscriber.
func (s *TimelineService) RecordTurn(rec *bus.TurnRecord) {
	if err := s.AddTurn(rec); err != nil {
		slog.Warn("Timeline turn insert failed", "session", rec.SessionID, "trace", rec.TraceID, "error", err)
	}
}

type FilterArgs struct {
	SessionID string
	TraceID   string
	Kind      string
	Limit     int
	Offset    int
	StartDate *time.Time
	EndDate   *time.Time
}

// GetTurns returns turns matching filter, newest first.
func (s *TimelineService) GetTurns(filter FilterArgs) ([]TurnEvent, error) {
	query := `SELECT id, trace_id, session_id, kind, mode, prev_mode, classified, confidence, degraded, cancelled, user_text, assistant_text, error_text, started_at, duration_ms FROM turns WHERE 1=1`
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, filter.TraceID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.StartDate != nil {
		query += " AND started_at >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		query += " AND started_at <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []TurnEvent
	for rows.Next() {
		var e TurnEvent
		err := rows.Scan(
			&e.ID,
			&e.TraceID,
			&e.SessionID,
			&e.Kind,
			&e.Mode,
			&e.PrevMode,
			&e.Classified,
			&e.Confidence,
			&e.Degraded,
			&e.Cancelled,
			&e.UserText,
			&e.AssistantText,
			&e.ErrorText,
			&e.StartedAt,
			&e.DurationMs,
		)
		if err != nil {
			return nil, err
		}
		turns = append(turns, e)
	}
	return turns, rows.Err()
}

// CountByKind returns turn counts per kind, optionally for one session.
func (s *TimelineService) CountByKind(sessionID string) ([]KindCount, error) {
	query := "SELECT kind, COUNT(*) FROM turns"
	args := []interface{}{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " GROUP BY kind ORDER BY kind"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KindCount
	for rows.Next() {
		var kc KindCount
		if err := rows.Scan(&kc.Kind, &kc.Count); err != nil {
			return nil, err
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// GetSetting returns a setting value by key.
func (s *TimelineService) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", err
	}
	return val, nil
}

// NoteRouterPolicy stores the mode switch policy turns are now recorded
// under and returns the one stored before, or "" for a new database.
func (s *TimelineService) NoteRouterPolicy(policy string) (string, error) {
	prev, err := s.GetSetting(SettingRouterPolicy)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err := s.SetSetting(SettingRouterPolicy, policy); err != nil {
		return "", err
	}
	return prev, nil
}

// SetSetting upserts a setting value.
func (s *TimelineService) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, key, value)
	return err
}
