package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTimeTool reports the current time in a fixed zone.
type CurrentTimeTool struct {
	loc *time.Location
	now func() time.Time
}

// NewCurrentTimeTool creates the tool for the named zone. Unknown zones fall
// back to UTC.
func NewCurrentTimeTool(zone string) *CurrentTimeTool {
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return &CurrentTimeTool{loc: loc, now: time.Now}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "現在の日時を返します。交渉スケジュールや期限の確認に使用します。"
}

func (t *CurrentTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *CurrentTimeTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	now := t.now().In(t.loc)
	return fmt.Sprintf("%s (%s)", now.Format(time.RFC3339), t.loc.String()), nil
}
