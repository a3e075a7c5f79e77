package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/deskhand/internal/model"
)

// Calendar appends calendar_event actions to a single vault document the
// operator syncs into their real calendar.
type Calendar struct {
	path   string
	logger *slog.Logger
}

func NewCalendar(vaultRoot string, logger *slog.Logger) *Calendar {
	return &Calendar{path: filepath.Join(vaultRoot, "Calendar.md"), logger: logger}
}

func (c *Calendar) Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	title, _ := action.ActionData["title"].(string)
	when, _ := action.ActionData["datetime"].(string)

	ts, err := parseEventTime(when)
	if err != nil {
		return fmt.Errorf("calendar event: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open calendar: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("- %s | %s\n", ts.Format("2006-01-02 15:04"), title)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append calendar entry: %w", err)
	}
	c.logger.Info("calendar event recorded", "title", title, "datetime", when)
	return nil
}

func parseEventTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("datetime %q is not ISO-8601", s)
}
