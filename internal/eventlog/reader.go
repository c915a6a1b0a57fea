package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

const timestampLayout = "2006-01-02 15:04"

// Bare "HH:MM" timestamps are accepted with this implied date.
var defaultDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParsedEvent is a log record with its simulated timestamp parsed.
type ParsedEvent struct {
	Event
	At time.Time
}

// ParseTimestamp parses "YYYY-MM-DD HH:MM", falling back to bare "HH:MM" on
// the implied default date.
func ParseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, ts); err == nil {
		return t, nil
	}
	t, err := time.Parse("15:04", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", ts)
	}
	return time.Date(defaultDate.Year(), defaultDate.Month(), defaultDate.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

// Load reads a simulation log file, drops records whose timestamp cannot be
// parsed, and returns the rest sorted by simulated time.
func Load(path string) ([]ParsedEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	parsed := make([]ParsedEvent, 0, len(events))
	for _, e := range events {
		at, err := ParseTimestamp(e.Timestamp)
		if err != nil {
			continue
		}
		parsed = append(parsed, ParsedEvent{Event: e, At: at})
	}
	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].At.Before(parsed[j].At) })
	return parsed, nil
}
