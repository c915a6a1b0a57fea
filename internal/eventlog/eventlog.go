// Package eventlog defines the durable simulation event record and the JSON
// array log file that is the sole contract between a live run and a later
// replay.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	TypePlan     = "plan"
	TypeDialogue = "dialogue"
)

// Event is one record in the log. Timestamp is simulated time
// ("YYYY-MM-DD HH:MM"); RealTime is the wall-clock instant it was recorded.
type Event struct {
	Timestamp string          `json:"timestamp"`
	RealTime  string          `json:"real_time"`
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details"`
}

type PlanDetails struct {
	Character      string `json:"character"`
	Action         string `json:"action"`
	TargetLocation string `json:"target_location"`
	Dialogue       string `json:"dialogue"`
	Emoji          string `json:"emoji"`
	Duration       int    `json:"duration"`
}

type DialogueMessage struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

type DialogueDetails struct {
	Participants []string          `json:"participants"`
	Messages     []DialogueMessage `json:"messages"`
	Location     string            `json:"location"`
}

func NewPlanEvent(simTime string, d PlanDetails) Event {
	raw, _ := json.Marshal(d)
	return Event{Timestamp: simTime, RealTime: time.Now().Format(time.RFC3339), Type: TypePlan, Details: raw}
}

func NewDialogueEvent(simTime string, d DialogueDetails) Event {
	raw, _ := json.Marshal(d)
	return Event{Timestamp: simTime, RealTime: time.Now().Format(time.RFC3339), Type: TypeDialogue, Details: raw}
}

// Plan decodes the details of a plan event.
func (e Event) Plan() (PlanDetails, error) {
	var d PlanDetails
	if e.Type != TypePlan {
		return d, fmt.Errorf("not a plan event: %s", e.Type)
	}
	err := json.Unmarshal(e.Details, &d)
	return d, err
}

// Dialogue decodes the details of a dialogue event.
func (e Event) Dialogue() (DialogueDetails, error) {
	var d DialogueDetails
	if e.Type != TypeDialogue {
		return d, fmt.Errorf("not a dialogue event: %s", e.Type)
	}
	err := json.Unmarshal(e.Details, &d)
	return d, err
}

// Sink consumes events as the engine appends them. Implementations must be
// safe for use from the engine loop goroutine only.
type Sink interface {
	Append(Event) error
}

// Logger collects events in memory and saves them as a pretty-printed JSON
// array on shutdown.
type Logger struct {
	mu        sync.Mutex
	saveDir   string
	sessionID string
	events    []Event
}

func NewLogger(saveDir, sessionID string) *Logger {
	return &Logger{saveDir: saveDir, sessionID: sessionID}
}

func (l *Logger) Append(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

// Events returns a copy of the collected events.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Save writes the collected events to
// <saveDir>/simulation_log_<sessionID>.json and returns the path.
func (l *Logger) Save() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.saveDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(l.saveDir, fmt.Sprintf("simulation_log_%s.json", l.sessionID))
	b, err := json.MarshalIndent(l.events, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
