package indexdb

import (
	"path/filepath"
	"testing"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/sim/tuning"
)

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.RecordRun("session-1", tuning.Defaults()); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	if err := s.Append(eventlog.NewPlanEvent("2025-01-01 08:00", eventlog.PlanDetails{
		Character: "张三", Action: "act_move", TargetLocation: "酒馆",
		Dialogue: "去喝一杯", Emoji: "🍺", Duration: 30,
	})); err != nil {
		t.Fatalf("Append plan: %v", err)
	}
	if err := s.Append(eventlog.NewDialogueEvent("2025-01-01 08:30", eventlog.DialogueDetails{
		Participants: []string{"张三", "李四"},
		Messages:     []eventlog.DialogueMessage{{Speaker: "张三", Content: "早"}},
		Location:     "酒馆",
	})); err != nil {
		t.Fatalf("Append dialogue: %v", err)
	}
	// Close drains the queue, so everything queued above is committed.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	n, err := s2.EventCount()
	if err != nil {
		t.Fatalf("EventCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("EventCount = %d, want 2", n)
	}

	evs, err := s2.EventsByCharacter("张三")
	if err != nil {
		t.Fatalf("EventsByCharacter: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events for 张三 = %d, want 2", len(evs))
	}
	if evs[0].Type != eventlog.TypePlan || evs[1].Type != eventlog.TypeDialogue {
		t.Fatalf("event order = %s, %s", evs[0].Type, evs[1].Type)
	}
	pd, err := evs[0].Plan()
	if err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if pd.TargetLocation != "酒馆" {
		t.Fatalf("plan details = %+v", pd)
	}
}

func TestAppendAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Append(eventlog.Event{Type: eventlog.TypePlan}); err != nil {
		t.Fatalf("Append after close: %v", err)
	}
}
