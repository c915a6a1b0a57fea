package character

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tinytown.ai/internal/registry"
	"tinytown.ai/internal/sim/actions"
)

type fakeService struct {
	reply string
	err   error
	calls int
}

func (f *fakeService) Completion(ctx context.Context, system, user string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeService) JSONCompletion(ctx context.Context, system, user string) (string, error) {
	return f.Completion(ctx, system, user)
}

func newTestChar() *Character {
	return New(Profile{Name: "阿比盖尔", EnglishName: "Abigail", HomeLocation: "阿比盖尔的家"}, "char_abigail")
}

func TestMoveToResolvesLocationID(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterLocation("loc_saloon", "酒馆", "Saloon"); err != nil {
		t.Fatalf("register: %v", err)
	}
	c := newTestChar()
	c.MoveTo("酒馆", reg)
	if c.CurrentLocation != "酒馆" {
		t.Fatalf("CurrentLocation: got %q", c.CurrentLocation)
	}
	if c.CurrentLocationID != "loc_saloon" {
		t.Fatalf("CurrentLocationID: got %q", c.CurrentLocationID)
	}

	// A resolution miss keeps the previous cached id.
	c.MoveTo("乌有乡", reg)
	if c.CurrentLocationID != "loc_saloon" {
		t.Fatalf("cached id after miss: got %q want loc_saloon", c.CurrentLocationID)
	}
}

func TestBusyWindow(t *testing.T) {
	c := newTestChar()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if c.Busy(now) {
		t.Fatalf("zero BusyUntil should not be busy")
	}
	c.BusyUntil = now.Add(10 * time.Minute)
	if !c.Busy(now) {
		t.Fatalf("should be busy before BusyUntil")
	}
	if c.Busy(now.Add(10 * time.Minute)) {
		t.Fatalf("should not be busy at BusyUntil")
	}
}

func TestStatusClassifiers(t *testing.T) {
	c := newTestChar()

	c.LastActionID = actions.Sleep
	if !c.IsSleeping() {
		t.Fatalf("action id should be authoritative for sleeping")
	}
	c.LastActionID = actions.Work
	if c.IsSleeping() {
		t.Fatalf("non-sleep action id should win over status text")
	}
	if !c.IsWorking() {
		t.Fatalf("work action id should classify as working")
	}

	// Legacy fallback on free-text status, both languages.
	c = newTestChar()
	c.Status = "正在睡觉"
	if !c.IsSleeping() {
		t.Fatalf("zh status fallback failed")
	}
	c.Status = "Sleeping soundly"
	if !c.IsSleeping() {
		t.Fatalf("en status fallback failed")
	}
	c.Status = "正在与 汉克 交谈..."
	if !c.IsTalking() {
		t.Fatalf("talking fallback failed")
	}
	c.Status = "吃饭"
	if !c.IsEating() {
		t.Fatalf("eating fallback failed")
	}
}

func TestAddMemoryAppends(t *testing.T) {
	c := newTestChar()
	c.AddMemory("a")
	c.AddMemory("a")
	if len(c.Memory) != 2 {
		t.Fatalf("memory should append unconditionally: %v", c.Memory)
	}
}

func TestOptimizeMemoryFloor(t *testing.T) {
	c := newTestChar()
	c.AddMemory("[2025-01-01 Summary] yesterday")
	c.AddMemory("fresh 1")
	c.AddMemory("fresh 2")

	svc := &fakeService{reply: "should not be used"}
	if err := c.OptimizeMemory(context.Background(), svc, "2025-01-02"); err != nil {
		t.Fatalf("OptimizeMemory: %v", err)
	}
	if svc.calls != 0 {
		t.Fatalf("service should not be called under the floor")
	}
	if len(c.Memory) != 3 {
		t.Fatalf("memory changed: %v", c.Memory)
	}
}

func TestOptimizeMemoryCompacts(t *testing.T) {
	c := newTestChar()
	c.AddMemory("[2025-01-01 Summary] yesterday")
	for i := 0; i < 4; i++ {
		c.AddMemory(fmt.Sprintf("fresh %d", i))
	}

	svc := &fakeService{reply: "I had a productive day."}
	if err := c.OptimizeMemory(context.Background(), svc, "2025-01-02"); err != nil {
		t.Fatalf("OptimizeMemory: %v", err)
	}
	if len(c.Memory) != 2 {
		t.Fatalf("want prior summary + 1 new: %v", c.Memory)
	}
	if c.Memory[0] != "[2025-01-01 Summary] yesterday" {
		t.Fatalf("prior summary lost: %v", c.Memory)
	}
	if c.Memory[1] != "[2025-01-02 Summary] I had a productive day." {
		t.Fatalf("new summary: %q", c.Memory[1])
	}
	if c.LastOptimizedDate != "2025-01-02" {
		t.Fatalf("LastOptimizedDate: %q", c.LastOptimizedDate)
	}
}

func TestOptimizeMemoryFailureLeavesMemory(t *testing.T) {
	c := newTestChar()
	for i := 0; i < 4; i++ {
		c.AddMemory(fmt.Sprintf("fresh %d", i))
	}
	svc := &fakeService{err: errors.New("provider down")}
	if err := c.OptimizeMemory(context.Background(), svc, "2025-01-02"); err == nil {
		t.Fatalf("expected error")
	}
	if len(c.Memory) != 4 {
		t.Fatalf("memory must be unchanged on failure: %v", c.Memory)
	}
	if c.LastOptimizedDate != "" {
		t.Fatalf("LastOptimizedDate must be unchanged on failure")
	}
}
