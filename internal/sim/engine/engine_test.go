package engine

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/registry"
	"tinytown.ai/internal/sim/actions"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/clock"
	"tinytown.ai/internal/sim/townmap"
	"tinytown.ai/internal/sim/tuning"
)

type fakeService struct {
	mu    sync.Mutex
	calls int
	fn    func(system, user string) (string, error)
	gate  chan struct{} // when non-nil, calls block until the gate closes
}

func (f *fakeService) invoke(system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.fn(system, user)
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeService) Completion(_ context.Context, system, user string) (string, error) {
	return f.invoke(system, user)
}

func (f *fakeService) JSONCompletion(_ context.Context, system, user string) (string, error) {
	return f.invoke(system, user)
}

type fixedRand struct{ v float64 }

func (r fixedRand) Float64() float64 { return r.v }

type memorySink struct {
	events []eventlog.Event
}

func (s *memorySink) Append(e eventlog.Event) error {
	s.events = append(s.events, e)
	return nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	mustRegister := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	mustRegister(reg.RegisterLocation("loc_town_square", "小镇广场", "Town Square"))
	mustRegister(reg.RegisterLocation("loc_saloon", "酒馆", "Saloon"))
	for _, d := range actions.Vocabulary() {
		mustRegister(reg.RegisterAction(d.ID, d.Localized, d.English))
	}
	return reg
}

func testMap() *townmap.Map {
	m := townmap.New()
	m.AddLocation(&townmap.Location{Name: "小镇广场", Type: townmap.TypeSquare, Description: "镇中心", Coordinates: [2]int{400, 300}})
	m.AddLocation(&townmap.Location{Name: "酒馆", Type: townmap.TypeSaloon, Description: "热闹", Coordinates: [2]int{550, 300}})
	m.ConnectLocations("小镇广场", "酒馆")
	return m
}

func testChar(id, name, loc string) *character.Character {
	c := character.New(character.Profile{
		Name:         name,
		Occupation:   "居民",
		Personality:  "随和",
		HomeLocation: loc,
	}, id)
	c.CurrentLocationID = "loc_town_square"
	return c
}

func newTestEngine(t *testing.T, svc *fakeService, chars []*character.Character, mutate func(*tuning.Tuning)) (*Engine, *memorySink) {
	t.Helper()
	cfg := tuning.Defaults()
	cfg.InteractionProbability = 0
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &memorySink{}
	e := New(Options{
		Tuning:   cfg,
		Clock:    clock.NewAt(2025, time.January, 1, 6),
		Map:      testMap(),
		Registry: testRegistry(t),
		Chars:    chars,
		Service:  svc,
		Sink:     sink,
		Logger:   log.New(io.Discard, "", 0),
		Rand:     fixedRand{v: 0.5},
	})
	return e, sink
}

const movePlan = `{"action":"act_move","target_location":"loc_saloon","dialogue":"去喝一杯","emoji":"🍺","duration":30}`

func TestTickAppliesPlan(t *testing.T) {
	svc := &fakeService{fn: func(system, user string) (string, error) {
		return movePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	e, sink := newTestEngine(t, svc, []*character.Character{c}, nil)

	if !e.Tick() {
		t.Fatalf("Tick returned false")
	}
	if !c.IsThinking {
		t.Fatalf("character should be thinking after dispatch")
	}
	e.drainRemaining()

	if c.IsThinking {
		t.Fatalf("thinking flag not cleared")
	}
	if c.CurrentLocation != "酒馆" {
		t.Fatalf("CurrentLocation = %q, want 酒馆", c.CurrentLocation)
	}
	if c.CurrentLocationID != "loc_saloon" {
		t.Fatalf("CurrentLocationID = %q, want loc_saloon", c.CurrentLocationID)
	}
	if c.Position != [2]int{550, 300} {
		t.Fatalf("Position = %v", c.Position)
	}
	if c.LastActionID != actions.Move {
		t.Fatalf("LastActionID = %q, want %q", c.LastActionID, actions.Move)
	}
	if c.Emoji != "🍺" {
		t.Fatalf("Emoji = %q", c.Emoji)
	}
	wantBusy := e.clock.Now().Add(30 * time.Minute)
	if !c.BusyUntil.Equal(wantBusy) {
		t.Fatalf("BusyUntil = %v, want %v", c.BusyUntil, wantBusy)
	}
	if len(sink.events) != 1 || sink.events[0].Type != eventlog.TypePlan {
		t.Fatalf("events = %+v, want one plan event", sink.events)
	}
	pd, err := sink.events[0].Plan()
	if err != nil {
		t.Fatalf("decode plan event: %v", err)
	}
	if pd.Character != "张三" || pd.TargetLocation != "酒馆" || pd.Duration != 30 {
		t.Fatalf("plan details = %+v", pd)
	}
}

func TestBusyCharacterIsNotReplanned(t *testing.T) {
	svc := &fakeService{fn: func(system, user string) (string, error) {
		return movePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	e, _ := newTestEngine(t, svc, []*character.Character{c}, nil)

	e.Tick()
	e.drainRemaining()
	if got := svc.callCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}

	// 30m busy window, 5m ticks: the next few ticks must not dispatch.
	for i := 0; i < 3; i++ {
		e.Tick()
	}
	if got := svc.callCount(); got != 1 {
		t.Fatalf("calls = %d after busy ticks, want 1", got)
	}
}

func TestThinkingCharacterIsNotRedispatched(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{gate: gate, fn: func(system, user string) (string, error) {
		return movePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	e, _ := newTestEngine(t, svc, []*character.Character{c}, nil)

	e.Tick()
	for svc.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	e.Tick()
	e.Tick()
	if got := svc.callCount(); got != 1 {
		t.Fatalf("calls = %d while thinking, want 1", got)
	}
	close(gate)
	e.drainRemaining()
	if c.IsThinking {
		t.Fatalf("thinking flag not cleared after drain")
	}
}

func TestPlanningBackoff(t *testing.T) {
	cases := []struct {
		name     string
		response string
		factor   int
	}{
		{"invalid json doubles the retry", "not json at all", 2},
		{"missing duration uses the plain retry", `{"action":"act_rest","target_location":"loc_town_square","dialogue":"x","emoji":"🙂"}`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{fn: func(system, user string) (string, error) {
				return tc.response, nil
			}}
			c := testChar("char_zhang_san", "张三", "小镇广场")
			e, sink := newTestEngine(t, svc, []*character.Character{c}, nil)

			e.Tick()
			e.drainRemaining()

			if c.IsThinking {
				t.Fatalf("thinking flag not cleared on failure")
			}
			want := e.clock.Now().Add(time.Duration(tc.factor*e.cfg.PlanningRetryMinutes) * time.Minute)
			if !c.BusyUntil.Equal(want) {
				t.Fatalf("BusyUntil = %v, want %v", c.BusyUntil, want)
			}
			if len(sink.events) != 0 {
				t.Fatalf("no event should be emitted on failure, got %+v", sink.events)
			}
		})
	}
}

func dialogueAware(plan string) func(system, user string) (string, error) {
	return func(system, user string) (string, error) {
		if strings.Contains(system, "genuine dialogue") {
			return `{"content":"你好！"}`, nil
		}
		return plan, nil
	}
}

func TestConversationPairing(t *testing.T) {
	svc := &fakeService{fn: dialogueAware(movePlan)}
	c1 := testChar("char_zhang_san", "张三", "小镇广场")
	c2 := testChar("char_li_si", "李四", "小镇广场")
	e, sink := newTestEngine(t, svc, []*character.Character{c1, c2}, func(cfg *tuning.Tuning) {
		cfg.InteractionProbability = 1.0
	})

	e.Tick()
	if !c1.IsThinking || !c2.IsThinking {
		t.Fatalf("both participants should be thinking during the exchange")
	}
	e.drainRemaining()

	if got := svc.callCount(); got != 2 {
		t.Fatalf("calls = %d, want 2 dialogue turns", got)
	}
	if c1.LastActionID != actions.Chat || c2.LastActionID != actions.Chat {
		t.Fatalf("LastActionID = %q/%q, want chat", c1.LastActionID, c2.LastActionID)
	}
	if !strings.Contains(c1.Status, "对 李四 说") {
		t.Fatalf("c1 status = %q", c1.Status)
	}
	if len(c1.Memory) != 1 || !strings.Contains(c1.Memory[0], "I chatted with 李四") {
		t.Fatalf("c1 memory = %v", c1.Memory)
	}
	wantBusy := e.clock.Now().Add(45 * time.Minute)
	if !c1.BusyUntil.Equal(wantBusy) || !c2.BusyUntil.Equal(wantBusy) {
		t.Fatalf("busy windows = %v / %v, want %v", c1.BusyUntil, c2.BusyUntil, wantBusy)
	}
	if len(sink.events) != 1 || sink.events[0].Type != eventlog.TypeDialogue {
		t.Fatalf("events = %+v, want one dialogue event", sink.events)
	}
	dd, err := sink.events[0].Dialogue()
	if err != nil {
		t.Fatalf("decode dialogue event: %v", err)
	}
	if len(dd.Messages) != 2 || dd.Location != "小镇广场" {
		t.Fatalf("dialogue details = %+v", dd)
	}

	// Same pair is on cooldown now; no further dialogue calls.
	e.Tick()
	e.drainRemaining()
	if got := svc.callCount(); got != 2 {
		t.Fatalf("calls = %d after cooldown tick, want 2", got)
	}
}

func TestCrowdedLocationUsesShortCooldown(t *testing.T) {
	svc := &fakeService{fn: dialogueAware(movePlan)}
	c1 := testChar("char_zhang_san", "张三", "小镇广场")
	c2 := testChar("char_li_si", "李四", "小镇广场")
	c3 := testChar("char_wang_wu", "王五", "小镇广场")
	e, _ := newTestEngine(t, svc, []*character.Character{c1, c2, c3}, func(cfg *tuning.Tuning) {
		cfg.InteractionProbability = 1.0
	})

	e.Tick()
	key := newPairKey("张三", "李四")
	until, ok := e.cooldowns[key]
	if !ok {
		t.Fatalf("no cooldown recorded for the pair")
	}
	want := e.clock.Now().Add(time.Duration(e.cfg.CrowdedCooldownMinutes) * time.Minute)
	if !until.Equal(want) {
		t.Fatalf("cooldown until %v, want crowded %v", until, want)
	}
	e.drainRemaining()
}

func TestSleepingCharactersAreNotPaired(t *testing.T) {
	svc := &fakeService{fn: dialogueAware(movePlan)}
	c1 := testChar("char_zhang_san", "张三", "小镇广场")
	c2 := testChar("char_li_si", "李四", "小镇广场")
	c1.LastActionID = actions.Sleep
	c1.BusyUntil = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c2.LastActionID = actions.Sleep
	c2.BusyUntil = c1.BusyUntil
	e, sink := newTestEngine(t, svc, []*character.Character{c1, c2}, func(cfg *tuning.Tuning) {
		cfg.InteractionProbability = 1.0
	})

	e.Tick()
	e.drainRemaining()
	if got := svc.callCount(); got != 0 {
		t.Fatalf("calls = %d, want 0 for sleeping pair", got)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events = %+v, want none", sink.events)
	}
}

func TestNoticePosting(t *testing.T) {
	const noticePlan = `{"action":"act_post_notice","target_location":"loc_town_square","dialogue":"今晚酒馆聚餐，欢迎大家！","emoji":"📢","duration":15}`
	svc := &fakeService{fn: func(system, user string) (string, error) {
		return noticePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	e, _ := newTestEngine(t, svc, []*character.Character{c}, nil)

	e.Tick()
	e.drainRemaining()

	sq := e.tmap.Square()
	if len(sq.Notices) != 1 {
		t.Fatalf("notices = %+v, want 1", sq.Notices)
	}
	n := sq.Notices[0]
	if n.Author != "张三" || n.Content != "今晚酒馆聚餐，欢迎大家！" {
		t.Fatalf("notice = %+v", n)
	}
}

func TestNoticeIgnoredAwayFromSquare(t *testing.T) {
	const noticePlan = `{"action":"act_post_notice","target_location":"loc_saloon","dialogue":"广告","emoji":"📢","duration":15}`
	svc := &fakeService{fn: func(system, user string) (string, error) {
		return noticePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	e, _ := newTestEngine(t, svc, []*character.Character{c}, nil)

	e.Tick()
	e.drainRemaining()

	if got := len(e.tmap.Square().Notices); got != 0 {
		t.Fatalf("square notices = %d, want 0", got)
	}
}

func TestEndConditionRequiresAllSleeping(t *testing.T) {
	svc := &fakeService{fn: func(system, user string) (string, error) {
		return movePlan, nil
	}}
	c1 := testChar("char_zhang_san", "张三", "小镇广场")
	c2 := testChar("char_li_si", "李四", "酒馆")
	c1.LastActionID = actions.Sleep
	c2.LastActionID = actions.Sleep
	c1.BusyUntil = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c2.BusyUntil = c1.BusyUntil
	e, _ := newTestEngine(t, svc, []*character.Character{c1, c2}, func(cfg *tuning.Tuning) {
		cfg.DurationDays = 0
	})

	if e.Tick() {
		t.Fatalf("Tick should end: duration reached and everyone asleep")
	}

	c2.LastActionID = actions.Work
	if !e.Tick() {
		t.Fatalf("Tick should continue while anyone is awake")
	}
}

func TestEarlyEndWindow(t *testing.T) {
	svc := &fakeService{fn: func(system, user string) (string, error) {
		return movePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	c.LastActionID = actions.Sleep
	c.BusyUntil = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, svc, []*character.Character{c}, func(cfg *tuning.Tuning) {
		cfg.DurationDays = 1
		cfg.MinutesPerTick = 60 * 23
		cfg.EarlyEndWindowMinutes = 120
	})

	// One 23h tick: inside the 2h early-end window before the 24h mark.
	if e.Tick() {
		t.Fatalf("Tick should end inside the early-end window with everyone asleep")
	}
}

func TestCompactionRunsOnceAfterLongSleep(t *testing.T) {
	const sleepPlan = `{"action":"act_sleep","target_location":"loc_town_square","dialogue":"睡觉了","emoji":"💤","duration":480}`
	svc := &fakeService{fn: func(system, user string) (string, error) {
		if strings.Contains(system, "memory review") {
			return "I met Li Si and planned a dinner for Friday.", nil
		}
		return sleepPlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	c.AddMemory("[2025-01-01 08:00] I opened the shop.")
	c.AddMemory("[2025-01-01 12:00] I had lunch at the saloon.")
	c.AddMemory("[2025-01-01 18:00] I talked with 李四 about dinner.")
	e, _ := newTestEngine(t, svc, []*character.Character{c}, nil)

	e.Tick()
	e.drainRemaining()

	if c.IsThinking {
		t.Fatalf("thinking flag not cleared after compaction")
	}
	if c.LastOptimizedDate != "2025-01-01" {
		t.Fatalf("LastOptimizedDate = %q", c.LastOptimizedDate)
	}
	if len(c.Memory) != 1 || !character.IsSummaryEntry(c.Memory[0]) {
		t.Fatalf("memory = %v, want single summary entry", c.Memory)
	}
	if got := svc.callCount(); got != 2 {
		t.Fatalf("calls = %d, want plan + review", got)
	}
}

func TestPlanningPromptSeesSquareNotices(t *testing.T) {
	var sawNotice bool
	svc := &fakeService{fn: func(system, user string) (string, error) {
		if strings.Contains(user, "Community Board Notices") && strings.Contains(user, "集市") {
			sawNotice = true
		}
		return movePlan, nil
	}}
	c := testChar("char_zhang_san", "张三", "小镇广场")
	e, _ := newTestEngine(t, svc, []*character.Character{c}, nil)
	e.tmap.Square().PostNotice(townmap.Notice{Content: "周六集市开张", Author: "李四", CreatedAt: "2025-01-01 06:00"})

	e.Tick()
	e.drainRemaining()
	if !sawNotice {
		t.Fatalf("planning prompt did not include the square notices")
	}
}
