// Package character models a single town resident: an immutable profile plus
// the runtime state the engine mutates tick by tick.
package character

import (
	"strings"
	"time"

	"tinytown.ai/internal/llm"
	"tinytown.ai/internal/registry"
	"tinytown.ai/internal/sim/actions"
)

// Profile holds the biographical facts loaded from the roster. It never
// changes during a run.
type Profile struct {
	Name          string
	EnglishName   string
	Age           string
	Occupation    string
	Personality   string
	Features      string
	Quote         string
	Relationships string
	Residence     string
	HomeLocation  string
	Icon          string
	Mission       string
	LLM           *llm.Config
}

const defaultEmoji = "👤"

// Character is one autonomous resident.
type Character struct {
	Profile Profile
	ID      string // canonical char_* id

	CurrentLocation   string
	CurrentLocationID string
	Position          [2]int

	Status string
	Emoji  string
	Memory []string

	BusyUntil         time.Time
	IsThinking        bool
	LastActionID      string
	LastOptimizedDate string

	// Optional per-resident decision service; nil means use the shared one.
	Client llm.Service
}

func New(p Profile, id string) *Character {
	return &Character{
		Profile:         p,
		ID:              id,
		CurrentLocation: p.HomeLocation,
		Status:          "空闲",
		Emoji:           defaultEmoji,
	}
}

// MoveTo updates the current location and re-resolves its canonical id.
// A resolution miss keeps the previously cached id rather than clearing it.
func (c *Character) MoveTo(locationName string, reg *registry.Registry) {
	c.CurrentLocation = locationName
	if id := reg.Locations.IDFromName(locationName); id != "" {
		c.CurrentLocationID = id
	}
	c.Status = "正在前往 " + locationName
}

// AddMemory appends a first-person memory entry. No deduplication, no cap;
// growth is handled by periodic compaction.
func (c *Character) AddMemory(entry string) {
	c.Memory = append(c.Memory, entry)
}

// Busy reports whether the character is inside a timed busy window.
func (c *Character) Busy(now time.Time) bool {
	return !c.BusyUntil.IsZero() && now.Before(c.BusyUntil)
}

// Status classifiers: the canonical action id is authoritative; substring
// matching on free-text status is kept as best-effort degradation for
// unvalidated legacy output (both display languages).

func (c *Character) IsSleeping() bool {
	if c.LastActionID != "" {
		return c.LastActionID == actions.Sleep
	}
	return statusContains(c.Status, "Sleep", "睡觉")
}

func (c *Character) IsTalking() bool {
	if c.LastActionID == actions.Chat {
		return true
	}
	return statusContains(c.Status, "Talking", "Said", "正在与", "对")
}

func (c *Character) IsWorking() bool {
	if c.LastActionID == actions.Work {
		return true
	}
	return statusContains(c.Status, "Work", "工作")
}

func (c *Character) IsEating() bool {
	if c.LastActionID == actions.Eat {
		return true
	}
	return statusContains(c.Status, "Eat", "Breakfast", "吃饭")
}

func statusContains(status string, needles ...string) bool {
	lower := strings.ToLower(status)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
