// Package replay reconstructs town state at an arbitrary point in time from
// a recorded simulation log. Reconstruction is a full rescan of the event
// stream, so seeking is stateless: the same target time always yields the
// same town.
package replay

import (
	"strings"
	"time"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/sim/actions"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/townmap"
)

const (
	// dialogueWindow is how long after a dialogue event its participants
	// still show as talking.
	dialogueWindow = 10 * time.Minute
	// trailingBuffer extends playback past the last event so the final
	// actions run out on screen.
	trailingBuffer = 60 * time.Minute
	// defaultPlanMinutes applies when a plan event carries no duration.
	defaultPlanMinutes = 15
)

const idleStatus = "Idle"

type Replay struct {
	Map        *townmap.Map
	Characters []*character.Character

	Paused bool
	Speed  float64

	events         []eventlog.ParsedEvent
	start, end     time.Time
	current        time.Time
	minutesPerTick int
}

// New builds a replay over an already-parsed, time-sorted event stream. The
// map and roster should be laid out exactly like the live run's.
func New(events []eventlog.ParsedEvent, m *townmap.Map, chars []*character.Character, minutesPerTick int) *Replay {
	r := &Replay{
		Map:            m,
		Characters:     chars,
		Paused:         true,
		Speed:          1.0,
		events:         events,
		minutesPerTick: minutesPerTick,
	}
	if len(events) > 0 {
		r.start = events[0].At
		r.end = events[len(events)-1].At.Add(trailingBuffer)
		r.current = r.start
		r.rebuild()
	}
	return r
}

// Load reads a simulation log from disk and builds a replay over it.
func Load(path string, m *townmap.Map, chars []*character.Character, minutesPerTick int) (*Replay, error) {
	events, err := eventlog.Load(path)
	if err != nil {
		return nil, err
	}
	return New(events, m, chars, minutesPerTick), nil
}

func (r *Replay) Now() time.Time   { return r.current }
func (r *Replay) Start() time.Time { return r.start }
func (r *Replay) End() time.Time   { return r.end }
func (r *Replay) Empty() bool      { return len(r.events) == 0 }

// Update advances playback by one tick scaled by Speed. Reaching the end
// pauses playback.
func (r *Replay) Update() {
	if r.Paused || r.current.IsZero() {
		return
	}
	step := time.Duration(float64(r.minutesPerTick) * r.Speed * float64(time.Minute))
	r.current = r.current.Add(step)
	if r.current.After(r.end) {
		r.current = r.end
		r.Paused = true
	}
	r.rebuild()
}

// SetTime seeks to a fraction of the full playback range, 0 being the first
// event and 1 the end of the trailing buffer.
func (r *Replay) SetTime(progress float64) {
	if r.Empty() {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	total := r.end.Sub(r.start)
	r.current = r.start.Add(time.Duration(float64(total) * progress))
	r.rebuild()
}

func (r *Replay) rebuild() {
	r.rebuildCharacters()
	r.rebuildNotices()
}

// rebuildCharacters rescans all events up to the current time: the latest
// plan per character wins, and dialogues inside the recent window overlay a
// talking status on their participants.
func (r *Replay) rebuildCharacters() {
	activePlans := map[string]eventlog.ParsedEvent{}
	var recentDialogues []eventlog.ParsedEvent

	for _, ev := range r.events {
		if ev.At.After(r.current) {
			break
		}
		switch ev.Type {
		case eventlog.TypePlan:
			if d, err := ev.Plan(); err == nil {
				activePlans[d.Character] = ev
			}
		case eventlog.TypeDialogue:
			if r.current.Sub(ev.At) < dialogueWindow {
				recentDialogues = append(recentDialogues, ev)
			}
		}
	}

	for _, c := range r.Characters {
		ev, ok := activePlans[c.Profile.Name]
		if !ok {
			r.idle(c)
			continue
		}
		d, err := ev.Plan()
		if err != nil {
			r.idle(c)
			continue
		}
		duration := d.Duration
		if duration <= 0 {
			duration = defaultPlanMinutes
		}
		if r.current.After(ev.At.Add(time.Duration(duration) * time.Minute)) {
			r.idle(c)
			continue
		}

		c.CurrentLocation = d.TargetLocation
		c.Status = d.Action + " (Replay)"
		if d.Emoji != "" {
			c.Emoji = d.Emoji
		} else {
			c.Emoji = "👤"
		}
		if loc := r.Map.Get(d.TargetLocation); loc != nil {
			c.Position = loc.Coordinates
		}
	}

	for _, ev := range recentDialogues {
		d, err := ev.Dialogue()
		if err != nil {
			continue
		}
		for _, c := range r.Characters {
			if !contains(d.Participants, c.Profile.Name) {
				continue
			}
			c.Status = "Talking... (Replay)"
			for _, msg := range d.Messages {
				if msg.Speaker == c.Profile.Name {
					c.Status = "Said: " + msg.Content
				}
			}
		}
	}
}

func (r *Replay) idle(c *character.Character) {
	c.Status = idleStatus
	c.Emoji = "👤"
}

// rebuildNotices reconstructs the square's notice feed from every post-notice
// plan event up to the current time, newest first, capped like the live feed.
func (r *Replay) rebuildNotices() {
	sq := r.Map.Square()
	if sq == nil {
		return
	}

	var notices []townmap.Notice
	for _, ev := range r.events {
		if ev.At.After(r.current) {
			break
		}
		if ev.Type != eventlog.TypePlan {
			continue
		}
		d, err := ev.Plan()
		if err != nil {
			continue
		}
		if !isPostNotice(d.Action) || d.TargetLocation != sq.Name {
			continue
		}
		notices = append([]townmap.Notice{{
			Content:   d.Dialogue,
			Author:    d.Character,
			CreatedAt: ev.At.Format("2006-01-02 15:04"),
		}}, notices...)
	}
	if len(notices) > townmap.MaxNotices {
		notices = notices[:townmap.MaxNotices]
	}
	sq.Notices = notices
}

func isPostNotice(action string) bool {
	return action == actions.PostNotice || strings.Contains(action, "Post Notice")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
