package engine

import (
	"strings"
	"time"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/sim/actions"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/townmap"
)

type planResult struct {
	char *character.Character
	plan Plan
	err  error
}

// dispatchPlanning snapshots everything the request needs while still on the
// tick goroutine, then runs only the LLM call and validation concurrently.
func (e *Engine) dispatchPlanning(c *character.Character) {
	c.IsThinking = true
	c.Status = "思考中..."

	system := planningSystemPrompt(
		c.Profile.Name, c.ID,
		c.Profile.Age, c.Profile.Occupation, c.Profile.Personality,
		c.Profile.Features, c.Profile.Relationships,
		actionsContext(e.reg),
		locationsContext(e.reg, e.tmap),
		charactersContext(e.reg, e.chars, c),
	)

	memory := strings.Join(c.Memory, "\n")
	if sq := e.tmap.Square(); sq != nil && c.CurrentLocation == sq.Name && len(sq.Notices) > 0 {
		var lines []string
		for _, n := range sq.Notices {
			lines = append(lines, "- ["+n.CreatedAt+"] "+n.Author+": "+n.Content)
		}
		memory += "\n\nCommunity Board Notices:\n" + strings.Join(lines, "\n")
	}
	user := planningUserPrompt(
		e.clock.DateString(), e.clock.TimeString(),
		c.CurrentLocation, c.CurrentLocationID, memory)

	client := e.clientFor(c)
	e.logger.Printf("planning for %s...", c.Profile.Name)

	e.dispatch(func() result {
		ctx, cancel := e.requestCtx()
		defer cancel()
		raw, err := client.JSONCompletion(ctx, system, user)
		if err != nil {
			return planResult{char: c, err: err}
		}
		plan, err := ValidatePlanning(raw, e.reg, e.logger)
		return planResult{char: c, plan: plan, err: err}
	})
}

func (r planResult) apply(e *Engine) {
	c := r.char
	now := e.clock.Now()

	if r.err != nil {
		retry := time.Duration(e.cfg.PlanningRetryMinutes) * time.Minute
		if IsParseError(r.err) {
			retry *= 2
		}
		e.logger.Printf("planning for %s failed: %v (retry in %s)", c.Profile.Name, r.err, retry)
		c.BusyUntil = now.Add(retry)
		c.IsThinking = false
		return
	}

	plan := r.plan
	if plan.TargetLocation != c.CurrentLocation {
		c.MoveTo(plan.TargetLocation, e.reg)
		if loc := e.tmap.Get(plan.TargetLocation); loc != nil {
			c.Position = loc.Coordinates
		}
	}

	actionID := e.resolveActionID(plan.Action)

	if isPostNotice(actionID, plan.Action) {
		if sq := e.tmap.Square(); sq != nil && c.CurrentLocation == sq.Name {
			sq.PostNotice(townmap.Notice{
				Content:   plan.Dialogue,
				Author:    c.Profile.Name,
				CreatedAt: e.clock.Timestamp(),
			})
			e.logger.Printf("notice posted by %s: %s", c.Profile.Name, plan.Dialogue)
		}
	}

	c.Status = plan.Action + " (" + plan.Dialogue + ")"
	c.Emoji = plan.Emoji
	c.LastActionID = actionID
	c.BusyUntil = now.Add(time.Duration(plan.Duration) * time.Minute)

	e.logger.Printf("%s: %s @ %s for %dm | dialogue: %s",
		c.Profile.Name, plan.Action, plan.TargetLocation, plan.Duration, plan.Dialogue)

	e.emit(eventlog.NewPlanEvent(e.clock.Timestamp(), eventlog.PlanDetails{
		Character:      c.Profile.Name,
		Action:         plan.Action,
		TargetLocation: plan.TargetLocation,
		Dialogue:       plan.Dialogue,
		Emoji:          c.Emoji,
		Duration:       plan.Duration,
	}))

	// Long sleep closes out the day; compact memory once per calendar day.
	// The thinking flag stays up until the compaction result lands.
	if c.IsSleeping() && plan.Duration > 120 && c.LastOptimizedDate != e.clock.CalendarDay() {
		e.dispatchCompaction(c)
		return
	}

	c.IsThinking = false
}

// resolveActionID maps the model's action reference to a canonical act_* id.
// Unknown act_-shaped ids pass through; unresolvable free text yields "".
func (e *Engine) resolveActionID(action string) string {
	if strings.HasPrefix(action, "act_") {
		return action
	}
	if id := e.reg.Actions.IDFromName(action); id != "" {
		return id
	}
	if id := e.reg.Actions.IDFromEnglish(action); id != "" {
		return id
	}
	return ""
}

func isPostNotice(actionID, rawAction string) bool {
	return actionID == actions.PostNotice || strings.Contains(rawAction, "Post Notice")
}

type compactionResult struct {
	char *character.Character
	err  error
}

// dispatchCompaction runs the end-of-day memory review. The character's
// memory is mutated from the request goroutine; that is safe because the
// thinking flag keeps the tick loop from reading or pairing the character.
func (e *Engine) dispatchCompaction(c *character.Character) {
	date := e.clock.CalendarDay()
	svc := e.svc
	e.logger.Printf("optimizing memory for %s...", c.Profile.Name)
	e.dispatch(func() result {
		ctx, cancel := e.requestCtx()
		defer cancel()
		return compactionResult{char: c, err: c.OptimizeMemory(ctx, svc, date)}
	})
}

func (r compactionResult) apply(e *Engine) {
	if r.err != nil {
		e.logger.Printf("memory optimization for %s failed: %v", r.char.Profile.Name, r.err)
	}
	r.char.IsThinking = false
}
