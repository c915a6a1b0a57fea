package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/llm"
	"tinytown.ai/internal/sim/actions"
	"tinytown.ai/internal/sim/character"
)

type convResult struct {
	id       string
	c1, c2   *character.Character
	content1 string
	content2 string
	location string
}

// dispatchConversation runs a two-sided exchange: the first speaker's line is
// generated, then fed into the second speaker's prompt. All world state the
// request needs is snapshotted here.
func (e *Engine) dispatchConversation(c1, c2 *character.Character) {
	convID := uuid.NewString()[:8]
	e.logger.Printf("[conv %s] %s starts talking with %s", convID, c1.Profile.Name, c2.Profile.Name)

	c1.IsThinking = true
	c2.IsThinking = true
	c1.Status = "正在与 " + c2.Profile.Name + " 交谈..."
	c2.Status = "正在与 " + c1.Profile.Name + " 交谈..."

	locationsCtx := locationsContext(e.reg, e.tmap)
	othersCtx1 := charactersContext(e.reg, e.chars, c1)
	othersCtx2 := charactersContext(e.reg, e.chars, c2)

	date, timeOfDay, stamp := e.clock.DateString(), e.clock.TimeString(), e.clock.Timestamp()
	location := c1.CurrentLocation
	locationID := c1.CurrentLocationID

	system1 := dialogueSystemPrompt(c1.Profile.Name, c1.ID,
		c1.Profile.Personality, c1.Profile.Relationships, locationsCtx, othersCtx1)
	system2 := dialogueSystemPrompt(c2.Profile.Name, c2.ID,
		c2.Profile.Personality, c2.Profile.Relationships, locationsCtx, othersCtx2)

	user1 := dialogueUserPrompt(date, timeOfDay, location, locationID,
		c2.Profile.Name,
		fmt.Sprintf("You met %s at %s. It is %s.", c2.Profile.Name, location, stamp),
		strings.Join(c1.Memory, "\n"))

	// The second prompt depends on the first reply and is built in-flight.
	name1 := c1.Profile.Name
	memory2 := strings.Join(c2.Memory, "\n")

	client1, client2 := e.clientFor(c1), e.clientFor(c2)

	e.dispatch(func() result {
		res := convResult{id: convID, c1: c1, c2: c2, location: location}

		res.content1 = e.converse(client1, system1, user1)

		user2 := dialogueUserPrompt(date, timeOfDay, location, locationID,
			name1,
			fmt.Sprintf("You met %s at %s. %s said: '%s'", name1, location, name1, res.content1),
			memory2)
		res.content2 = e.converse(client2, system2, user2)
		return res
	})
}

// converse performs one dialogue completion. Any failure degrades to the
// ellipsis placeholder rather than aborting the exchange.
func (e *Engine) converse(client llm.Service, system, user string) string {
	ctx, cancel := e.requestCtx()
	defer cancel()
	raw, err := client.JSONCompletion(ctx, system, user)
	if err != nil {
		e.logger.Printf("dialogue request failed: %v", err)
		return "..."
	}
	content, err := ValidateDialogue(raw, e.reg)
	if err != nil {
		e.logger.Printf("dialogue response invalid: %v", err)
		return "..."
	}
	return content
}

func (r convResult) apply(e *Engine) {
	c1, c2 := r.c1, r.c2
	now := e.clock.Now()
	stamp := e.clock.Timestamp()

	c1.Status = "对 " + c2.Profile.Name + " 说: " + r.content1
	c2.Status = "回复 " + c1.Profile.Name + " 说: " + r.content2
	c1.LastActionID = actions.Chat
	c2.LastActionID = actions.Chat

	e.logger.Printf("[conv %s] %s: %s", r.id, c1.Profile.Name, r.content1)
	e.logger.Printf("[conv %s] %s: %s", r.id, c2.Profile.Name, r.content2)

	e.emit(eventlog.NewDialogueEvent(stamp, eventlog.DialogueDetails{
		Participants: []string{c1.Profile.Name, c2.Profile.Name},
		Messages: []eventlog.DialogueMessage{
			{Speaker: c1.Profile.Name, Content: r.content1},
			{Speaker: c2.Profile.Name, Content: r.content2},
		},
		Location: r.location,
	}))

	c1.AddMemory(fmt.Sprintf("[%s] I chatted with %s. I said: '%s'. They replied: '%s'.",
		stamp, c2.Profile.Name, r.content1, r.content2))
	c2.AddMemory(fmt.Sprintf("[%s] I chatted with %s. They said: '%s'. I replied: '%s'.",
		stamp, c1.Profile.Name, r.content1, r.content2))

	busy := now.Add(time.Duration(e.cfg.ConversationBusyMinutes) * time.Minute)
	c1.BusyUntil = busy
	c2.BusyUntil = busy

	c1.IsThinking = false
	c2.IsThinking = false
}
